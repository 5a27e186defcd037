package bridge

import (
	"encoding/json"
	"time"

	"github.com/alwitt/wsbridge/broker"
)

// EnvelopeType wire value of the envelope "type" field
type EnvelopeType string

// Envelope types exchanged with the browser clients
const (
	TypeWelcome   EnvelopeType = "welcome"
	TypeEcho      EnvelopeType = "echo"
	TypeBroadcast EnvelopeType = "broadcast"
	// TypeUserMessage is set by browser clients on the frames they send. The gateway
	// relays those frames unchanged and never emits this type itself.
	TypeUserMessage   EnvelopeType = "user"
	TypeBrokerMessage EnvelopeType = "kafka-message"
	TypeBrokerSent    EnvelopeType = "kafka-sent"
	TypeBrokerError   EnvelopeType = "kafka-error"
	TypeParseError    EnvelopeType = "error"
)

const (
	welcomeText       = "Connected to wsbridge gateway"
	parseErrorText    = "Invalid JSON format"
	publishFailedText = "Failed to send message to broker"
	invalidTopicText  = "Invalid topic name"
	clientSenderName  = "websocket-client"
)

// timestampLayout RFC3339 with millisecond precision
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Envelope one JSON text frame sent to a client
type Envelope struct {
	Type            EnvelopeType    `json:"type"`
	Message         json.RawMessage `json:"message,omitempty"`
	OriginalMessage json.RawMessage `json:"originalMessage,omitempty"`
	Error           string          `json:"error,omitempty"`
	Topic           string          `json:"topic,omitempty"`
	Partition       *int32          `json:"partition,omitempty"`
	Offset          string          `json:"offset,omitempty"`
	Timestamp       string          `json:"timestamp"`
}

// Encode serialize the envelope into a text frame
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(timestampLayout)
}

func quoted(text string) json.RawMessage {
	encoded, _ := json.Marshal(text)
	return encoded
}

func newWelcome(now time.Time) Envelope {
	return Envelope{Type: TypeWelcome, Message: quoted(welcomeText), Timestamp: formatTimestamp(now)}
}

func newParseError(now time.Time) Envelope {
	return Envelope{
		Type: TypeParseError, Message: quoted(parseErrorText), Timestamp: formatTimestamp(now),
	}
}

func newEcho(original json.RawMessage, now time.Time) Envelope {
	return Envelope{Type: TypeEcho, OriginalMessage: original, Timestamp: formatTimestamp(now)}
}

func newBroadcast(original json.RawMessage, now time.Time) Envelope {
	return Envelope{Type: TypeBroadcast, Message: original, Timestamp: formatTimestamp(now)}
}

func newBrokerSent(original json.RawMessage, topic string, now time.Time) Envelope {
	return Envelope{
		Type:            TypeBrokerSent,
		OriginalMessage: original,
		Topic:           topic,
		Timestamp:       formatTimestamp(now),
	}
}

func newBrokerError(original json.RawMessage, reason string, now time.Time) Envelope {
	return Envelope{
		Type:            TypeBrokerError,
		Error:           reason,
		OriginalMessage: original,
		Timestamp:       formatTimestamp(now),
	}
}

// newBrokerMessage convert a broker record into a client envelope
//
// A JSON value is embedded as is, any other value is sent as a string, and an absent
// value becomes null.
func newBrokerMessage(rec broker.Record) Envelope {
	var message json.RawMessage
	switch {
	case rec.Value == nil:
		message = json.RawMessage("null")
	case json.Valid(rec.Value):
		message = json.RawMessage(rec.Value)
	default:
		message = quoted(string(rec.Value))
	}
	partition := rec.Partition
	return Envelope{
		Type:      TypeBrokerMessage,
		Topic:     rec.Topic,
		Message:   message,
		Partition: &partition,
		Offset:    rec.Offset,
		Timestamp: formatTimestamp(time.UnixMilli(rec.TimestampMillis)),
	}
}

// publishTopic the topic a client payload asks to be published to, if any
func publishTopic(payload interface{}) (string, bool) {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return "", false
	}
	topic, ok := obj["topic"].(string)
	if !ok || topic == "" {
		return "", false
	}
	return topic, true
}

// clientRecord the record published on behalf of a client payload
func clientRecord(payload interface{}, now time.Time) map[string]interface{} {
	var content interface{}
	if obj, ok := payload.(map[string]interface{}); ok {
		content = obj["message"]
	}
	return map[string]interface{}{
		"content":   content,
		"sender":    clientSenderName,
		"timestamp": formatTimestamp(now),
	}
}

package bridge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alwitt/wsbridge/broker"
	"github.com/stretchr/testify/assert"
)

func decodeEnvelope(t *testing.T, env Envelope) map[string]interface{} {
	encoded, err := env.Encode()
	assert.Nil(t, err)
	result := map[string]interface{}{}
	assert.Nil(t, json.Unmarshal(encoded, &result))
	return result
}

func TestBrokerMessageEnvelope(t *testing.T) {
	assert := assert.New(t)

	ts := time.Date(2024, 3, 1, 12, 30, 45, 123000000, time.UTC)

	// Case 0: JSON value
	{
		decoded := decodeEnvelope(t, newBrokerMessage(broker.Record{
			Topic:           "messages",
			Partition:       1,
			Offset:          "17",
			TimestampMillis: ts.UnixMilli(),
			Value:           []byte(`{"a":1}`),
		}))
		assert.Equal("kafka-message", decoded["type"])
		assert.Equal("messages", decoded["topic"])
		assert.EqualValues(map[string]interface{}{"a": 1.0}, decoded["message"])
		assert.Equal(1.0, decoded["partition"])
		assert.Equal("17", decoded["offset"])
		assert.Equal("2024-03-01T12:30:45.123Z", decoded["timestamp"])
	}

	// Case 1: value which is not JSON
	{
		decoded := decodeEnvelope(t, newBrokerMessage(broker.Record{
			Topic: "messages", Offset: "0", Value: []byte("plain text"),
		}))
		assert.Equal("plain text", decoded["message"])
		assert.Equal(0.0, decoded["partition"])
	}

	// Case 2: no value
	{
		decoded := decodeEnvelope(t, newBrokerMessage(broker.Record{Topic: "messages", Offset: "3"}))
		message, ok := decoded["message"]
		assert.True(ok)
		assert.Nil(message)
	}
}

func TestClientEnvelopes(t *testing.T) {
	assert := assert.New(t)

	now := time.Now()
	original := json.RawMessage(`{"topic": "messages", "message": "hi"}`)

	{
		decoded := decodeEnvelope(t, newWelcome(now))
		assert.Equal("welcome", decoded["type"])
		assert.Equal(welcomeText, decoded["message"])
		assert.NotEmpty(decoded["timestamp"])
	}
	{
		decoded := decodeEnvelope(t, newParseError(now))
		assert.Equal("error", decoded["type"])
		assert.Equal("Invalid JSON format", decoded["message"])
	}
	{
		decoded := decodeEnvelope(t, newEcho(original, now))
		assert.Equal("echo", decoded["type"])
		assert.EqualValues(
			map[string]interface{}{"topic": "messages", "message": "hi"}, decoded["originalMessage"],
		)
		_, hasMessage := decoded["message"]
		assert.False(hasMessage)
	}
	{
		decoded := decodeEnvelope(t, newBroadcast(original, now))
		assert.Equal("broadcast", decoded["type"])
		assert.EqualValues(
			map[string]interface{}{"topic": "messages", "message": "hi"}, decoded["message"],
		)
	}
	{
		decoded := decodeEnvelope(t, newBrokerSent(original, "messages", now))
		assert.Equal("kafka-sent", decoded["type"])
		assert.Equal("messages", decoded["topic"])
	}
	{
		decoded := decodeEnvelope(t, newBrokerError(original, publishFailedText, now))
		assert.Equal("kafka-error", decoded["type"])
		assert.Equal(publishFailedText, decoded["error"])
		assert.NotNil(decoded["originalMessage"])
	}
	{
		decoded := decodeEnvelope(t, newBrokerError(original, invalidTopicText, now))
		assert.Equal("kafka-error", decoded["type"])
		assert.Equal(invalidTopicText, decoded["error"])
	}
}

func TestPublishTopic(t *testing.T) {
	assert := assert.New(t)

	parse := func(raw string) interface{} {
		var payload interface{}
		assert.Nil(json.Unmarshal([]byte(raw), &payload))
		return payload
	}

	topic, ok := publishTopic(parse(`{"topic":"messages","message":"hi"}`))
	assert.True(ok)
	assert.Equal("messages", topic)

	_, ok = publishTopic(parse(`{"message":"hi"}`))
	assert.False(ok)
	_, ok = publishTopic(parse(`{"topic":""}`))
	assert.False(ok)
	_, ok = publishTopic(parse(`{"topic":12}`))
	assert.False(ok)
	_, ok = publishTopic(parse(`["messages"]`))
	assert.False(ok)
	_, ok = publishTopic(parse(`"messages"`))
	assert.False(ok)

	record := clientRecord(parse(`{"topic":"messages","message":{"x":1}}`), time.Now())
	assert.Equal("websocket-client", record["sender"])
	assert.EqualValues(map[string]interface{}{"x": 1.0}, record["content"])
	assert.NotEmpty(record["timestamp"])
}

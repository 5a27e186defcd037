package broker

import (
	"encoding/json"
)

// EncodePayload serialize a payload for publishing.
//
// Strings and raw bytes pass through unchanged, everything else is JSON encoded.
func EncodePayload(payload interface{}) ([]byte, error) {
	switch v := payload.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}

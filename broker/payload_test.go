package broker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodePayload(t *testing.T) {
	assert := assert.New(t)

	// Strings pass through without JSON quoting
	{
		encoded, err := EncodePayload("hello world")
		assert.Nil(err)
		assert.Equal("hello world", string(encoded))
	}
	{
		encoded, err := EncodePayload([]byte{0x01, 0x02})
		assert.Nil(err)
		assert.Equal([]byte{0x01, 0x02}, encoded)
	}
	{
		encoded, err := EncodePayload(json.RawMessage(`{"a":1}`))
		assert.Nil(err)
		assert.Equal(`{"a":1}`, string(encoded))
	}
	// Everything else is JSON
	{
		encoded, err := EncodePayload(map[string]interface{}{"content": "hi", "n": 2})
		assert.Nil(err)
		assert.JSONEq(`{"content":"hi","n":2}`, string(encoded))
	}
	{
		encoded, err := EncodePayload(42)
		assert.Nil(err)
		assert.Equal("42", string(encoded))
	}
	{
		_, err := EncodePayload(make(chan int))
		assert.NotNil(err)
	}
}

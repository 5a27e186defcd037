package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewKafkaClient(t *testing.T) {
	assert := assert.New(t)

	// Case 0: no seed brokers
	{
		_, err := NewKafkaClient(KafkaConnectParams{ClientID: "ut"})
		assert.NotNil(err)
	}

	// Case 1: client definition does not contact the brokers
	{
		params := KafkaConnectParams{
			SeedBrokers:            []string{"127.0.0.1:1"},
			ClientID:               "ut",
			DialTimeout:            time.Second,
			MaxRetries:             2,
			RetryBackoff:           time.Millisecond * 10,
			AllowAutoTopicCreation: true,
		}
		client, err := NewKafkaClient(params)
		assert.Nil(err)
		assert.NotNil(client)
		client.Close()
	}
}

package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alwitt/wsbridge/common"
	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

func TestConvertKafkaRecord(t *testing.T) {
	assert := assert.New(t)

	ts := time.UnixMilli(1700000000123)
	rec := &kgo.Record{
		Topic:     "messages",
		Partition: 2,
		Offset:    42,
		Timestamp: ts,
		Key:       []byte("k"),
		Value:     []byte(`{"a":1}`),
		Headers:   []kgo.RecordHeader{{Key: "trace", Value: []byte("abc")}},
	}
	converted := convertKafkaRecord(rec)
	assert.Equal("messages", converted.Topic)
	assert.EqualValues(2, converted.Partition)
	assert.Equal("42", converted.Offset)
	assert.EqualValues(1700000000123, converted.TimestampMillis)
	assert.Equal("k", string(converted.Key))
	assert.Equal(`{"a":1}`, string(converted.Value))
	assert.Equal("abc", string(converted.Headers["trace"]))

	// No key or value
	converted = convertKafkaRecord(&kgo.Record{Topic: "messages", Timestamp: ts})
	assert.Nil(converted.Key)
	assert.Nil(converted.Value)
	assert.Empty(converted.Headers)
}

func TestKafkaMetadataTopicNames(t *testing.T) {
	assert := assert.New(t)

	named := func(name string) *string { return &name }

	resp := kmsg.NewPtrMetadataResponse()
	for _, entry := range []struct {
		name     *string
		internal bool
		code     int16
	}{
		{name: named("notifications")},
		{name: named("__consumer_offsets"), internal: true},
		{name: named("messages")},
		{name: nil},
		{name: named("broken"), code: kerr.UnknownTopicOrPartition.Code},
	} {
		topic := kmsg.NewMetadataResponseTopic()
		topic.Topic = entry.name
		topic.IsInternal = entry.internal
		topic.ErrorCode = entry.code
		resp.Topics = append(resp.Topics, topic)
	}
	assert.EqualValues([]string{"messages", "notifications"}, topicNamesFromMetadata(resp))

	assert.EqualValues([]string{}, topicNamesFromMetadata(kmsg.NewPtrMetadataResponse()))
}

func TestKafkaCreateTopicResult(t *testing.T) {
	assert := assert.New(t)

	build := func(topic string, code int16) *kmsg.CreateTopicsResponse {
		resp := kmsg.NewPtrCreateTopicsResponse()
		entry := kmsg.NewCreateTopicsResponseTopic()
		entry.Topic = topic
		entry.ErrorCode = code
		resp.Topics = append(resp.Topics, entry)
		return resp
	}

	// Case 0: created
	assert.Nil(createTopicResult(build("messages", 0), "messages"))

	// Case 1: a concurrent creator won
	assert.Nil(createTopicResult(build("messages", kerr.TopicAlreadyExists.Code), "messages"))

	// Case 2: rejected
	{
		err := createTopicResult(build("messages", kerr.InvalidReplicationFactor.Code), "messages")
		assert.NotNil(err)
		assert.True(errors.Is(err, kerr.InvalidReplicationFactor))
	}

	// Case 3: response missing the topic
	assert.NotNil(createTopicResult(build("other", 0), "messages"))
}

func TestKafkaDriverNotConnected(t *testing.T) {
	assert := assert.New(t)

	utCtxt, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	uut := NewKafkaDriver(common.KafkaConfig{
		SeedBrokers:       []string{"localhost:9092"},
		ClientID:          "ut",
		DialTimeout:       1,
		AdminTimeout:      1,
		ReplicationFactor: 1,
		Retry:             common.KafkaRetryConfig{MaxAttempts: 1, BackoffMS: 10},
	})
	assert.Equal("kafka[localhost:9092]", uut.Describe())

	assert.True(errors.Is(uut.Produce(utCtxt, "messages", nil, []byte("x")), ErrNotConnected))
	_, err := uut.ListTopics(utCtxt)
	assert.True(errors.Is(err, ErrNotConnected))
	assert.True(errors.Is(uut.CreateTopic(utCtxt, "messages", 1), ErrNotConnected))
	assert.Nil(uut.Close(utCtxt))
}

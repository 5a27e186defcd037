package cmd

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/alwitt/wsbridge/common"
	"github.com/stretchr/testify/assert"
)

type mockTopicAdmin struct {
	topics    []string
	ensureErr error
	ensured   map[string]int
}

func (m *mockTopicAdmin) EnsureTopic(_ context.Context, topic string, partitions int) error {
	if m.ensureErr != nil {
		return m.ensureErr
	}
	m.ensured[topic] = partitions
	return nil
}

func (m *mockTopicAdmin) ListTopics(context.Context) []string {
	return m.topics
}

func TestTopicCommands(t *testing.T) {
	assert := assert.New(t)

	utCtxt := context.Background()
	admin := &mockTopicAdmin{topics: []string{"messages", "notifications"}, ensured: map[string]int{}}

	// Case 0: list
	{
		out := &bytes.Buffer{}
		assert.Nil(ListBrokerTopics(utCtxt, admin, out))
		assert.Equal("messages\nnotifications\n", out.String())
	}

	// Case 1: create
	{
		out := &bytes.Buffer{}
		assert.Nil(CreateBrokerTopic(utCtxt, admin, "audit", 4, out))
		assert.Equal(4, admin.ensured["audit"])
		assert.Contains(out.String(), "audit")
	}

	// Case 2: invalid requests
	{
		assert.NotNil(CreateBrokerTopic(utCtxt, admin, "bad name", 1, &bytes.Buffer{}))
		assert.NotNil(CreateBrokerTopic(utCtxt, admin, "orders", 0, &bytes.Buffer{}))
		assert.NotNil(CreateBrokerTopic(utCtxt, admin, "orders", 4294967297, &bytes.Buffer{}))
		_, ok := admin.ensured["orders"]
		assert.False(ok)
	}

	// Case 3: broker failure
	{
		admin.ensureErr = fmt.Errorf("dummy error")
		assert.NotNil(CreateBrokerTopic(utCtxt, admin, "orders", 1, &bytes.Buffer{}))
	}
}

func TestEnsureConfiguredTopics(t *testing.T) {
	assert := assert.New(t)

	utCtxt := context.Background()
	topics := []common.BrokerTopicConfig{
		{Name: "messages", Partitions: 3}, {Name: "notifications", Partitions: 1},
	}

	// Case 0: all topics ensured
	{
		admin := &mockTopicAdmin{ensured: map[string]int{}}
		assert.Nil(EnsureConfiguredTopics(utCtxt, admin, topics))
		assert.Equal(map[string]int{"messages": 3, "notifications": 1}, admin.ensured)
	}

	// Case 1: failure
	{
		admin := &mockTopicAdmin{ensured: map[string]int{}, ensureErr: fmt.Errorf("dummy error")}
		assert.NotNil(EnsureConfiguredTopics(utCtxt, admin, topics))
	}
}

func TestDefineBrokerClient(t *testing.T) {
	assert := assert.New(t)

	config := common.BrokerConfig{
		Kafka: common.KafkaConfig{SeedBrokers: []string{"localhost:9092"}, ClientID: "unit-test"},
		NATS:  common.NATSConfig{ServerURI: "nats://127.0.0.1:4222"},
	}

	// Case 0: supported backends
	for _, brokerType := range []string{"kafka", "nats"} {
		config.Type = brokerType
		client, err := DefineBrokerClient(config, "unit-test", nil)
		assert.Nil(err)
		assert.NotNil(client)
		assert.False(client.IsConnected())
	}

	// Case 1: unknown backend
	{
		config.Type = "rabbitmq"
		_, err := DefineBrokerClient(config, "unit-test", nil)
		assert.NotNil(err)
	}
}

package cmd

import (
	"context"
	"fmt"

	"github.com/alwitt/wsbridge/broker"
	"github.com/alwitt/wsbridge/common"
)

// DefineBrokerClient define the broker client for the configured backend
func DefineBrokerClient(
	config common.BrokerConfig, instance string, observer broker.Observer,
) (*broker.Client, error) {
	var driver broker.Driver
	switch config.Type {
	case "kafka":
		driver = broker.NewKafkaDriver(config.Kafka)
	case "nats":
		driver = broker.NewJetStreamDriver(config.NATS)
	default:
		return nil, fmt.Errorf("unsupported broker type %s", config.Type)
	}
	return broker.NewClient(driver, instance, observer), nil
}

// EnsureConfiguredTopics create every configured topic which does not exist yet
//
// Stops at the first failure.
func EnsureConfiguredTopics(
	ctxt context.Context, admin TopicAdmin, topics []common.BrokerTopicConfig,
) error {
	for _, topic := range topics {
		if err := admin.EnsureTopic(ctxt, topic.Name, topic.Partitions); err != nil {
			return err
		}
	}
	return nil
}

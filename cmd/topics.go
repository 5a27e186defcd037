package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/alwitt/wsbridge/common"
	"github.com/apex/log"
)

// TopicAdmin topic administration operations
type TopicAdmin interface {
	EnsureTopic(ctxt context.Context, topic string, partitions int) error
	ListTopics(ctxt context.Context) []string
}

// ListBrokerTopics write the broker topics to out, one per line
func ListBrokerTopics(ctxt context.Context, admin TopicAdmin, out io.Writer) error {
	for _, topic := range admin.ListTopics(ctxt) {
		if _, err := fmt.Fprintln(out, topic); err != nil {
			return err
		}
	}
	return nil
}

// CreateBrokerTopic create a topic if absent
func CreateBrokerTopic(
	ctxt context.Context, admin TopicAdmin, topic string, partitions int, out io.Writer,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "topics",
		"instance":  topic,
	}
	if err := common.ValidateTopicName(topic); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid topic name")
		return err
	}
	if err := common.ValidatePartitionCount(partitions); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid partition count")
		return err
	}
	if err := admin.EnsureTopic(ctxt, topic, partitions); err != nil {
		log.WithError(err).WithFields(logTags).Error("Topic creation failed")
		return err
	}
	_, err := fmt.Fprintf(out, "Topic %q created or already exists\n", topic)
	return err
}

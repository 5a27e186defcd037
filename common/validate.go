package common

import (
	"fmt"
	"math"
	"regexp"
)

// maxTopicNameLength is the Kafka limit on topic name length
const maxTopicNameLength = 249

// MaxTopicPartitions is the largest partition count a CreateTopics request can carry
const MaxTopicPartitions = math.MaxInt32

var topicNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateTopicName verify a topic name is acceptable to a Kafka compatible broker
func ValidateTopicName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("topic name is empty")
	}
	if len(name) > maxTopicNameLength {
		return fmt.Errorf("topic name longer than %d characters", maxTopicNameLength)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("topic name can not be '%s'", name)
	}
	if !topicNameRegex.MatchString(name) {
		return fmt.Errorf("topic name '%s' contains characters outside [a-zA-Z0-9._-]", name)
	}
	return nil
}

// ValidatePartitionCount verify a partition count is between 1 and MaxTopicPartitions
func ValidatePartitionCount(partitions int) error {
	if partitions < 1 || partitions > MaxTopicPartitions {
		return fmt.Errorf(
			"partition count must be between 1 and %d, got %d", MaxTopicPartitions, partitions,
		)
	}
	return nil
}

package broker

import (
	"context"
	"fmt"
)

// Record one record delivered by the broker to a consumer
type Record struct {
	Topic     string
	Partition int32
	// Offset is the record position within the partition, in string form so broker
	// backends without numeric offsets fit the same shape
	Offset string
	// TimestampMillis is the record timestamp in unix milliseconds
	TimestampMillis int64
	// Key is nil when the record has no key
	Key []byte
	// Value is nil when the record has no value
	Value   []byte
	Headers map[string][]byte
}

// String toString function
func (r Record) String() string {
	return fmt.Sprintf("%s[%d]@%s", r.Topic, r.Partition, r.Offset)
}

// RecordHandler callback invoked once per record delivered to a consumer group
type RecordHandler func(ctxt context.Context, record Record) error

package broker

import "context"

// Driver broker backend operations used by Client
type Driver interface {
	// Describe a short description of the backend, used in errors and logs
	Describe() string

	// Connect open the producer session
	Connect(ctxt context.Context) error

	// Close close the producer session
	Close(ctxt context.Context) error

	// Produce append one record to a topic, and wait for the broker acknowledgement
	Produce(ctxt context.Context, topic string, key, value []byte) error

	// ListTopics list the topics known to the broker
	ListTopics(ctxt context.Context) ([]string, error)

	// CreateTopic define a new topic. Creating an existing topic is not an error.
	CreateTopic(ctxt context.Context, topic string, partitions int) error

	// Subscribe join a consumer group on a set of topics, starting from the newest record.
	//
	// deliver is called once per record from the subscription goroutine, in delivery order.
	Subscribe(
		ctxt context.Context, groupID string, topics []string, deliver func(Record),
	) (Subscription, error)
}

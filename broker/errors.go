package broker

import (
	"errors"
	"fmt"
)

// ErrNotConnected the producer session is not established
var ErrNotConnected = errors.New("broker client is not connected")

// ConnectionError the broker could not be reached
type ConnectionError struct {
	// Broker is the broker backend description
	Broker string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to broker %s: %v", e.Broker, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PublishError one record could not be appended to a topic
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("unable to publish to topic %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// AdminError a topic administration request failed
type AdminError struct {
	// Operation is the failed operation, e.g. "list" or "create"
	Operation string
	Topic     string
	Err       error
}

func (e *AdminError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("topic %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("topic %s of %s failed: %v", e.Operation, e.Topic, e.Err)
}

func (e *AdminError) Unwrap() error { return e.Err }

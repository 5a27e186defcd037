// Copyright 2021-2022 The wsbridge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/alwitt/wsbridge/common"
	"github.com/apex/log"
)

// Observer receives the outcome of broker operations
type Observer interface {
	// RecordPublish called once per publish attempt
	RecordPublish(topic string, err error)
	// RecordDelivery called once per record handed to a consumer handler
	RecordDelivery(topic string, err error)
	// RecordConnectionState called when the producer session opens or closes
	RecordConnectionState(connected bool)
}

type nopObserver struct{}

func (nopObserver) RecordPublish(string, error)  {}
func (nopObserver) RecordDelivery(string, error) {}
func (nopObserver) RecordConnectionState(bool)   {}

// Client broker client adapter shared by the bridge, the REST handlers and the CLI
type Client struct {
	goutils.Component
	driver    Driver
	observer  Observer
	groups    *ConsumerGroupTable
	lock      sync.RWMutex
	connected bool
}

// NewClient define a new broker client on top of a backend driver
//
// observer may be nil.
func NewClient(driver Driver, instance string, observer Observer) *Client {
	logTags := log.Fields{
		"module":    "broker",
		"component": "client",
		"instance":  instance,
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Client{
		Component: goutils.Component{LogTags: logTags},
		driver:    driver,
		observer:  observer,
		groups:    NewConsumerGroupTable(),
	}
}

// Connect open the producer session. Calling Connect on a connected client does nothing.
func (c *Client) Connect(ctxt context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.connected {
		return nil
	}
	if err := c.driver.Connect(ctxt); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Failed to connect to %s", c.driver.Describe())
		return &ConnectionError{Broker: c.driver.Describe(), Err: err}
	}
	c.connected = true
	c.observer.RecordConnectionState(true)
	log.WithFields(c.LogTags).Infof("Connected to %s", c.driver.Describe())
	return nil
}

// Disconnect close every consumer subscription, then the producer session.
//
// Safe to call on a client which never connected, and safe to call repeatedly.
func (c *Client) Disconnect(ctxt context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.groups.CloseAll()
	if !c.connected {
		return nil
	}
	c.connected = false
	c.observer.RecordConnectionState(false)
	if err := c.driver.Close(ctxt); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Error closing %s", c.driver.Describe())
		return err
	}
	log.WithFields(c.LogTags).Infof("Disconnected from %s", c.driver.Describe())
	return nil
}

// IsConnected whether the producer session is open
func (c *Client) IsConnected() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.connected
}

// Publish append one record to a topic
//
// Strings and raw bytes are sent as is, other payloads are JSON encoded. key may be nil.
func (c *Client) Publish(
	ctxt context.Context, topic string, payload interface{}, key *string,
) error {
	err := c.publish(ctxt, topic, payload, key)
	c.observer.RecordPublish(topic, err)
	return err
}

func (c *Client) publish(
	ctxt context.Context, topic string, payload interface{}, key *string,
) error {
	if !c.IsConnected() {
		return &PublishError{Topic: topic, Err: ErrNotConnected}
	}
	value, err := EncodePayload(payload)
	if err != nil {
		return &PublishError{Topic: topic, Err: fmt.Errorf("payload encode failed: %w", err)}
	}
	var keyBytes []byte
	if key != nil {
		keyBytes = []byte(*key)
	}
	if err := c.driver.Produce(ctxt, topic, keyBytes, value); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Publish to %s failed", topic)
		return &PublishError{Topic: topic, Err: err}
	}
	log.WithFields(c.LogTags).Debugf("Published %d bytes to %s", len(value), topic)
	return nil
}

// EnsureTopic create a topic if the broker does not list it already
//
// Concurrent callers may both attempt creation; the driver tolerates the duplicate.
func (c *Client) EnsureTopic(ctxt context.Context, topic string, partitions int) error {
	if err := common.ValidatePartitionCount(partitions); err != nil {
		return &AdminError{Operation: "ensure", Topic: topic, Err: err}
	}
	if !c.IsConnected() {
		return &AdminError{Operation: "ensure", Topic: topic, Err: ErrNotConnected}
	}
	existing, err := c.driver.ListTopics(ctxt)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Unable to list topics")
		return &AdminError{Operation: "list", Err: err}
	}
	for _, name := range existing {
		if name == topic {
			log.WithFields(c.LogTags).Debugf("Topic %s already exists", topic)
			return nil
		}
	}
	if err := c.driver.CreateTopic(ctxt, topic, partitions); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Unable to create topic %s", topic)
		return &AdminError{Operation: "create", Topic: topic, Err: err}
	}
	log.WithFields(c.LogTags).Infof("Created topic %s with %d partitions", topic, partitions)
	return nil
}

// ListTopics list the broker topics. Any failure produces an empty list.
func (c *Client) ListTopics(ctxt context.Context) []string {
	if !c.IsConnected() {
		return []string{}
	}
	topics, err := c.driver.ListTopics(ctxt)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Unable to list topics")
		return []string{}
	}
	if topics == nil {
		return []string{}
	}
	return topics
}

// RegisterConsumer subscribe a consumer group to topics, delivering only new records
//
// A group ID which is already registered is left unchanged. handler is called once per
// record; a failing or panicking handler does not stop the subscription. ctxt is passed
// to every handler call.
func (c *Client) RegisterConsumer(
	ctxt context.Context, groupID string, topics []string, handler RecordHandler,
) error {
	created, err := c.groups.Register(groupID, func() (Subscription, error) {
		return c.driver.Subscribe(ctxt, groupID, topics, func(rec Record) {
			c.deliver(ctxt, groupID, handler, rec)
		})
	})
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf(
			"Unable to register consumer group %s", groupID,
		)
		return &ConnectionError{Broker: c.driver.Describe(), Err: err}
	}
	if created {
		log.WithFields(c.LogTags).Infof("Consumer group %s subscribed to %v", groupID, topics)
	} else {
		log.WithFields(c.LogTags).Debugf("Consumer group %s already registered", groupID)
	}
	return nil
}

// ConsumerGroups list the registered consumer groups
func (c *Client) ConsumerGroups() []string {
	return c.groups.Groups()
}

func (c *Client) deliver(
	ctxt context.Context, groupID string, handler RecordHandler, rec Record,
) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil {
			log.WithError(err).WithFields(c.LogTags).Errorf(
				"Consumer group %s failed to process %s", groupID, rec.String(),
			)
		}
		c.observer.RecordDelivery(rec.Topic, err)
	}()
	err = handler(ctxt, rec)
}

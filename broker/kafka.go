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
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/wsbridge/common"
	"github.com/alwitt/wsbridge/core"
	"github.com/apex/log"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// KafkaDriver Kafka backend built on franz-go
type KafkaDriver struct {
	goutils.Component
	params            core.KafkaConnectParams
	replicationFactor int16
	adminTimeout      time.Duration
	lock              sync.Mutex
	producer          *kgo.Client
}

// NewKafkaDriver define a new Kafka backend from config
func NewKafkaDriver(cfg common.KafkaConfig) *KafkaDriver {
	logTags := log.Fields{
		"module":    "broker",
		"component": "kafka-driver",
		"instance":  cfg.ClientID,
	}
	return &KafkaDriver{
		Component: goutils.Component{LogTags: logTags},
		params: core.KafkaConnectParams{
			SeedBrokers:            cfg.SeedBrokers,
			ClientID:               cfg.ClientID,
			DialTimeout:            time.Second * time.Duration(cfg.DialTimeout),
			MaxRetries:             cfg.Retry.MaxAttempts,
			RetryBackoff:           time.Millisecond * time.Duration(cfg.Retry.BackoffMS),
			AllowAutoTopicCreation: cfg.AutoCreateTopics,
		},
		replicationFactor: int16(cfg.ReplicationFactor),
		adminTimeout:      time.Second * time.Duration(cfg.AdminTimeout),
	}
}

// Describe a short description of the backend
func (d *KafkaDriver) Describe() string {
	return fmt.Sprintf("kafka%v", d.params.SeedBrokers)
}

// Connect open the producer client and verify a broker is reachable
func (d *KafkaDriver) Connect(ctxt context.Context) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.producer != nil {
		return nil
	}
	client, err := core.NewKafkaClient(d.params)
	if err != nil {
		return err
	}
	if err := client.Ping(ctxt); err != nil {
		client.Close()
		return err
	}
	d.producer = client
	return nil
}

// Close close the producer client
func (d *KafkaDriver) Close(ctxt context.Context) error {
	d.lock.Lock()
	client := d.producer
	d.producer = nil
	d.lock.Unlock()
	if client == nil {
		return nil
	}
	if err := client.Flush(ctxt); err != nil {
		log.WithError(err).WithFields(d.LogTags).Error("Producer flush failed")
	}
	client.Close()
	return nil
}

func (d *KafkaDriver) client() (*kgo.Client, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.producer == nil {
		return nil, ErrNotConnected
	}
	return d.producer, nil
}

// Produce append one record and wait for the broker acknowledgement
func (d *KafkaDriver) Produce(ctxt context.Context, topic string, key, value []byte) error {
	client, err := d.client()
	if err != nil {
		return err
	}
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	return client.ProduceSync(ctxt, rec).FirstErr()
}

// ListTopics list the non-internal topics through a metadata request
func (d *KafkaDriver) ListTopics(ctxt context.Context) ([]string, error) {
	client, err := d.client()
	if err != nil {
		return nil, err
	}
	req := kmsg.NewPtrMetadataRequest()
	resp, err := req.RequestWith(ctxt, client)
	if err != nil {
		return nil, err
	}
	return topicNamesFromMetadata(resp), nil
}

func topicNamesFromMetadata(resp *kmsg.MetadataResponse) []string {
	result := []string{}
	for _, topic := range resp.Topics {
		if topic.Topic == nil || topic.IsInternal || topic.ErrorCode != 0 {
			continue
		}
		result = append(result, *topic.Topic)
	}
	sort.Strings(result)
	return result
}

// CreateTopic define a new topic. TOPIC_ALREADY_EXISTS is treated as success.
func (d *KafkaDriver) CreateTopic(ctxt context.Context, topic string, partitions int) error {
	client, err := d.client()
	if err != nil {
		return err
	}
	req := kmsg.NewPtrCreateTopicsRequest()
	req.TimeoutMillis = int32(d.adminTimeout.Milliseconds())
	reqTopic := kmsg.NewCreateTopicsRequestTopic()
	reqTopic.Topic = topic
	reqTopic.NumPartitions = int32(partitions)
	reqTopic.ReplicationFactor = d.replicationFactor
	req.Topics = append(req.Topics, reqTopic)

	resp, err := req.RequestWith(ctxt, client)
	if err != nil {
		return err
	}
	return createTopicResult(resp, topic)
}

func createTopicResult(resp *kmsg.CreateTopicsResponse, topic string) error {
	for _, entry := range resp.Topics {
		if entry.Topic != topic {
			continue
		}
		err := kerr.ErrorForCode(entry.ErrorCode)
		if err == nil || errors.Is(err, kerr.TopicAlreadyExists) {
			return nil
		}
		if entry.ErrorMessage != nil {
			return fmt.Errorf("%w: %s", err, *entry.ErrorMessage)
		}
		return err
	}
	return fmt.Errorf("create topics response did not include %s", topic)
}

// Subscribe join a consumer group with a dedicated client, starting at the end of
// each partition
func (d *KafkaDriver) Subscribe(
	ctxt context.Context, groupID string, topics []string, deliver func(Record),
) (Subscription, error) {
	client, err := core.NewKafkaClient(
		d.params,
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return nil, err
	}
	logTags := log.Fields{
		"module":    "broker",
		"component": "kafka-consumer",
		"instance":  groupID,
	}
	// The poll loop outlives the registration call
	pollCtxt, cancel := context.WithCancel(context.Background())
	sub := &kafkaSubscription{
		Component: goutils.Component{LogTags: logTags},
		client:    client,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go sub.pollLoop(pollCtxt, deliver)
	return sub, nil
}

type kafkaSubscription struct {
	goutils.Component
	client    *kgo.Client
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (s *kafkaSubscription) pollLoop(ctxt context.Context, deliver func(Record)) {
	defer close(s.done)
	log.WithFields(s.LogTags).Info("Starting poll loop")
	defer log.WithFields(s.LogTags).Info("Poll loop exited")
	for {
		fetches := s.client.PollFetches(ctxt)
		if fetches.IsClientClosed() || ctxt.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			log.WithError(err).WithFields(s.LogTags).Errorf("Fetch error on %s[%d]", topic, partition)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			deliver(convertKafkaRecord(rec))
		})
	}
}

// Close stop the poll loop, then leave the group
func (s *kafkaSubscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.client.Close()
	})
}

func convertKafkaRecord(rec *kgo.Record) Record {
	headers := make(map[string][]byte, len(rec.Headers))
	for _, header := range rec.Headers {
		headers[header.Key] = header.Value
	}
	return Record{
		Topic:           rec.Topic,
		Partition:       rec.Partition,
		Offset:          strconv.FormatInt(rec.Offset, 10),
		TimestampMillis: rec.Timestamp.UnixMilli(),
		Key:             rec.Key,
		Value:           rec.Value,
		Headers:         headers,
	}
}

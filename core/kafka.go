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

package core

import (
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaConnectParams Kafka connection parameter
type KafkaConnectParams struct {
	// SeedBrokers bootstrap broker addresses
	SeedBrokers []string `validate:"required,min=1"`
	// ClientID client ID reported to the brokers
	ClientID string `validate:"required"`
	// DialTimeout max time to wait for a broker connection
	DialTimeout time.Duration
	// MaxRetries max number of retries for a failed request
	MaxRetries int
	// RetryBackoff fixed wait between retries
	RetryBackoff time.Duration
	// AllowAutoTopicCreation whether producing to an unknown topic may create it
	AllowAutoTopicCreation bool
}

// options convert the connection parameters into franz-go client options
func (p KafkaConnectParams) options() []kgo.Opt {
	backoff := p.RetryBackoff
	opts := []kgo.Opt{
		kgo.SeedBrokers(p.SeedBrokers...),
		kgo.ClientID(p.ClientID),
		kgo.RequestRetries(p.MaxRetries),
		kgo.RetryBackoffFn(func(int) time.Duration { return backoff }),
	}
	if p.DialTimeout > 0 {
		opts = append(opts, kgo.DialTimeout(p.DialTimeout))
	}
	if p.AllowAutoTopicCreation {
		opts = append(opts, kgo.AllowAutoTopicCreation())
	}
	return opts
}

// NewKafkaClient define a new franz-go client
//
// The returned client is lazy: no broker connection is opened until the first request.
// Additional options, such as consumer group settings, are appended after the
// connection parameters.
func NewKafkaClient(param KafkaConnectParams, extra ...kgo.Opt) (*kgo.Client, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "kafka-backend",
		"instance":  fmt.Sprintf("%v", param.SeedBrokers),
	}
	if len(param.SeedBrokers) == 0 {
		err := fmt.Errorf("at least one seed broker address is required")
		log.WithError(err).WithFields(logTags).Error("Unable to define Kafka client")
		return nil, err
	}
	client, err := kgo.NewClient(append(param.options(), extra...)...)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define Kafka client")
		return nil, err
	}
	log.WithFields(logTags).Debug("Defined Kafka client")
	return client, nil
}

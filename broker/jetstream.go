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
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/wsbridge/common"
	"github.com/alwitt/wsbridge/core"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// jetStreamKeyHeader carries the record key, JetStream messages have no native key
const jetStreamKeyHeader = "Wsbridge-Key"

// JetStreamDriver NATS JetStream backend
//
// A topic maps to a stream collecting one subject of the same name. Partition
// counts do not apply and are ignored.
type JetStreamDriver struct {
	goutils.Component
	params core.NATSConnectParams
	lock   sync.Mutex
	nats   *core.NatsClient
}

// NewJetStreamDriver define a new JetStream backend from config
func NewJetStreamDriver(cfg common.NATSConfig) *JetStreamDriver {
	logTags := log.Fields{
		"module":    "broker",
		"component": "jetstream-driver",
		"instance":  cfg.ServerURI,
	}
	driver := &JetStreamDriver{
		Component: goutils.Component{LogTags: logTags},
		params: core.NATSConnectParams{
			ServerURI:           cfg.ServerURI,
			ClientName:          "wsbridge",
			ConnectTimeout:      time.Second * time.Duration(cfg.ConnectTimeout),
			MaxReconnectAttempt: cfg.Reconnect.MaxAttempts,
			ReconnectWait:       time.Second * time.Duration(cfg.Reconnect.WaitInterval),
		},
	}
	driver.params.OnDisconnectCallback = func(_ *nats.Conn, err error) {
		log.WithError(err).WithFields(logTags).Error("NATS connection lost")
	}
	driver.params.OnReconnectCallback = func(_ *nats.Conn) {
		log.WithFields(logTags).Info("NATS connection restored")
	}
	return driver
}

// Describe a short description of the backend
func (d *JetStreamDriver) Describe() string {
	return fmt.Sprintf("jetstream[%s]", d.params.ServerURI)
}

// Connect open the NATS connection and JetStream context
func (d *JetStreamDriver) Connect(_ context.Context) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.nats != nil {
		return nil
	}
	client, err := core.GetJetStream(d.params)
	if err != nil {
		return err
	}
	d.nats = client
	return nil
}

// Close flush and close the NATS connection
func (d *JetStreamDriver) Close(ctxt context.Context) error {
	d.lock.Lock()
	client := d.nats
	d.nats = nil
	d.lock.Unlock()
	if client != nil {
		client.Close(ctxt)
	}
	return nil
}

func (d *JetStreamDriver) jetStream() (nats.JetStreamContext, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.nats == nil || !d.nats.Connected() {
		return nil, ErrNotConnected
	}
	return d.nats.JetStream(), nil
}

// streamName JetStream stream names may not contain '.', '*', '>' or whitespace
func streamName(topic string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, topic)
}

// Produce publish one message and wait for the stream acknowledgement
func (d *JetStreamDriver) Produce(ctxt context.Context, topic string, key, value []byte) error {
	js, err := d.jetStream()
	if err != nil {
		return err
	}
	msg := nats.NewMsg(topic)
	msg.Data = value
	if key != nil {
		msg.Header.Set(jetStreamKeyHeader, string(key))
	}
	_, err = js.PublishMsg(msg, nats.Context(ctxt))
	return err
}

// ListTopics list the subjects collected by the known streams
func (d *JetStreamDriver) ListTopics(ctxt context.Context) ([]string, error) {
	js, err := d.jetStream()
	if err != nil {
		return nil, err
	}
	readChan := js.StreamsInfo(nats.Context(ctxt))
	topics := []string{}
	readAll := false
	for !readAll {
		select {
		case info, ok := <-readChan:
			if !ok || info == nil {
				readAll = true
				break
			}
			if len(info.Config.Subjects) == 0 {
				topics = append(topics, info.Config.Name)
			} else {
				topics = append(topics, info.Config.Subjects...)
			}
		case <-ctxt.Done():
			return nil, ctxt.Err()
		}
	}
	sort.Strings(topics)
	return topics, nil
}

// CreateTopic define a stream collecting the topic subject
func (d *JetStreamDriver) CreateTopic(ctxt context.Context, topic string, _ int) error {
	js, err := d.jetStream()
	if err != nil {
		return err
	}
	name := streamName(topic)
	cfg := nats.StreamConfig{Name: name, Subjects: []string{topic}}
	if _, err := js.AddStream(&cfg, nats.Context(ctxt)); err != nil {
		// A concurrent creator may have defined the stream first
		if _, infoErr := js.StreamInfo(name, nats.Context(ctxt)); infoErr == nil {
			return nil
		}
		return err
	}
	log.WithFields(d.LogTags).Infof("Defined stream %s for %s", name, topic)
	return nil
}

// Subscribe queue subscribe the group on every topic, delivering only new messages
func (d *JetStreamDriver) Subscribe(
	_ context.Context, groupID string, topics []string, deliver func(Record),
) (Subscription, error) {
	js, err := d.jetStream()
	if err != nil {
		return nil, err
	}
	logTags := log.Fields{
		"module":    "broker",
		"component": "jetstream-consumer",
		"instance":  groupID,
	}
	sub := &jetStreamSubscription{Component: goutils.Component{LogTags: logTags}}
	// The NATS client invokes the callbacks of one subscription sequentially, the lock
	// keeps delivery ordered across the per-topic subscriptions
	deliverLock := sync.Mutex{}
	for _, topic := range topics {
		natsSub, err := js.QueueSubscribe(
			topic,
			groupID,
			func(msg *nats.Msg) {
				deliverLock.Lock()
				deliver(convertNatsMsg(msg))
				deliverLock.Unlock()
				if err := msg.Ack(); err != nil {
					log.WithError(err).WithFields(logTags).Errorf("Failed to ACK message on %s", msg.Subject)
				}
			},
			nats.DeliverNew(),
			nats.AckExplicit(),
			nats.ManualAck(),
		)
		if err != nil {
			sub.Close()
			return nil, err
		}
		sub.subs = append(sub.subs, natsSub)
	}
	return sub, nil
}

type jetStreamSubscription struct {
	goutils.Component
	subs []*nats.Subscription
}

// Close remove the queue subscriptions
func (s *jetStreamSubscription) Close() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Errorf("Unsubscribe from %s failed", sub.Subject)
		}
	}
	s.subs = nil
}

func convertNatsMsg(msg *nats.Msg) Record {
	rec := Record{
		Topic:           msg.Subject,
		Offset:          "0",
		TimestampMillis: time.Now().UnixMilli(),
		Value:           msg.Data,
		Headers:         map[string][]byte{},
	}
	for name, values := range msg.Header {
		if name == jetStreamKeyHeader {
			if len(values) > 0 {
				rec.Key = []byte(values[0])
			}
			continue
		}
		if len(values) > 0 {
			rec.Headers[name] = []byte(values[0])
		}
	}
	if meta, err := msg.Metadata(); err == nil {
		rec.Offset = strconv.FormatUint(meta.Sequence.Stream, 10)
		rec.TimestampMillis = meta.Timestamp.UnixMilli()
	}
	return rec
}

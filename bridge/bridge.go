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

package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/wsbridge/broker"
	"github.com/alwitt/wsbridge/common"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Inbound client message outcomes reported to the Observer
const (
	ResultRelayed       = "relayed"
	ResultPublished     = "published"
	ResultPublishFailed = "publish_failed"
	ResultInvalidTopic  = "invalid_topic"
	ResultParseError    = "parse_error"
)

// Publisher the broker operations needed to relay client messages
type Publisher interface {
	// IsConnected whether the broker producer session is open
	IsConnected() bool
	// Publish append one record to a topic
	Publish(ctxt context.Context, topic string, payload interface{}, key *string) error
}

// Observer receives session and message events
type Observer interface {
	SessionOpened()
	SessionClosed()
	RecordClientMessage(result string)
	RecordDroppedFrame()
}

type nopObserver struct{}

func (nopObserver) SessionOpened()             {}
func (nopObserver) SessionClosed()             {}
func (nopObserver) RecordClientMessage(string) {}
func (nopObserver) RecordDroppedFrame()        {}

// Params bridge operating parameters
type Params struct {
	// SendBufferSize outbound frames queued per session
	SendBufferSize int
	// EventBufferSize tasks queued for the hub event loop
	EventBufferSize int
	// MaxMessageBytes max inbound frame size
	MaxMessageBytes int64
	// WriteTimeout max duration for writing one frame
	WriteTimeout time.Duration
	// PingInterval keepalive ping interval
	PingInterval time.Duration
	// RatePerSecond sustained inbound messages per second per session. Zero disables.
	RatePerSecond float64
	// RateBurst inbound message burst per session
	RateBurst int
	// AllowedOrigins accepted Origin header values. Empty accepts any origin.
	AllowedOrigins []string
}

// ParamsFromConfig build bridge parameters from config
func ParamsFromConfig(cfg common.BridgeConfig, allowedOrigins []string) Params {
	return Params{
		SendBufferSize:  cfg.SendBufferSize,
		EventBufferSize: cfg.EventBufferSize,
		MaxMessageBytes: cfg.MaxMessageBytes,
		WriteTimeout:    time.Second * time.Duration(cfg.WriteTimeout),
		PingInterval:    time.Second * time.Duration(cfg.PingInterval),
		RatePerSecond:   cfg.RateLimit.PerSecond,
		RateBurst:       cfg.RateLimit.Burst,
		AllowedOrigins:  allowedOrigins,
	}
}

// Bridge relays messages between WebSocket clients and the broker
type Bridge struct {
	goutils.Component
	params      Params
	publisher   Publisher
	observer    Observer
	upgrader    websocket.Upgrader
	hub         *hub
	runtimeCtxt context.Context
	wg          *sync.WaitGroup
}

// NewBridge define a new Bridge and start its event loop
//
// Sessions are closed when runtimeCtxt is cancelled. Every goroutine started by the
// bridge is tracked with wg. observer may be nil.
func NewBridge(
	runtimeCtxt context.Context,
	instance string,
	params Params,
	publisher Publisher,
	observer Observer,
	wg *sync.WaitGroup,
) (*Bridge, error) {
	logTags := log.Fields{
		"module":    "bridge",
		"component": "bridge",
		"instance":  instance,
	}
	if observer == nil {
		observer = nopObserver{}
	}
	theHub, err := newHub(runtimeCtxt, instance, params.EventBufferSize)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define hub")
		return nil, err
	}
	b := &Bridge{
		Component:   goutils.Component{LogTags: logTags},
		params:      params,
		publisher:   publisher,
		observer:    observer,
		hub:         theHub,
		runtimeCtxt: runtimeCtxt,
		wg:          wg,
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     b.checkOrigin,
	}
	if err := theHub.start(wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start hub")
		return nil, err
	}
	return b, nil
}

// Stop stop the hub event loop
func (b *Bridge) Stop() error {
	return b.hub.stop()
}

func (b *Bridge) checkOrigin(r *http.Request) bool {
	if len(b.params.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range b.params.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	log.WithFields(b.LogTags).Warnf("Rejected WebSocket origin %s", origin)
	return false
}

func (b *Bridge) newLimiter() *rate.Limiter {
	if b.params.RatePerSecond <= 0 {
		return nil
	}
	burst := b.params.RateBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(b.params.RatePerSecond), burst)
}

// HandleConnection upgrade the request and serve the session until it closes
func (b *Bridge) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Error("WebSocket upgrade failed")
		return
	}
	sess := newSession(uuid.NewString(), conn, b.params.SendBufferSize, b.newLimiter(), b.observer)

	// The welcome frame is queued before the session can receive any broadcast
	welcome, _ := newWelcome(time.Now()).Encode()
	sess.enqueue(welcome)
	sess.setState(SessionOpen)
	if err := b.hub.register(b.runtimeCtxt, sess); err != nil {
		log.WithError(err).WithFields(sess.LogTags).Error("Unable to register session")
		sess.close()
		_ = conn.Close()
		return
	}
	b.observer.SessionOpened()
	log.WithFields(sess.LogTags).Infof("Session opened from %s", r.RemoteAddr)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sess.writeLoop(b.runtimeCtxt, b.params.WriteTimeout, b.params.PingInterval)
	}()

	sess.readLoop(b.runtimeCtxt, b.params.MaxMessageBytes, b.params.PingInterval*2, func(raw []byte) {
		b.processClientPayload(sess, raw)
	})

	sess.close()
	deregCtxt, cancel := context.WithTimeout(context.Background(), b.params.WriteTimeout)
	defer cancel()
	if err := b.hub.deregister(deregCtxt, sess.id); err != nil {
		log.WithError(err).WithFields(sess.LogTags).Error("Unable to deregister session")
	}
	b.observer.SessionClosed()
	log.WithFields(sess.LogTags).Info("Session closed")
}

func (b *Bridge) sendTo(sess *session, env Envelope) {
	frame, err := env.Encode()
	if err != nil {
		log.WithError(err).WithFields(sess.LogTags).Errorf("Unable to encode %s envelope", env.Type)
		return
	}
	sess.enqueue(frame)
}

// processClientPayload handle one inbound text frame
func (b *Bridge) processClientPayload(sess *session, raw []byte) {
	now := time.Now()
	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.WithError(err).WithFields(sess.LogTags).Debug("Client sent invalid JSON")
		b.sendTo(sess, newParseError(now))
		b.observer.RecordClientMessage(ResultParseError)
		return
	}
	original := json.RawMessage(raw)

	result := ResultRelayed
	if topic, ok := publishTopic(payload); ok && b.publisher.IsConnected() {
		if err := common.ValidateTopicName(topic); err != nil {
			log.WithError(err).WithFields(sess.LogTags).Debug("Client asked for an invalid topic")
			b.sendTo(sess, newBrokerError(original, invalidTopicText, time.Now()))
			result = ResultInvalidTopic
		} else if err := b.publisher.Publish(
			b.runtimeCtxt, topic, clientRecord(payload, now), nil,
		); err != nil {
			log.WithError(err).WithFields(sess.LogTags).Errorf("Relay to topic %s failed", topic)
			b.sendTo(sess, newBrokerError(original, publishFailedText, time.Now()))
			result = ResultPublishFailed
		} else {
			b.sendTo(sess, newBrokerSent(original, topic, time.Now()))
			result = ResultPublished
		}
	}

	b.sendTo(sess, newEcho(original, time.Now()))

	frame, err := newBroadcast(original, time.Now()).Encode()
	if err != nil {
		log.WithError(err).WithFields(sess.LogTags).Error("Unable to encode broadcast envelope")
	} else if err := b.hub.broadcast(b.runtimeCtxt, sess.id, frame); err != nil {
		log.WithError(err).WithFields(sess.LogTags).Error("Unable to submit broadcast")
	}
	b.observer.RecordClientMessage(result)
}

// HandleBrokerRecord forward one broker record to every open session
//
// Matches broker.RecordHandler.
func (b *Bridge) HandleBrokerRecord(ctxt context.Context, rec broker.Record) error {
	frame, err := newBrokerMessage(rec).Encode()
	if err != nil {
		return err
	}
	return b.hub.fanout(ctxt, frame)
}

// ConnectionCount number of open sessions
func (b *Bridge) ConnectionCount(ctxt context.Context) (int, error) {
	return b.hub.count(ctxt)
}

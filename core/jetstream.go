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
	"context"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// NATSConnectParams NATS connection parameter
type NATSConnectParams struct {
	// ServerURI NATS server URI
	ServerURI string `validate:"required,uri"`
	// ClientName connection name reported to the server
	ClientName string
	// ConnectTimeout max time to wait for the initial connection
	ConnectTimeout time.Duration
	// MaxReconnectAttempt max reconnect attempts after a connection loss. -1 is unlimited.
	MaxReconnectAttempt int
	// ReconnectWait wait between reconnect attempts
	ReconnectWait time.Duration
	// OnDisconnectCallback called when the connection is lost
	OnDisconnectCallback func(*nats.Conn, error)
	// OnReconnectCallback called when the connection is restored
	OnReconnectCallback func(*nats.Conn)
	// OnCloseCallback called once the connection is closed for good
	OnCloseCallback func(*nats.Conn)
}

// options convert the connection parameters into nats.go options
func (p NATSConnectParams) options() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(p.MaxReconnectAttempt),
		nats.ReconnectWait(p.ReconnectWait),
	}
	if p.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(p.ConnectTimeout))
	}
	if len(p.ClientName) > 0 {
		opts = append(opts, nats.Name(p.ClientName))
	}
	if p.OnDisconnectCallback != nil {
		opts = append(opts, nats.DisconnectErrHandler(p.OnDisconnectCallback))
	}
	if p.OnReconnectCallback != nil {
		opts = append(opts, nats.ReconnectHandler(p.OnReconnectCallback))
	}
	if p.OnCloseCallback != nil {
		opts = append(opts, nats.ClosedHandler(p.OnCloseCallback))
	}
	return opts
}

// NatsClient NATS connection plus its JetStream context
type NatsClient struct {
	goutils.Component
	nc *nats.Conn
	js nats.JetStreamContext
}

// Close flush pending publishes then close the connection
func (c *NatsClient) Close(ctxt context.Context) {
	if err := c.nc.FlushWithContext(ctxt); err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("NATS flush failed")
	}
	c.nc.Close()
	log.WithFields(c.LogTags).Info("Closed NATS connection")
}

// Connected whether the connection is currently usable
func (c *NatsClient) Connected() bool {
	return c.nc.IsConnected()
}

// JetStream fetch the JetStream context
func (c *NatsClient) JetStream() nats.JetStreamContext {
	return c.js
}

// GetJetStream connect to NATS and define the JetStream context
//
// The initial connect is not retried; reconnects after a loss follow the parameters.
func GetJetStream(param NATSConnectParams) (*NatsClient, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "jetstream-backend",
		"instance":  param.ServerURI,
	}
	if len(param.ServerURI) == 0 {
		err := fmt.Errorf("NATS server URI is required")
		log.WithError(err).WithFields(logTags).Error("Unable to define NATS client")
		return nil, err
	}
	nc, err := nats.Connect(param.ServerURI, param.options()...)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("NATS connect failed")
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define JetStream context")
		nc.Close()
		return nil, err
	}
	log.WithFields(logTags).Info("Connected to NATS")
	return &NatsClient{
		Component: goutils.Component{LogTags: logTags},
		nc:        nc,
		js:        js,
	}, nil
}

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

package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/wsbridge/apis"
	"github.com/alwitt/wsbridge/bridge"
	"github.com/alwitt/wsbridge/broker"
	"github.com/alwitt/wsbridge/common"
	"github.com/alwitt/wsbridge/metrics"
	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// brokerBootstrap connect to the broker, ensure the relayed topics, and register the
// consumer group feeding the bridge
type brokerBootstrap struct {
	logTags log.Fields
	client  *broker.Client
	config  common.BrokerConfig
	handler broker.RecordHandler
}

func (b brokerBootstrap) run(ctxt context.Context) error {
	if err := b.client.Connect(ctxt); err != nil {
		return err
	}
	if err := EnsureConfiguredTopics(ctxt, b.client, b.config.Topics); err != nil {
		return err
	}
	if err := b.client.RegisterConsumer(
		ctxt, b.config.ConsumerGroup, b.config.TopicNames(), b.handler,
	); err != nil {
		return err
	}
	log.WithFields(b.logTags).Infof(
		"Relaying %v to WebSocket clients as %s", b.config.TopicNames(), b.config.ConsumerGroup,
	)
	return nil
}

// start run the bootstrap once, then retry at the configured interval until it succeeds
// or ctxt ends
func (b brokerBootstrap) start(ctxt context.Context, wg *sync.WaitGroup) error {
	if err := b.run(ctxt); err == nil {
		return nil
	} else if b.config.ConnectRetryInterval <= 0 {
		log.WithError(err).WithFields(b.logTags).Error(
			"Broker unavailable, continuing without broker features",
		)
		return nil
	} else {
		log.WithError(err).WithFields(b.logTags).Errorf(
			"Broker unavailable, retrying every %ds", b.config.ConnectRetryInterval,
		)
	}

	timer, err := common.GetIntervalTimerInstance("broker-bootstrap", ctxt, wg)
	if err != nil {
		return err
	}
	return timer.Start(
		time.Second*time.Duration(b.config.ConnectRetryInterval),
		func() error {
			if err := b.run(ctxt); err != nil {
				log.WithError(err).WithFields(b.logTags).Error("Broker bootstrap retry failed")
				return nil
			}
			return timer.Stop()
		},
		false,
	)
}

// RunGatewayServer run the gateway until runTimeContext is cancelled
//
// Returns an error if the gateway can not be defined or the listener can not bind.
func RunGatewayServer(
	runTimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "gateway",
		"instance":  instance,
	}

	// -------------------------------------------------------------------
	// Observability

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	gatewayMetrics, err := metrics.NewMetrics(registry, config.Broker.TopicNames())
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define metrics")
		return err
	}

	// -------------------------------------------------------------------
	// Core components

	brokerClient, err := DefineBrokerClient(config.Broker, instance, gatewayMetrics)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define broker client")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	relay, err := bridge.NewBridge(
		localCtxt,
		instance,
		bridge.ParamsFromConfig(config.Bridge, config.HTTP.AllowedOrigins),
		brokerClient,
		gatewayMetrics,
		wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define WebSocket bridge")
		return err
	}

	httpHandler, err := apis.GetAPIRestGatewayHandler(
		brokerClient, relay, config.Broker.Type, &config.HTTP,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Routes

	router := mux.NewRouter()
	router.Methods("GET").Path("/").HandlerFunc(httpHandler.RootHandler())
	router.Methods("GET").Path(config.Bridge.Path).HandlerFunc(relay.HandleConnection)
	_ = apis.RegisterPathPrefix(router, "/health", apis.MethodHandlers{
		"get": httpHandler.HealthHandler(),
	})
	_ = apis.RegisterPathPrefix(router, "/api/status", apis.MethodHandlers{
		"get": httpHandler.StatusHandler(),
	})
	_ = apis.RegisterPathPrefix(router, "/api/kafka/send", apis.MethodHandlers{
		"post": httpHandler.SendMessageHandler(),
	})
	_ = apis.RegisterPathPrefix(router, "/api/kafka/topics", apis.MethodHandlers{
		"get":  httpHandler.ListTopicsHandler(),
		"post": httpHandler.CreateTopicHandler(),
	})
	if config.Metrics.Enabled {
		router.Methods("GET").Path(config.Metrics.Path).Handler(
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		)
	}

	allowedOrigins := config.HTTP.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(allowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", config.HTTP.Logging.RequestIDHeader}),
		handlers.ExposedHeaders([]string{config.HTTP.Logging.RequestIDHeader}),
	)(router)

	// -------------------------------------------------------------------
	// Start the HTTP server

	serverListen := fmt.Sprintf(
		"%s:%d", config.HTTP.Server.ListenOn, config.HTTP.Server.Port,
	)
	listener, err := net.Listen("tcp", serverListen)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to listen on %s", serverListen)
		return err
	}
	httpSrv := &http.Server{
		WriteTimeout: time.Second * time.Duration(config.HTTP.Server.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(config.HTTP.Server.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(config.HTTP.Server.IdleTimeout),
		Handler:      h2c.NewHandler(corsHandler, &http2.Server{}),
	}

	go func() {
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithFields(logTags).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)
	log.WithFields(logTags).Infof("WebSocket sessions on ws://%s%s", serverListen, config.Bridge.Path)

	// -------------------------------------------------------------------
	// Broker bootstrap, off the request path

	bootstrapWG := sync.WaitGroup{}
	bootstrapCtxt, bootstrapCancel := context.WithCancel(runTimeContext)
	defer bootstrapCancel()
	bootstrap := brokerBootstrap{
		logTags: logTags,
		client:  brokerClient,
		config:  config.Broker,
		handler: relay.HandleBrokerRecord,
	}
	bootstrapWG.Add(1)
	go func() {
		defer bootstrapWG.Done()
		if err := bootstrap.start(bootstrapCtxt, &bootstrapWG); err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to start broker bootstrap")
		}
	}()

	// ============================================================================

	<-runTimeContext.Done()

	log.WithFields(logTags).Info("Shutting down")

	// Drain the broker first
	bootstrapCancel()
	bootstrapWG.Wait()
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := brokerClient.Disconnect(ctx); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during broker disconnect")
		}
	}

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during HTTP shutdown")
		}
	}

	lclCancel()
	if err := relay.Stop(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failure stopping WebSocket bridge")
	}

	return nil
}

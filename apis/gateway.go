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

package apis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/wsbridge/common"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

// BrokerOperator broker operations exposed over REST
type BrokerOperator interface {
	// IsConnected whether the broker producer session is open
	IsConnected() bool
	// Publish append one record to a topic
	Publish(ctxt context.Context, topic string, payload interface{}, key *string) error
	// EnsureTopic create a topic if absent
	EnsureTopic(ctxt context.Context, topic string, partitions int) error
	// ListTopics list the broker topics, empty on failure
	ListTopics(ctxt context.Context) []string
	// ConsumerGroups list the consumer groups relaying records to the WebSocket clients
	ConsumerGroups() []string
}

// SessionManager the WebSocket side of the gateway
type SessionManager interface {
	// HandleConnection upgrade and serve one WebSocket session
	HandleConnection(w http.ResponseWriter, r *http.Request)
	// ConnectionCount number of open sessions
	ConnectionCount(ctxt context.Context) (int, error)
}

// APIRestGatewayHandler REST handler for the gateway
type APIRestGatewayHandler struct {
	goutils.RestAPIHandler
	broker     BrokerOperator
	sessions   SessionManager
	brokerType string
	startTime  time.Time
	validate   *validator.Validate
}

// GetAPIRestGatewayHandler define APIRestGatewayHandler
func GetAPIRestGatewayHandler(
	broker BrokerOperator,
	sessions SessionManager,
	brokerType string,
	httpConfig *common.HTTPConfig,
) (APIRestGatewayHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "gateway",
		"instance":  brokerType,
	}
	return APIRestGatewayHandler{
		RestAPIHandler: defineRestAPIHandler(logTags, httpConfig),
		broker:         broker,
		sessions:       sessions,
		brokerType:     brokerType,
		startTime:      time.Now(),
		validate:       validator.New(),
	}, nil
}

func timestampNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// =======================================================================
// Liveness

// APIRestRespBanner response for the gateway root
type APIRestRespBanner struct {
	goutils.RestAPIBaseResponse
	Message   string `json:"message"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Root godoc
// @Summary Gateway banner
// @Description Report the gateway is running. A WebSocket upgrade request on this path
// opens a session instead.
// @tags Gateway
// @Produce json
// @Param Wsbridge-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespBanner "success"
// @Header 200 {string} Wsbridge-Request-ID "Request ID to match against logs"
// @Router / [get]
func (h APIRestGatewayHandler) Root(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := APIRestRespBanner{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Message:   "wsbridge gateway",
		Status:    "running",
		Timestamp: timestampNow(),
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// RootHandler Wrapper around Root
//
// WebSocket upgrade requests bypass the logging middleware, the upgrade needs the
// unwrapped connection.
func (h APIRestGatewayHandler) RootHandler() http.HandlerFunc {
	logged := h.LoggingMiddleware(h.Root)
	return func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			h.sessions.HandleConnection(w, r)
			return
		}
		logged(w, r)
	}
}

// APIRestRespHealth response for the health check
type APIRestRespHealth struct {
	goutils.RestAPIBaseResponse
	Status    string  `json:"status"`
	Uptime    float64 `json:"uptime_sec"`
	Timestamp string  `json:"timestamp"`
}

// Health godoc
// @Summary Gateway health
// @Description Report the gateway is healthy, and its uptime
// @tags Gateway
// @Produce json
// @Success 200 {object} APIRestRespHealth "success"
// @Router /health [get]
func (h APIRestGatewayHandler) Health(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := APIRestRespHealth{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Status:    "healthy",
		Uptime:    time.Since(h.startTime).Seconds(),
		Timestamp: timestampNow(),
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// HealthHandler Wrapper around Health
func (h APIRestGatewayHandler) HealthHandler() http.HandlerFunc {
	return h.LoggingMiddleware(h.Health)
}

// =======================================================================
// Status

// APIRestRespBrokerStatus broker section of the status response
type APIRestRespBrokerStatus struct {
	// Type is the broker backend type
	Type string `json:"type"`
	// Connected whether the producer session is open
	Connected bool `json:"connected"`
	// Topics are the topics known to the broker
	Topics []string `json:"topics"`
	// ConsumerGroups are the active consumer groups
	ConsumerGroups []string `json:"consumer_groups"`
}

// APIRestRespStatus response for the gateway status
type APIRestRespStatus struct {
	goutils.RestAPIBaseResponse
	Server    string                  `json:"server"`
	WebSocket string                  `json:"websocket"`
	Clients   int                     `json:"clients"`
	Broker    APIRestRespBrokerStatus `json:"broker"`
}

// Status godoc
// @Summary Gateway status
// @Description Report the number of WebSocket clients and the broker connection state
// @tags Gateway
// @Produce json
// @Success 200 {object} APIRestRespStatus "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/status [get]
func (h APIRestGatewayHandler) Status(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	clients, err := h.sessions.ConnectionCount(r.Context())
	if err != nil {
		msg := "Unable to count WebSocket sessions"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespStatus{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Server:    "online",
		WebSocket: "connected",
		Clients:   clients,
		Broker: APIRestRespBrokerStatus{
			Type:           h.brokerType,
			Connected:      h.broker.IsConnected(),
			Topics:         h.broker.ListTopics(r.Context()),
			ConsumerGroups: h.broker.ConsumerGroups(),
		},
	}
}

// StatusHandler Wrapper around Status
func (h APIRestGatewayHandler) StatusHandler() http.HandlerFunc {
	return h.LoggingMiddleware(h.Status)
}

// =======================================================================
// Broker operations

// APIRestReqSendMessage request to publish one message
type APIRestReqSendMessage struct {
	// Topic is the target topic
	Topic string `json:"topic" validate:"required"`
	// Message is the payload. A string is sent as is, anything else as JSON.
	Message interface{} `json:"message"`
	// Key is the optional record key
	Key *string `json:"key,omitempty"`
}

// APIRestRespSendMessage response for publishing a message
type APIRestRespSendMessage struct {
	goutils.RestAPIBaseResponse
	Message string `json:"message"`
}

func messageMissing(message interface{}) bool {
	switch v := message.(type) {
	case nil:
		return true
	case string:
		return v == ""
	}
	return false
}

// SendMessage godoc
// @Summary Publish a message
// @Description Publish one message to a broker topic
// @tags Broker
// @Accept json
// @Produce json
// @Param message body APIRestReqSendMessage true "Message to publish"
// @Success 200 {object} APIRestRespSendMessage "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/kafka/send [post]
func (h APIRestGatewayHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var params APIRestReqSendMessage
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&params); err != nil || messageMissing(params.Message) {
		msg := "Topic and message are required"
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, detail)
		return
	}
	if err := common.ValidateTopicName(params.Topic); err != nil {
		msg := "Invalid topic name"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	if err := h.broker.Publish(r.Context(), params.Topic, params.Message, params.Key); err != nil {
		msg := "Failed to send message to broker"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespSendMessage{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Message: fmt.Sprintf("Message sent to %s", params.Topic),
	}
}

// SendMessageHandler Wrapper around SendMessage
func (h APIRestGatewayHandler) SendMessageHandler() http.HandlerFunc {
	return h.LoggingMiddleware(h.SendMessage)
}

// APIRestRespTopics response for listing topics
type APIRestRespTopics struct {
	goutils.RestAPIBaseResponse
	Topics []string `json:"topics"`
}

// ListTopics godoc
// @Summary List topics
// @Description List the broker topics. An unreachable broker produces an empty list.
// @tags Broker
// @Produce json
// @Success 200 {object} APIRestRespTopics "success"
// @Router /api/kafka/topics [get]
func (h APIRestGatewayHandler) ListTopics(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := APIRestRespTopics{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Topics: h.broker.ListTopics(r.Context()),
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// ListTopicsHandler Wrapper around ListTopics
func (h APIRestGatewayHandler) ListTopicsHandler() http.HandlerFunc {
	return h.LoggingMiddleware(h.ListTopics)
}

// APIRestReqCreateTopic request to create a topic
type APIRestReqCreateTopic struct {
	// Topic is the topic name
	Topic string `json:"topic" validate:"required"`
	// Partitions is the partition count, defaults to 1
	Partitions *int `json:"partitions,omitempty" validate:"omitempty,gte=1,lte=2147483647"`
}

// APIRestRespCreateTopic response for creating a topic
type APIRestRespCreateTopic struct {
	goutils.RestAPIBaseResponse
	Message string `json:"message"`
}

// CreateTopic godoc
// @Summary Create a topic
// @Description Create a broker topic if it does not exist
// @tags Broker
// @Accept json
// @Produce json
// @Param topic body APIRestReqCreateTopic true "Topic to create"
// @Success 200 {object} APIRestRespCreateTopic "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /api/kafka/topics [post]
func (h APIRestGatewayHandler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var params APIRestReqCreateTopic
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&params); err != nil {
		msg := "Topic name is required"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := common.ValidateTopicName(params.Topic); err != nil {
		msg := "Invalid topic name"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	partitions := 1
	if params.Partitions != nil {
		partitions = *params.Partitions
	}

	if err := h.broker.EnsureTopic(r.Context(), params.Topic, partitions); err != nil {
		msg := "Failed to create topic"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespCreateTopic{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Message: fmt.Sprintf("Topic %q created or already exists", params.Topic),
	}
}

// CreateTopicHandler Wrapper around CreateTopic
func (h APIRestGatewayHandler) CreateTopicHandler() http.HandlerFunc {
	return h.LoggingMiddleware(h.CreateTopic)
}

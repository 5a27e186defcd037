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

package common

import "github.com/spf13/viper"

// ===============================================================================
// Kafka Related Config

// KafkaRetryConfig defines the bounded retry policy applied to every Kafka request
type KafkaRetryConfig struct {
	// MaxAttempts is the max number of retries for a failed request
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=0"`
	// BackoffMS is the fixed wait between retries in milliseconds
	BackoffMS int `mapstructure:"backoff_ms" json:"backoff_ms" validate:"gte=0"`
}

// KafkaConfig defines parameters for connecting to a Kafka compatible broker
type KafkaConfig struct {
	// SeedBrokers is the list of bootstrap broker addresses
	SeedBrokers []string `mapstructure:"seed_brokers" json:"seed_brokers" validate:"required,min=1,dive,hostname_port"`
	// ClientID is the client ID reported to the brokers
	ClientID string `mapstructure:"client_id" json:"client_id" validate:"required"`
	// DialTimeout is the max duration for opening a broker connection in seconds
	DialTimeout int `mapstructure:"dial_timeout_sec" json:"dial_timeout_sec" validate:"gte=1"`
	// AdminTimeout is the broker side timeout for topic creation in seconds
	AdminTimeout int `mapstructure:"admin_timeout_sec" json:"admin_timeout_sec" validate:"gte=1"`
	// ReplicationFactor is the replication factor of topics created by the gateway
	ReplicationFactor int `mapstructure:"replication_factor" json:"replication_factor" validate:"gte=1"`
	// AutoCreateTopics whether producing to an unknown topic may create it
	AutoCreateTopics bool `mapstructure:"auto_create_topics" json:"auto_create_topics"`
	// Retry defines the request retry policy
	Retry KafkaRetryConfig `mapstructure:"retry" json:"retry" validate:"required,dive"`
}

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// ===============================================================================
// Broker Related Config

// BrokerTopicConfig a topic the gateway ensures exists and relays to clients
type BrokerTopicConfig struct {
	// Name is the topic name
	Name string `mapstructure:"name" json:"name" validate:"required"`
	// Partitions is the partition count used when the topic is created
	Partitions int `mapstructure:"partitions" json:"partitions" validate:"gte=1,lte=2147483647"`
}

// BrokerConfig defines which broker the gateway relays to and how
type BrokerConfig struct {
	// Type selects the broker backend
	Type string `mapstructure:"type" json:"type" validate:"required,oneof=kafka nats"`
	// Kafka are the Kafka connection parameters
	Kafka KafkaConfig `mapstructure:"kafka" json:"kafka" validate:"required,dive"`
	// NATS are the NATS connection parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
	// Topics are the topics ensured at startup and relayed to the WebSocket clients
	Topics []BrokerTopicConfig `mapstructure:"topics" json:"topics" validate:"required,min=1,dive"`
	// ConsumerGroup is the consumer group used to relay records to WebSocket clients
	ConsumerGroup string `mapstructure:"consumer_group" json:"consumer_group" validate:"required"`
	// ConnectRetryInterval is the wait between broker bootstrap attempts in seconds.
	// Zero disables retries; the gateway then runs without broker features.
	ConnectRetryInterval int `mapstructure:"connect_retry_interval_sec" json:"connect_retry_interval_sec" validate:"gte=0"`
}

// TopicNames helper function to list the configured topic names
func (c BrokerConfig) TopicNames() []string {
	result := make([]string, len(c.Topics))
	for idx, topic := range c.Topics {
		result[idx] = topic.Name
	}
	return result
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
	// AllowedOrigins are the CORS origins accepted. Empty accepts any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins"`
}

// ===============================================================================
// WebSocket Bridge Related Config

// BridgeRateLimitConfig defines the inbound message rate limit of one WebSocket session
type BridgeRateLimitConfig struct {
	// PerSecond is the sustained messages per second. Zero disables the limit.
	PerSecond float64 `mapstructure:"per_sec" json:"per_sec" validate:"gte=0"`
	// Burst is the max number of messages accepted in a burst
	Burst int `mapstructure:"burst" json:"burst" validate:"gte=1"`
}

// BridgeConfig defines the WebSocket bridge parameters
type BridgeConfig struct {
	// Path is the end-point path serving the WebSocket upgrade
	Path string `mapstructure:"path" json:"path" validate:"required,startswith=/"`
	// SendBufferSize is the number of outbound frames queued per session
	SendBufferSize int `mapstructure:"send_buffer_size" json:"send_buffer_size" validate:"gte=1"`
	// EventBufferSize is the number of tasks queued for the fan-out event loop
	EventBufferSize int `mapstructure:"event_buffer_size" json:"event_buffer_size" validate:"gte=1"`
	// MaxMessageBytes is the max size of one inbound frame
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" json:"max_message_bytes" validate:"gte=1"`
	// WriteTimeout is the max duration for writing one frame in seconds
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=1"`
	// PingInterval is the keepalive ping interval in seconds
	PingInterval int `mapstructure:"ping_interval_sec" json:"ping_interval_sec" validate:"gte=1"`
	// RateLimit defines the per session inbound rate limit
	RateLimit BridgeRateLimitConfig `mapstructure:"rate_limit" json:"rate_limit" validate:"required,dive"`
}

// ===============================================================================
// Metrics Related Config

// MetricsConfig defines the prometheus metrics end-point
type MetricsConfig struct {
	// Enabled whether to expose the metrics end-point
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Path is the metrics end-point path
	Path string `mapstructure:"path" json:"path" validate:"required,startswith=/"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete gateway config
type SystemConfig struct {
	// Broker are the broker related config parameters
	Broker BrokerConfig `mapstructure:"broker" json:"broker" validate:"required,dive"`
	// HTTP are the HTTP API server configs
	HTTP HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Bridge are the WebSocket bridge configs
	Bridge BridgeConfig `mapstructure:"bridge" json:"bridge" validate:"required,dive"`
	// Metrics are the metrics end-point configs
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default broker settings
	viper.SetDefault("broker.type", "kafka")
	viper.SetDefault("broker.consumer_group", "websocket-broadcast-group")
	viper.SetDefault("broker.connect_retry_interval_sec", 0)
	viper.SetDefault("broker.topics", []map[string]interface{}{
		{"name": "messages", "partitions": 3},
		{"name": "notifications", "partitions": 1},
	})

	// Default Kafka settings
	viper.SetDefault("broker.kafka.seed_brokers", []string{"localhost:9092"})
	viper.SetDefault("broker.kafka.client_id", "wsbridge-gateway")
	viper.SetDefault("broker.kafka.dial_timeout_sec", 10)
	viper.SetDefault("broker.kafka.admin_timeout_sec", 30)
	viper.SetDefault("broker.kafka.replication_factor", 1)
	viper.SetDefault("broker.kafka.auto_create_topics", true)
	viper.SetDefault("broker.kafka.retry.max_attempts", 10)
	viper.SetDefault("broker.kafka.retry.backoff_ms", 300)

	// Default NATS settings
	viper.SetDefault("broker.nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("broker.nats.connect_timeout_sec", 30)
	viper.SetDefault("broker.nats.reconnect.max_attempts", -1)
	viper.SetDefault("broker.nats.reconnect.wait_interval_sec", 15)

	// Default HTTP server settings
	viper.SetDefault("api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api_server.server_config.listen_port", 3000)
	viper.SetDefault("api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault("api_server.logging_config.request_id_header", "Wsbridge-Request-ID")
	viper.SetDefault(
		"api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
	viper.SetDefault("api_server.allowed_origins", []string{})

	// Default WebSocket bridge settings
	viper.SetDefault("bridge.path", "/ws")
	viper.SetDefault("bridge.send_buffer_size", 64)
	viper.SetDefault("bridge.event_buffer_size", 256)
	viper.SetDefault("bridge.max_message_bytes", 1048576)
	viper.SetDefault("bridge.write_timeout_sec", 10)
	viper.SetDefault("bridge.ping_interval_sec", 30)
	viper.SetDefault("bridge.rate_limit.per_sec", 0)
	viper.SetDefault("bridge.rate_limit.burst", 1)

	// Default metrics settings
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
}

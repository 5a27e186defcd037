package common

import (
	"bytes"
	"testing"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestViperConfigParsing(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	validate := validator.New()

	// Case 0: parse config with no defaults in place
	{
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 1: load the configs
	{
		var cfg SystemConfig
		InstallDefaultConfigValues()
		assert.Nil(viper.Unmarshal(&cfg))
		assert.Nil(validate.Struct(&cfg))
		assert.Equal("kafka", cfg.Broker.Type)
		assert.EqualValues([]string{"localhost:9092"}, cfg.Broker.Kafka.SeedBrokers)
		assert.EqualValues(3000, cfg.HTTP.Server.Port)
		assert.EqualValues([]string{"messages", "notifications"}, cfg.Broker.TopicNames())
		assert.Equal(3, cfg.Broker.Topics[0].Partitions)
		assert.Equal("websocket-broadcast-group", cfg.Broker.ConsumerGroup)
		assert.Equal(10, cfg.Broker.Kafka.Retry.MaxAttempts)
		assert.Equal(300, cfg.Broker.Kafka.Retry.BackoffMS)
	}

	// Case 2: invalid config
	{
		config := []byte(`---
api_server:
  server_config:
    listen_on: 1243`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 3: invalid config
	{
		config := []byte(`---
api_server:
  server_config:
    write_timeout_sec: -10`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 4: unknown broker type
	{
		config := []byte(`---
broker:
  type: rabbitmq`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}

	// Case 5: switch to NATS with custom topics
	{
		config := []byte(`---
broker:
  type: nats
  topics:
    - name: alerts
      partitions: 1
bridge:
  path: /socket`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.Nil(validate.Struct(&cfg))
		assert.Equal("nats", cfg.Broker.Type)
		assert.EqualValues([]string{"alerts"}, cfg.Broker.TopicNames())
		assert.Equal("/socket", cfg.Bridge.Path)
	}

	// Case 6: bridge path must be absolute
	{
		config := []byte(`---
bridge:
  path: socket`)
		viper.SetConfigType("yaml")
		assert.Nil(viper.ReadConfig(bytes.NewBuffer(config)))
		var cfg SystemConfig
		assert.Nil(viper.Unmarshal(&cfg))
		assert.NotNil(validate.Struct(&cfg))
	}
}

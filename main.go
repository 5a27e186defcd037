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

package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/alwitt/wsbridge/broker"
	"github.com/alwitt/wsbridge/cmd"
	"github.com/alwitt/wsbridge/common"
	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

type cliArgs struct {
	JSONLog    bool
	LogLevel   string `validate:"required,oneof=debug info warn error"`
	ConfigFile string `validate:"omitempty,file"`
	Hostname   string
	// Overrides applied on top of the config file
	Port        uint   `validate:"omitempty,lt=65536"`
	KafkaBroker string `validate:"omitempty"`
	BrokerType  string `validate:"omitempty,oneof=kafka nats"`
}

type topicCreateArgs struct {
	Topic      string `validate:"required"`
	Partitions int    `validate:"gte=1"`
}

var cmdArgs cliArgs

var createArgs topicCreateArgs

var logTags log.Fields

// @title wsbridge
// @version v0.1.0
// @description WebSocket gateway relaying messages between browser clients and a Kafka broker

// @host localhost:3000
// @BasePath /
// @query.collection.format multi
func main() {
	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Fatal("Unable to read hostname")
	}
	cmdArgs.Hostname = hostname
	logTags = log.Fields{
		"module":    "main",
		"component": "main",
		"instance":  hostname,
	}

	common.InstallDefaultConfigValues()

	app := &cli.App{
		Version:     "v0.1.0",
		Usage:       "application entrypoint",
		Description: "WebSocket gateway relaying messages between browser clients and a Kafka broker",
		Flags: []cli.Flag{
			// LOGGING
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Value:       false,
				DefaultText: "false",
				Destination: &cmdArgs.JSONLog,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Value:       "info",
				DefaultText: "info",
				Destination: &cmdArgs.LogLevel,
				Required:    false,
			},
			// Config file
			&cli.StringFlag{
				Name:        "config-file",
				Usage:       "Application config file. Use DEFAULT if not specified.",
				Aliases:     []string{"c"},
				EnvVars:     []string{"CONFIG_FILE"},
				Value:       "",
				DefaultText: "",
				Destination: &cmdArgs.ConfigFile,
				Required:    false,
			},
			// Overrides
			&cli.UintFlag{
				Name:        "port",
				Usage:       "HTTP listen port. Overrides the config file.",
				Aliases:     []string{"p"},
				EnvVars:     []string{"PORT"},
				Destination: &cmdArgs.Port,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "kafka-broker",
				Usage:       "Comma separated Kafka seed brokers. Overrides the config file.",
				Aliases:     []string{"k"},
				EnvVars:     []string{"KAFKA_BROKER"},
				Destination: &cmdArgs.KafkaBroker,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "broker-type",
				Usage:       "Broker backend: [kafka nats]. Overrides the config file.",
				EnvVars:     []string{"BROKER_TYPE"},
				Destination: &cmdArgs.BrokerType,
				Required:    false,
			},
		},
		// Components
		Commands: []*cli.Command{
			{
				Name:        "gateway",
				Usage:       "Run the WebSocket gateway",
				Description: "Serves the WebSocket bridge and the REST API in front of the broker",
				Action:      startGateway,
			},
			{
				Name:        "produce",
				Usage:       "Interactive producer",
				Description: "Reads lines from stdin and publishes each one to the broker",
				Action:      startProducer,
			},
			{
				Name:  "topics",
				Usage: "Broker topic administration",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List the broker topics",
						Action: listTopics,
					},
					{
						Name:  "create",
						Usage: "Create a broker topic if absent",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:        "topic",
								Usage:       "Topic name",
								Aliases:     []string{"t"},
								Destination: &createArgs.Topic,
								Required:    true,
							},
							&cli.IntFlag{
								Name:        "partitions",
								Usage:       "Partition count",
								Value:       1,
								DefaultText: "1",
								Destination: &createArgs.Partitions,
								Required:    false,
							},
						},
						Action: createTopic,
					},
				},
			},
		},
	}

	err = app.Run(os.Args)
	if err != nil {
		log.WithError(err).WithFields(logTags).Fatal("Program shutdown")
	}
}

// setupLogging helper function to prepare the app logging
func setupLogging() {
	if cmdArgs.JSONLog {
		log.SetHandler(apexJSON.New(os.Stderr))
	}
	switch cmdArgs.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}
}

// applyOverrides install the CMD arg overrides into viper
func applyOverrides() {
	if cmdArgs.Port > 0 {
		viper.Set("api_server.server_config.listen_port", cmdArgs.Port)
	}
	if len(cmdArgs.KafkaBroker) > 0 {
		seeds := []string{}
		for _, seed := range strings.Split(cmdArgs.KafkaBroker, ",") {
			if seed = strings.TrimSpace(seed); len(seed) > 0 {
				seeds = append(seeds, seed)
			}
		}
		viper.Set("broker.kafka.seed_brokers", seeds)
	}
	if len(cmdArgs.BrokerType) > 0 {
		viper.Set("broker.type", cmdArgs.BrokerType)
	}
}

// initialCmdArgsProcessing perform initial CMD arg processing
func initialCmdArgsProcessing() (*common.SystemConfig, error) {
	validate := validator.New()
	// Validate command line argument
	if err := validate.Struct(&cmdArgs); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return nil, err
	}
	setupLogging()
	tmp, err := json.MarshalIndent(&cmdArgs, "", "  ")
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to marshal args")
		return nil, err
	}
	log.Debugf("Starting params\n%s", tmp)
	// Parse the config file
	if len(cmdArgs.ConfigFile) > 0 {
		viper.SetConfigFile(cmdArgs.ConfigFile)
		if err := viper.ReadInConfig(); err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Failed to read config file %s", cmdArgs.ConfigFile,
			)
			return nil, err
		}
	}
	applyOverrides()
	var config common.SystemConfig
	if err := viper.Unmarshal(&config); err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Failed to parse config file %s", cmdArgs.ConfigFile,
		)
		return nil, err
	}
	tmp, err = json.MarshalIndent(&config, "", "  ")
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to marshal config files")
		return nil, err
	}
	log.Debugf("Config file\n%s", tmp)
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid config file content")
		return nil, err
	}
	return &config, nil
}

func defineControlVars() (*sync.WaitGroup, context.Context, context.CancelFunc) {
	runTimeContext, rtCancel := context.WithCancel(context.Background())
	return &sync.WaitGroup{}, runTimeContext, rtCancel
}

// signalRecvSetup helper function for setting up the SIG receive handler
func signalRecvSetup(
	runTimeContext context.Context, wg *sync.WaitGroup, ctxtCancel context.CancelFunc,
) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		cc := make(chan os.Signal, 1)
		// Graceful shutdown on SIGINT (Ctrl+C) or SIGTERM
		signal.Notify(cc, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(cc)
		select {
		case <-cc:
			ctxtCancel()
		case <-runTimeContext.Done():
		}
	}()
}

// connectBroker define and connect a broker client for a CLI command
func connectBroker(
	ctxt context.Context, config common.BrokerConfig,
) (*broker.Client, error) {
	client, err := cmd.DefineBrokerClient(config, cmdArgs.Hostname, nil)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to define broker client")
		return nil, err
	}
	connectCtxt, cancel := context.WithTimeout(ctxt, time.Second*30)
	defer cancel()
	if err := client.Connect(connectCtxt); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to connect to broker")
		return nil, err
	}
	return client, nil
}

// disconnectBroker close a broker client for a CLI command
func disconnectBroker(client *broker.Client) {
	ctxt, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := client.Disconnect(ctxt); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failure during broker disconnect")
	}
}

// ============================================================================
// Gateway subcommand

// startGateway run the gateway
func startGateway(c *cli.Context) error {
	config, err := initialCmdArgsProcessing()
	if err != nil {
		return err
	}

	wg, runTimeContext, rtCancel := defineControlVars()
	defer wg.Wait()
	defer rtCancel()

	signalRecvSetup(runTimeContext, wg, rtCancel)

	return cmd.RunGatewayServer(runTimeContext, config, cmdArgs.Hostname, wg)
}

// ============================================================================
// Producer subcommand

// startProducer run the interactive producer
func startProducer(c *cli.Context) error {
	config, err := initialCmdArgsProcessing()
	if err != nil {
		return err
	}

	wg, runTimeContext, rtCancel := defineControlVars()
	defer wg.Wait()
	defer rtCancel()

	signalRecvSetup(runTimeContext, wg, rtCancel)

	client, err := connectBroker(runTimeContext, config.Broker)
	if err != nil {
		return err
	}
	defer disconnectBroker(client)

	if err := cmd.EnsureConfiguredTopics(runTimeContext, client, config.Broker.Topics); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to ensure topics")
		return err
	}

	params := cmd.ProducerParams{
		DefaultTopic: "messages",
		NotifyTopic:  "notifications",
		Sender:       "cli-producer",
	}
	if topics := config.Broker.TopicNames(); len(topics) > 0 {
		params.DefaultTopic = topics[0]
		if len(topics) > 1 {
			params.NotifyTopic = topics[1]
		}
	}
	if err := validator.New().Struct(&params); err != nil {
		return err
	}

	return cmd.RunProducerPrompt(runTimeContext, client, params, os.Stdin, os.Stdout)
}

// ============================================================================
// Topic subcommands

// listTopics print the broker topics
func listTopics(c *cli.Context) error {
	config, err := initialCmdArgsProcessing()
	if err != nil {
		return err
	}
	client, err := connectBroker(c.Context, config.Broker)
	if err != nil {
		return err
	}
	defer disconnectBroker(client)
	return cmd.ListBrokerTopics(c.Context, client, os.Stdout)
}

// createTopic create a broker topic
func createTopic(c *cli.Context) error {
	config, err := initialCmdArgsProcessing()
	if err != nil {
		return err
	}
	if err := validator.New().Struct(&createArgs); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid topic create args")
		return err
	}
	client, err := connectBroker(c.Context, config.Broker)
	if err != nil {
		return err
	}
	defer disconnectBroker(client)
	return cmd.CreateBrokerTopic(
		c.Context, client, createArgs.Topic, createArgs.Partitions, os.Stdout,
	)
}

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
)

// Publisher publish one record to a broker topic
type Publisher interface {
	Publish(ctxt context.Context, topic string, payload interface{}, key *string) error
}

// ProducerParams interactive producer parameters
type ProducerParams struct {
	// DefaultTopic receives plain lines
	DefaultTopic string `validate:"required"`
	// NotifyTopic receives "/notify" lines
	NotifyTopic string `validate:"required"`
	// Sender is the sender name placed in every record
	Sender string `validate:"required"`
}

const producerHelp = `Commands:
  <message>          send to "%s"
  /notify <message>  send to "%s"
  /help              show this help
  /quit              exit
`

// ProducerRecord a record published by the interactive producer
type ProducerRecord struct {
	Content   string `json:"content"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	ID        string `json:"id"`
}

// readLines feed the lines of in into the returned channel until the end of input or
// ctxt ends. The channel is closed when reading stops; a read error, if any, is sent to
// the error channel first.
func readLines(ctxt context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctxt.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
		}
	}()
	return lines, readErr
}

// RunProducerPrompt read lines from in and publish each one until "/quit", the end of
// input, or ctxt ends
//
// Cancelling ctxt returns immediately even while waiting on in. The reader goroutine
// stays blocked on in until it produces data or is closed.
func RunProducerPrompt(
	ctxt context.Context,
	publisher Publisher,
	params ProducerParams,
	in io.Reader,
	out io.Writer,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "producer",
		"instance":  params.Sender,
	}

	fmt.Fprintf(out, producerHelp, params.DefaultTopic, params.NotifyTopic)
	readCtxt, stopReading := context.WithCancel(ctxt)
	defer stopReading()
	lines, readErr := readLines(readCtxt, in)
	for {
		fmt.Fprint(out, "> ")
		var raw string
		select {
		case <-ctxt.Done():
			fmt.Fprintln(out)
			return nil
		case next, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			raw = next
		}
		if ctxt.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(raw)
		topic := params.DefaultTopic
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help" || line == "/?":
			fmt.Fprintf(out, producerHelp, params.DefaultTopic, params.NotifyTopic)
			continue
		case line == "/notify" || strings.HasPrefix(line, "/notify "):
			line = strings.TrimSpace(strings.TrimPrefix(line, "/notify"))
			if line == "" {
				fmt.Fprintln(out, "Usage: /notify <message>")
				continue
			}
			topic = params.NotifyTopic
		}

		record := ProducerRecord{
			Content:   line,
			Sender:    params.Sender,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			ID:        uuid.NewString(),
		}
		if err := publisher.Publish(ctxt, topic, record, nil); err != nil {
			log.WithError(err).WithFields(logTags).Errorf("Failed to send to %s", topic)
			fmt.Fprintf(out, "Failed to send message to %q: %s\n", topic, err.Error())
			continue
		}
		fmt.Fprintf(out, "Message sent to %q: %q\n", topic, line)
	}
}

// SPDX-License-Identifier: Apache-2.0

package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	loglib "github.com/xataio/searchsync/pkg/log"
)

type MessageWriter interface {
	WriteMessages(context.Context, ...Message) error
	Close() error
}

// Writer is a wrapper around the kafkago library writer
type Writer struct {
	kafkaWriter *kafka.Writer
}

// Message is a wrapper around the kafkago library message
type Message kafka.Message

type WriterConfig struct {
	Conn ConnConfig `mapstructure:"conn" yaml:"conn"`
	// BatchTimeout is the time limit on how often incomplete message batches
	// will be flushed to kafka. Defaults to 1s.
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	// BatchSize limits how many messages will be buffered before being sent to
	// a partition. Defaults to 100 messages.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

// NewWriter returns a kafka writer that produces messages to the configured
// topic, using the CRC32 hash function to route messages with the same key to
// the same partition.
//
// If the topic auto create setting is enabled in the config, it will create it.
func NewWriter(config WriterConfig, logger loglib.Logger) (*Writer, error) {
	logger.Info("creating kafka writer", loglib.Fields{
		"kafka_servers": config.Conn.Servers,
		"tls_enabled":   config.Conn.TLS.Enabled,
	})

	if config.Conn.Topic.AutoCreate {
		if err := createTopic(&config.Conn); err != nil {
			return nil, err
		}
	}

	transport, err := buildTransport(&config.Conn.TLS)
	if err != nil {
		return nil, err
	}

	return &Writer{
		kafkaWriter: &kafka.Writer{
			Addr:         kafka.TCP(config.Conn.Servers...),
			Topic:        config.Conn.Topic.Name,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.CRC32Balancer{},
			Transport:    transport,
			Logger:       makeLogger(logger.Trace),
			ErrorLogger:  makeErrLogger(logger.Error),
			BatchTimeout: config.BatchTimeout,
			BatchSize:    config.BatchSize,
		},
	}, nil
}

func (w *Writer) WriteMessages(ctx context.Context, msgs ...Message) error {
	kafkaMsgs := make([]kafka.Message, 0, len(msgs))
	for _, msg := range msgs {
		kafkaMsgs = append(kafkaMsgs, kafka.Message(msg))
	}
	return w.kafkaWriter.WriteMessages(ctx, kafkaMsgs...)
}

func (w *Writer) Close() error {
	return w.kafkaWriter.Close()
}

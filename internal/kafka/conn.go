// SPDX-License-Identifier: Apache-2.0

package kafka

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	tlslib "github.com/xataio/searchsync/pkg/tls"
)

// withConnection creates a connection to the cluster controller that can be
// used by the kafka operation passed in the parameters. This ensures the
// cleanup of all connection resources.
func withConnection(config *ConnConfig, kafkaOperation func(conn *kafka.Conn) error) error {
	dialer, err := buildDialer(&config.TLS)
	if err != nil {
		return err
	}

	var conn *kafka.Conn
	for _, server := range config.Servers {
		conn, err = dialer.Dial("tcp", server)
		if err != nil {
			// Try next server in the list
			continue
		}
		defer conn.Close()
		break
	}
	if conn == nil {
		return errors.New("error connecting to kafka, all servers failed")
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	controllerConn, err := dialer.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("controller connection: %w", err)
	}
	defer controllerConn.Close()

	return kafkaOperation(controllerConn)
}

func createTopic(cfg *ConnConfig) error {
	return withConnection(cfg, func(conn *kafka.Conn) error {
		err := conn.CreateTopics(kafka.TopicConfig{
			Topic:             cfg.Topic.Name,
			NumPartitions:     cfg.Topic.numPartitions(),
			ReplicationFactor: cfg.Topic.replicationFactor(),
		})
		if err != nil {
			return fmt.Errorf("creating topic: %w", err)
		}
		return nil
	})
}

func buildDialer(cfg *tlslib.Config) (*kafka.Dialer, error) {
	tlsConfig, err := tlslib.NewConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading TLS configuration: %w", err)
	}
	return &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
		TLS:       tlsConfig,
	}, nil
}

func buildTransport(cfg *tlslib.Config) (kafka.RoundTripper, error) {
	if !cfg.Enabled {
		return kafka.DefaultTransport, nil
	}
	tlsConfig, err := tlslib.NewConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building TLS config: %w", err)
	}
	return &kafka.Transport{TLS: tlsConfig}, nil
}

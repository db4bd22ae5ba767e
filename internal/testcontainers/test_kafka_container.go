// SPDX-License-Identifier: Apache-2.0

package testcontainers

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
)

const kafkaImage = "confluentinc/confluent-local:7.5.0"

// SetupKafkaContainer starts a single broker used as sync job queue and sets
// brokers to its addresses.
func SetupKafkaContainer(ctx context.Context, brokers *[]string) (Cleanup, error) {
	ctr, err := kafka.Run(ctx, kafkaImage,
		kafka.WithClusterID("searchsync-jobs"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("Kafka Server started").
				WithOccurrence(1).
				WithStartupTimeout(10*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start kafka container: %w", err)
	}

	*brokers, err = ctr.Brokers(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieving brokers for kafka container: %w", err)
	}
	return terminate(ctx, ctr), nil
}

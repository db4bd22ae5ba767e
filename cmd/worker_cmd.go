// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	kafkaqueue "github.com/xataio/searchsync/pkg/orchestrator/queue/kafka"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Processes the sync jobs published to the kafka queue",
	RunE:  withSignalWatcher(work),
	Example: `
	searchsync worker -c searchsync.yaml`,
}

func work(ctx context.Context, cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.config.KafkaQueue == nil {
		return errNoKafkaQueue
	}

	rt, err := a.newSyncRuntime(ctx, syncOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	consumer, err := kafkaqueue.NewConsumer(&a.config.KafkaQueue.Consumer, kafkaqueue.WithConsumerLogger(a.logger))
	if err != nil {
		return fmt.Errorf("creating job consumer: %w", err)
	}
	defer consumer.Close()

	a.logger.Info("processing sync jobs")
	return consumer.Run(ctx, rt.orchestrator)
}

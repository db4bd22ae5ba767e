// SPDX-License-Identifier: Apache-2.0

package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xataio/searchsync/internal/backoff"
	"github.com/xataio/searchsync/internal/json"
	kafkalib "github.com/xataio/searchsync/internal/kafka"
	loglib "github.com/xataio/searchsync/pkg/log"
	"github.com/xataio/searchsync/pkg/orchestrator"
)

// Queue publishes jobs to a kafka topic. Jobs are keyed by index handle, so
// the jobs of one index land on the same partition.
type Queue struct {
	logger loglib.Logger
	writer kafkalib.MessageWriter
}

type Option func(*Queue)

var _ orchestrator.Queue = (*Queue)(nil)

func NewQueue(cfg kafkalib.WriterConfig, opts ...Option) (*Queue, error) {
	q := &Queue{
		logger: loglib.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}

	writer, err := kafkalib.NewWriter(cfg, q.logger)
	if err != nil {
		return nil, err
	}
	q.writer = writer
	return q, nil
}

func WithLogger(l loglib.Logger) Option {
	return func(q *Queue) {
		q.logger = loglib.NewModuleLogger(l, "kafka_job_queue")
	}
}

func (q *Queue) Enqueue(ctx context.Context, job orchestrator.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshalling job %s: %w", job.ID, err)
	}
	if err := q.writer.WriteMessages(ctx, kafkalib.Message{
		Key:   []byte(job.IndexHandle()),
		Value: value,
	}); err != nil {
		return fmt.Errorf("publishing %s job %s: %w", job.Kind, job.ID, err)
	}
	q.logger.Trace("job published", loglib.Fields{"job_id": job.ID, "job_kind": string(job.Kind), loglib.IndexField: job.IndexHandle()})
	return nil
}

func (q *Queue) Close() error {
	return q.writer.Close()
}

// Consumer reads jobs from a kafka topic and hands them to the orchestrator.
// A message is committed once its job is done or has failed for good.
type Consumer struct {
	logger          loglib.Logger
	reader          kafkalib.MessageReader
	backoffProvider backoff.Provider
}

type ConsumerConfig struct {
	Reader kafkalib.ReaderConfig `mapstructure:"reader" yaml:"reader"`
	Retry  backoff.Config        `mapstructure:"retry" yaml:"retry"`
}

type ConsumerOption func(*Consumer)

func NewConsumer(cfg *ConsumerConfig, opts ...ConsumerOption) (*Consumer, error) {
	c := &Consumer{
		logger:          loglib.NewNoopLogger(),
		backoffProvider: backoff.NewProvider(&cfg.Retry),
	}
	for _, opt := range opts {
		opt(c)
	}

	reader, err := kafkalib.NewReader(cfg.Reader, c.logger)
	if err != nil {
		return nil, err
	}
	c.reader = reader
	return c, nil
}

func WithConsumerLogger(l loglib.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = loglib.NewModuleLogger(l, "kafka_job_consumer")
	}
}

func (c *Consumer) Run(ctx context.Context, h orchestrator.Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetching job: %w", err)
		}

		if err := c.process(ctx, h, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				// uncommitted, the job will be redelivered
				return nil
			}
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("committing job message: %w", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// process only returns an error when the job should be redelivered.
func (c *Consumer) process(ctx context.Context, h orchestrator.Handler, msg *kafkalib.Message) error {
	logFields := loglib.Fields{"partition": msg.Partition, "offset": msg.Offset}

	job := orchestrator.Job{}
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		c.logger.Error(err, "dropping undecodable job message", logFields)
		return nil
	}
	if err := job.Validate(); err != nil {
		c.logger.Error(err, "dropping invalid job", logFields)
		return nil
	}

	logFields = loglib.MergeFields(logFields, loglib.Fields{
		"job_id":          job.ID,
		"job_kind":        string(job.Kind),
		loglib.IndexField: job.IndexHandle(),
	})
	err := orchestrator.RetryJob(ctx, c.backoffProvider, h, job, func(err error, d time.Duration) {
		c.logger.Warn(err, "job failed, retrying", loglib.MergeFields(logFields, loglib.Fields{"backoff": d}))
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		c.logger.Error(err, "job failed", logFields)
		return nil
	}
	c.logger.Trace("job done", logFields)
	return nil
}

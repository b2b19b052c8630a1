// Package amqpctrl publishes job messages to a durable AMQP queue through
// watermill.
package amqpctrl

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"logingest/src/apperr"
	"logingest/src/core/ingest"
)

// NewPublisher dials the broker with a durable queue configuration.
func NewPublisher(url string, logger watermill.LoggerAdapter) (*amqp.Publisher, error) {
	publisher, err := amqp.NewPublisher(amqp.NewDurableQueueConfig(url), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create amqp publisher: %w", err)
	}
	return publisher, nil
}

type Queue struct {
	publisher message.Publisher
	topic     string
}

func NewQueue(publisher message.Publisher, topic string) *Queue {
	return &Queue{publisher: publisher, topic: topic}
}

func (q *Queue) Enqueue(ctx context.Context, msg ingest.Message) error {
	payload, err := msg.Marshal()
	if err != nil {
		return apperr.ErrQueue.WithMessage("Failed to encode job message").Wrap(err)
	}

	m := message.NewMessage(watermill.NewUUID(), payload)
	m.Metadata.Set("job_id", msg.JobID)
	m.Metadata.Set("job_type", string(msg.JobType))
	m.SetContext(ctx)

	if err := q.publisher.Publish(q.topic, m); err != nil {
		return apperr.ErrQueue.WithMessage("Failed to enqueue job %s", msg.JobID).Wrap(err)
	}
	return nil
}

// Ping reports the broker connection state when the publisher exposes it.
func (q *Queue) Ping(_ context.Context) error {
	if c, ok := q.publisher.(interface{ IsConnected() bool }); ok && !c.IsConnected() {
		return apperr.ErrQueue.WithMessage("AMQP connection is down")
	}
	return nil
}

func (q *Queue) Close() error {
	return q.publisher.Close()
}

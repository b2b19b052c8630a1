// Package redisstream appends job messages to a capped redis stream.
package redisstream

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"logingest/src/apperr"
	"logingest/src/core/ingest"
)

const (
	DefaultStream = "log_jobs"
	DefaultMaxLen = 10000

	// Field holds the JSON encoded message in each stream entry.
	Field = "data"
)

type Config struct {
	URL    string
	Stream string
	MaxLen int64
}

// NewClient connects to redis and verifies the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

type Queue struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewQueue(client *redis.Client, stream string, maxLen int64) *Queue {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Queue{client: client, stream: stream, maxLen: maxLen}
}

func (q *Queue) Stream() string { return q.stream }

// Enqueue runs XADD <stream> MAXLEN <n> * data <json>.
func (q *Queue) Enqueue(ctx context.Context, msg ingest.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return apperr.ErrQueue.WithMessage("Failed to encode job message").Wrap(err)
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Values: map[string]interface{}{Field: data},
	}).Err()
	if err != nil {
		return apperr.ErrQueue.WithMessage("Failed to enqueue job %s", msg.JobID).Wrap(err)
	}
	return nil
}

func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return apperr.ErrQueue.Wrap(err)
	}
	return nil
}

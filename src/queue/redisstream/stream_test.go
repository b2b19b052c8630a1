package redisstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"logingest/src/apperr"
	"logingest/src/core/ingest"
	"logingest/src/core/job"
	"logingest/src/queue/redisstream"
)

func newTestQueue(t *testing.T, maxLen int64) (*redisstream.Queue, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return redisstream.NewQueue(client, "log_jobs", maxLen), client, mr
}

func message(id string) ingest.Message {
	return ingest.Message{
		JobID:   id,
		JobType: job.TypeFileUpload,
		Payload: ingest.Payload{
			Bucket:    "log-uploads",
			Key:       "raw-logs/" + id + ".log",
			LogFormat: job.LogFormatNDJSON,
			FileSize:  2048,
		},
	}
}

func TestEnqueue(t *testing.T) {
	q, client, _ := newTestQueue(t, 10000)
	ctx := context.Background()

	if err := q.Enqueue(ctx, message("job-1")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	entries, err := client.XRange(ctx, "log_jobs", "-", "+").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("stream has %d entries, want 1", len(entries))
	}

	raw, ok := entries[0].Values[redisstream.Field].(string)
	if !ok {
		t.Fatalf("entry values = %v", entries[0].Values)
	}
	var got ingest.Message
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatal(err)
	}
	if got != message("job-1") {
		t.Errorf("message = %+v", got)
	}

	var wire map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatal(err)
	}
	payload, _ := wire["payload"].(map[string]interface{})
	for _, k := range []string{"bucket", "key", "log_format", "file_size"} {
		if _, ok := payload[k]; !ok {
			t.Errorf("payload missing %q: %s", k, raw)
		}
	}
}

func TestEnqueueTrimsStream(t *testing.T) {
	q, client, _ := newTestQueue(t, 3)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if err := q.Enqueue(ctx, message(id)); err != nil {
			t.Fatal(err)
		}
	}
	n, err := client.XLen(ctx, "log_jobs").Result()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("XLEN = %d, want 3", n)
	}
}

func TestEnqueueUnavailable(t *testing.T) {
	q, _, mr := newTestQueue(t, 10)
	mr.Close()

	err := q.Enqueue(context.Background(), message("job-1"))
	if !errors.Is(err, apperr.ErrQueue) {
		t.Errorf("Enqueue() error = %v, want QUEUE_ERROR", err)
	}
	if err := q.Ping(context.Background()); !errors.Is(err, apperr.ErrQueue) {
		t.Errorf("Ping() error = %v, want QUEUE_ERROR", err)
	}
}

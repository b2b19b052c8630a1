package ingest

import (
	"context"
	"encoding/json"
	"time"

	"logingest/src/core/job"
)

// Message is the job-ready notice appended to the processing stream.
type Message struct {
	JobID   string   `json:"job_id"`
	JobType job.Type `json:"job_type"`
	Payload Payload  `json:"payload"`
}

type Payload struct {
	Bucket    string        `json:"bucket"`
	Key       string        `json:"key"`
	LogFormat job.LogFormat `json:"log_format"`
	FileSize  int64         `json:"file_size"`
}

func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func NewMessage(j *job.Job, u *job.FileUpload) Message {
	return Message{
		JobID:   j.JobID,
		JobType: j.JobType,
		Payload: Payload{
			Bucket:    u.Bucket,
			Key:       u.ObjectKey,
			LogFormat: u.LogFormat,
			FileSize:  u.FileSize,
		},
	}
}

// ObjectStorage issues upload capabilities and answers existence queries.
type ObjectStorage interface {
	PresignedUploadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Bucket() string
	Type() job.StorageType
}

// Queue appends job-ready messages to a durable, bounded stream.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
}

package job

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Type is immutable after creation.
type Type string

const (
	TypeFileUpload   Type = "FILE_UPLOAD"
	TypeStreamIngest Type = "STREAM_INGEST"
)

type StorageType string

const (
	StorageS3    StorageType = "s3"
	StorageLocal StorageType = "local"
)

type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"
	LogFormatText   LogFormat = "text"
	LogFormatCSV    LogFormat = "csv"
	LogFormatNDJSON LogFormat = "ndjson"
)

// ParseLogFormat normalizes s. Unknown values resolve to json and report
// false so callers can log the coercion.
func ParseLogFormat(s string) (LogFormat, bool) {
	switch f := LogFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case LogFormatJSON, LogFormatText, LogFormatCSV, LogFormatNDJSON:
		return f, true
	default:
		return LogFormatJSON, false
	}
}

// Job is one unit of ingestion work.
type Job struct {
	JobID        string     `json:"job_id" gorm:"primaryKey;type:varchar(36)"`
	JobType      Type       `json:"job_type" gorm:"type:varchar(32);not null;index"`
	Source       string     `json:"source" gorm:"type:varchar(64);not null;default:api"`
	Status       Status     `json:"status" gorm:"type:varchar(32);not null;index"`
	Progress     int        `json:"progress" gorm:"not null;default:0"`
	RetryCount   int        `json:"retry_count" gorm:"not null;default:0"`
	CreatedAt    time.Time  `json:"created_at" gorm:"not null;index"`
	QueuedAt     *time.Time `json:"queued_at"`
	StartedAt    *time.Time `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"not null"`
	ErrorMessage *string    `json:"error_message"`

	Upload *FileUpload `json:"-" gorm:"foreignKey:JobID;references:JobID;constraint:OnDelete:CASCADE"`
}

func (Job) TableName() string { return "jobs" }

// FileUpload records where the source file of a FILE_UPLOAD job lives.
type FileUpload struct {
	JobID       string      `json:"job_id" gorm:"primaryKey;type:varchar(36)"`
	StorageType StorageType `json:"storage_type" gorm:"type:varchar(16);not null"`
	Bucket      string      `json:"bucket" gorm:"type:varchar(255)"`
	ObjectKey   string      `json:"object_key" gorm:"type:varchar(1024);not null"`
	LocalPath   *string     `json:"local_path"`
	FileSize    int64       `json:"file_size" gorm:"not null"`
	LogFormat   LogFormat   `json:"log_format" gorm:"type:varchar(16);not null"`
	CreatedAt   time.Time   `json:"created_at" gorm:"not null"`
}

func (FileUpload) TableName() string { return "file_uploads" }

// New returns a CREATED job with a fresh id.
func New(jobType Type, source string) *Job {
	t := now().UTC()
	return &Job{
		JobID:     uuid.NewString(),
		JobType:   jobType,
		Source:    source,
		Status:    StatusCreated,
		CreatedAt: t,
		UpdatedAt: t,
	}
}

// ObjectKey derives the storage key of a job's file. Only the extension of
// filename is used, so the key never carries client text beyond it.
func ObjectKey(jobID, filename string) string {
	ext := "log"
	if i := strings.LastIndex(filename, "."); i >= 0 && i < len(filename)-1 {
		ext = filename[i+1:]
	}
	return "raw-logs/" + jobID + "." + ext
}

// ListFilter selects jobs for listing. Zero values match everything.
type ListFilter struct {
	Status Status
	Type   Type
	Offset int
	Limit  int
}

// Store is the set of persistence operations available inside and outside
// a transaction.
type Store interface {
	CreateJob(ctx context.Context, j *Job) error
	// GetJob returns apperr.ErrJobNotFound when no row matches.
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// UpdateJob persists j only if the stored status still equals from and
	// returns apperr.ErrInvalidJobState otherwise.
	UpdateJob(ctx context.Context, j *Job, from Status) error
	CreateFileUpload(ctx context.Context, u *FileUpload) error
	// GetFileUpload returns apperr.ErrJobNotFound when no row matches.
	GetFileUpload(ctx context.Context, jobID string) (*FileUpload, error)
	// ListJobs returns a page of jobs, newest first, and the total match count.
	ListJobs(ctx context.Context, filter ListFilter) ([]Job, int64, error)
}

// Repository is a Store that can run a function inside one ACID transaction.
// The transaction is rolled back when fn returns an error.
type Repository interface {
	Store
	Transaction(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

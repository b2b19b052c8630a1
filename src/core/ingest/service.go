// Package ingest runs the two-phase upload protocol: a job is created with
// an upload URL, the client uploads directly to storage, and completion
// moves the job to QUEUED and hands it to the processing stream.
package ingest

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"logingest/src/apperr"
	"logingest/src/core/job"
)

const (
	SourceAPI = "api"

	DefaultListLimit = 100
	MaxListLimit     = 1000
)

type Service struct {
	repo    job.Repository
	storage ObjectStorage
	queue   Queue
	urlTTL  time.Duration
	logger  logr.Logger
}

func NewService(repo job.Repository, storage ObjectStorage, queue Queue, urlTTL time.Duration, logger logr.Logger) *Service {
	return &Service{
		repo:    repo,
		storage: storage,
		queue:   queue,
		urlTTL:  urlTTL,
		logger:  logger.WithName("ingest"),
	}
}

type InitResult struct {
	Job       *job.Job
	Upload    *job.FileUpload
	URL       string
	ExpiresIn int
}

// InitUpload creates a CREATED job and its upload record and returns a
// time-limited URL for the client to upload to. Nothing is persisted when
// the URL cannot be issued.
func (s *Service) InitUpload(ctx context.Context, filename string, size int64, logFormat string) (*InitResult, error) {
	format, ok := job.ParseLogFormat(logFormat)
	if !ok {
		s.logger.Info("Unknown log format, using json", "log_format", logFormat)
	}

	var result *InitResult
	err := s.repo.Transaction(ctx, func(tx job.Store) error {
		j := job.New(job.TypeFileUpload, SourceAPI)
		if err := tx.CreateJob(ctx, j); err != nil {
			return err
		}

		upload := &job.FileUpload{
			JobID:       j.JobID,
			StorageType: s.storage.Type(),
			Bucket:      s.storage.Bucket(),
			ObjectKey:   job.ObjectKey(j.JobID, filename),
			FileSize:    size,
			LogFormat:   format,
			CreatedAt:   j.CreatedAt,
		}
		if err := tx.CreateFileUpload(ctx, upload); err != nil {
			return err
		}

		url, err := s.storage.PresignedUploadURL(ctx, upload.ObjectKey, s.urlTTL)
		if err != nil {
			return apperr.Ensure(err, apperr.ErrStorage)
		}

		result = &InitResult{
			Job:       j,
			Upload:    upload,
			URL:       url,
			ExpiresIn: int(s.urlTTL / time.Second),
		}
		return nil
	})
	if err != nil {
		s.logger.Error(err, "Failed to initialize upload", "filename", filename)
		return nil, apperr.Ensure(err, apperr.ErrDatabase)
	}

	s.logger.Info("Upload initialized",
		"job_id", result.Job.JobID,
		"object_key", result.Upload.ObjectKey,
		"size", size,
		"log_format", format,
	)
	return result, nil
}

// CompleteUpload verifies the uploaded object and moves the job to QUEUED.
// The status change is committed only after the message was enqueued, and
// the update is conditional on the job still being CREATED so concurrent
// completions of one job enqueue at most once.
func (s *Service) CompleteUpload(ctx context.Context, jobID string) (*job.Job, error) {
	var queued *job.Job
	err := s.repo.Transaction(ctx, func(tx job.Store) error {
		j, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if err := job.RequireStatus(j, job.StatusCreated); err != nil {
			return err
		}

		upload, err := tx.GetFileUpload(ctx, jobID)
		if err != nil {
			return err
		}

		exists, err := s.storage.Exists(ctx, upload.ObjectKey)
		if err != nil {
			return apperr.Ensure(err, apperr.ErrStorage)
		}
		if !exists {
			return apperr.ErrStorage.WithMessage("File not found in storage: %s", upload.ObjectKey)
		}

		if err := j.Advance(job.StatusQueued, ""); err != nil {
			return err
		}
		if err := tx.UpdateJob(ctx, j, job.StatusCreated); err != nil {
			return err
		}

		if err := s.queue.Enqueue(ctx, NewMessage(j, upload)); err != nil {
			return apperr.Ensure(err, apperr.ErrQueue)
		}

		queued = j
		return nil
	})
	if err != nil {
		if apperr.IsInfrastructure(err) {
			s.logger.Error(err, "Failed to complete upload", "job_id", jobID)
		} else {
			s.logger.V(1).Info("Upload completion rejected", "job_id", jobID, "error", err.Error())
		}
		return nil, apperr.Ensure(err, apperr.ErrDatabase)
	}

	s.logger.Info("Upload completed and queued", "job_id", jobID)
	return queued, nil
}

// GetJob looks a job up by id.
func (s *Service) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	j, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, apperr.Ensure(err, apperr.ErrDatabase)
	}
	return j, nil
}

// ListJobs returns jobs newest first. A zero limit means DefaultListLimit.
func (s *Service) ListJobs(ctx context.Context, filter job.ListFilter) ([]job.Job, int64, error) {
	if filter.Limit == 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit < 1 || filter.Limit > MaxListLimit {
		return nil, 0, apperr.ErrValidation.WithMessage("limit must be between 1 and %d", MaxListLimit)
	}
	if filter.Offset < 0 {
		return nil, 0, apperr.ErrValidation.WithMessage("offset must be >= 0")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, apperr.ErrValidation.WithMessage("unknown status %q", filter.Status)
	}

	jobs, total, err := s.repo.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, apperr.Ensure(err, apperr.ErrDatabase)
	}
	return jobs, total, nil
}

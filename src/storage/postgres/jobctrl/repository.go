package jobctrl

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"logingest/src/apperr"
	"logingest/src/core/job"
)

type Repository struct {
	db *gorm.DB
}

var _ job.Repository = (*Repository)(nil)

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the jobs and file_uploads tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&job.Job{}, &job.FileUpload{}); err != nil {
		return fmt.Errorf("failed to migrate job tables: %w", err)
	}
	return nil
}

func (r *Repository) Transaction(ctx context.Context, fn func(tx job.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return apperr.ErrDatabase.Wrap(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperr.ErrDatabase.Wrap(err)
	}
	return nil
}

func (r *Repository) CreateJob(ctx context.Context, j *job.Job) error {
	if err := r.db.WithContext(ctx).Omit("Upload").Create(j).Error; err != nil {
		return apperr.ErrDatabase.WithMessage("Failed to create job").Wrap(err)
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrJobNotFound.WithMessage("Job %s not found", jobID)
	}
	if err != nil {
		return nil, apperr.ErrDatabase.WithMessage("Failed to get job").Wrap(err)
	}
	return &j, nil
}

// UpdateJob writes the mutable columns of j guarded by the expected current
// status. The UPDATE takes the row lock, so a concurrent writer blocks until
// the first commits and then matches zero rows.
func (r *Repository) UpdateJob(ctx context.Context, j *job.Job, from job.Status) error {
	result := r.db.WithContext(ctx).
		Model(&job.Job{}).
		Where("job_id = ? AND status = ?", j.JobID, from).
		Updates(map[string]interface{}{
			"status":        j.Status,
			"progress":      j.Progress,
			"retry_count":   j.RetryCount,
			"queued_at":     j.QueuedAt,
			"started_at":    j.StartedAt,
			"finished_at":   j.FinishedAt,
			"updated_at":    j.UpdatedAt,
			"error_message": j.ErrorMessage,
		})
	if result.Error != nil {
		return apperr.ErrDatabase.WithMessage("Failed to update job").Wrap(result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.ErrInvalidJobState.WithMessage("Job %s is no longer %s", j.JobID, from)
	}
	return nil
}

func (r *Repository) CreateFileUpload(ctx context.Context, u *job.FileUpload) error {
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return apperr.ErrDatabase.WithMessage("Failed to create file upload").Wrap(err)
	}
	return nil
}

func (r *Repository) GetFileUpload(ctx context.Context, jobID string) (*job.FileUpload, error) {
	var u job.FileUpload
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrJobNotFound.WithMessage("File upload for job %s not found", jobID)
	}
	if err != nil {
		return nil, apperr.ErrDatabase.WithMessage("Failed to get file upload").Wrap(err)
	}
	return &u, nil
}

func (r *Repository) ListJobs(ctx context.Context, f job.ListFilter) ([]job.Job, int64, error) {
	matching := func(db *gorm.DB) *gorm.DB {
		if f.Status != "" {
			db = db.Where("status = ?", f.Status)
		}
		if f.Type != "" {
			db = db.Where("job_type = ?", f.Type)
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&job.Job{}).Scopes(matching).Count(&total).Error; err != nil {
		return nil, 0, apperr.ErrDatabase.WithMessage("Failed to count jobs").Wrap(err)
	}

	query := r.db.WithContext(ctx).
		Scopes(matching).
		Order("created_at DESC").
		Order("job_id DESC").
		Offset(f.Offset)
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var jobs []job.Job
	if err := query.Find(&jobs).Error; err != nil {
		return nil, 0, apperr.ErrDatabase.WithMessage("Failed to list jobs").Wrap(err)
	}
	return jobs, total, nil
}

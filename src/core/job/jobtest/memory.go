// Package jobtest provides an in-memory job.Repository for tests.
package jobtest

import (
	"context"
	"sort"
	"sync"

	"logingest/src/apperr"
	"logingest/src/core/job"
)

// Memory keeps committed rows in maps. A transaction stages its writes and
// applies them on commit. UpdateJob takes a row lock held until the
// transaction ends and then checks the committed status, the way a
// conditional UPDATE behaves in postgres. Reads are not serialized, so two
// transactions may both observe the same status.
type Memory struct {
	mu      sync.Mutex
	jobs    map[string]job.Job
	uploads map[string]job.FileUpload
	rows    map[string]*sync.Mutex

	// Err, when set, is returned by every store call.
	Err error
}

var _ job.Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[string]job.Job),
		uploads: make(map[string]job.FileUpload),
		rows:    make(map[string]*sync.Mutex),
	}
}

func (m *Memory) Transaction(ctx context.Context, fn func(tx job.Store) error) error {
	tx := &memoryTx{
		m:       m,
		jobs:    make(map[string]job.Job),
		uploads: make(map[string]job.FileUpload),
		held:    make(map[string]*sync.Mutex),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return m.Err }

// Len returns the number of committed jobs and uploads.
func (m *Memory) Len() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs), len(m.uploads)
}

func (m *Memory) CreateJob(ctx context.Context, j *job.Job) error {
	return m.Transaction(ctx, func(tx job.Store) error { return tx.CreateJob(ctx, j) })
}

func (m *Memory) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	var j *job.Job
	err := m.Transaction(ctx, func(tx job.Store) (err error) {
		j, err = tx.GetJob(ctx, jobID)
		return err
	})
	return j, err
}

func (m *Memory) UpdateJob(ctx context.Context, j *job.Job, from job.Status) error {
	return m.Transaction(ctx, func(tx job.Store) error { return tx.UpdateJob(ctx, j, from) })
}

func (m *Memory) CreateFileUpload(ctx context.Context, u *job.FileUpload) error {
	return m.Transaction(ctx, func(tx job.Store) error { return tx.CreateFileUpload(ctx, u) })
}

func (m *Memory) GetFileUpload(ctx context.Context, jobID string) (*job.FileUpload, error) {
	var u *job.FileUpload
	err := m.Transaction(ctx, func(tx job.Store) (err error) {
		u, err = tx.GetFileUpload(ctx, jobID)
		return err
	})
	return u, err
}

func (m *Memory) ListJobs(ctx context.Context, filter job.ListFilter) ([]job.Job, int64, error) {
	var (
		jobs  []job.Job
		total int64
	)
	err := m.Transaction(ctx, func(tx job.Store) (err error) {
		jobs, total, err = tx.ListJobs(ctx, filter)
		return err
	})
	return jobs, total, err
}

func (m *Memory) rowLock(jobID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[jobID]
	if !ok {
		l = &sync.Mutex{}
		m.rows[jobID] = l
	}
	return l
}

// memoryTx is one open transaction. Its maps hold staged rows.
type memoryTx struct {
	m       *Memory
	jobs    map[string]job.Job
	uploads map[string]job.FileUpload
	held    map[string]*sync.Mutex
}

func (tx *memoryTx) commit() {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	for id, j := range tx.jobs {
		tx.m.jobs[id] = j
	}
	for id, u := range tx.uploads {
		tx.m.uploads[id] = u
	}
}

func (tx *memoryTx) release() {
	for id, l := range tx.held {
		l.Unlock()
		delete(tx.held, id)
	}
}

func (tx *memoryTx) committedJob(jobID string) (job.Job, bool) {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	j, ok := tx.m.jobs[jobID]
	return j, ok
}

func (tx *memoryTx) committedUpload(jobID string) (job.FileUpload, bool) {
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()
	u, ok := tx.m.uploads[jobID]
	return u, ok
}

func (tx *memoryTx) lookupJob(jobID string) (job.Job, bool) {
	if j, ok := tx.jobs[jobID]; ok {
		return j, true
	}
	return tx.committedJob(jobID)
}

func (tx *memoryTx) lookupUpload(jobID string) (job.FileUpload, bool) {
	if u, ok := tx.uploads[jobID]; ok {
		return u, true
	}
	return tx.committedUpload(jobID)
}

func (tx *memoryTx) CreateJob(_ context.Context, j *job.Job) error {
	if tx.m.Err != nil {
		return apperr.Ensure(tx.m.Err, apperr.ErrDatabase)
	}
	if _, ok := tx.lookupJob(j.JobID); ok {
		return apperr.ErrDatabase.WithMessage("duplicate job %s", j.JobID)
	}
	tx.jobs[j.JobID] = *j
	return nil
}

func (tx *memoryTx) GetJob(_ context.Context, jobID string) (*job.Job, error) {
	if tx.m.Err != nil {
		return nil, apperr.Ensure(tx.m.Err, apperr.ErrDatabase)
	}
	j, ok := tx.lookupJob(jobID)
	if !ok {
		return nil, apperr.ErrJobNotFound.WithMessage("Job %s not found", jobID)
	}
	return &j, nil
}

func (tx *memoryTx) UpdateJob(_ context.Context, j *job.Job, from job.Status) error {
	if tx.m.Err != nil {
		return apperr.Ensure(tx.m.Err, apperr.ErrDatabase)
	}

	cur, staged := tx.jobs[j.JobID]
	if !staged {
		if _, ok := tx.held[j.JobID]; !ok {
			l := tx.m.rowLock(j.JobID)
			l.Lock()
			tx.held[j.JobID] = l
		}
		var ok bool
		if cur, ok = tx.committedJob(j.JobID); !ok {
			return apperr.ErrJobNotFound.WithMessage("Job %s not found", j.JobID)
		}
	}
	if cur.Status != from {
		return apperr.ErrInvalidJobState.WithMessage("Job %s is %s, expected %s", j.JobID, cur.Status, from)
	}
	tx.jobs[j.JobID] = *j
	return nil
}

func (tx *memoryTx) CreateFileUpload(_ context.Context, u *job.FileUpload) error {
	if tx.m.Err != nil {
		return apperr.Ensure(tx.m.Err, apperr.ErrDatabase)
	}
	if _, ok := tx.lookupJob(u.JobID); !ok {
		return apperr.ErrDatabase.WithMessage("file upload references unknown job %s", u.JobID)
	}
	if _, ok := tx.lookupUpload(u.JobID); ok {
		return apperr.ErrDatabase.WithMessage("duplicate file upload %s", u.JobID)
	}
	tx.uploads[u.JobID] = *u
	return nil
}

func (tx *memoryTx) GetFileUpload(_ context.Context, jobID string) (*job.FileUpload, error) {
	if tx.m.Err != nil {
		return nil, apperr.Ensure(tx.m.Err, apperr.ErrDatabase)
	}
	u, ok := tx.lookupUpload(jobID)
	if !ok {
		return nil, apperr.ErrJobNotFound.WithMessage("File upload for job %s not found", jobID)
	}
	return &u, nil
}

func (tx *memoryTx) ListJobs(_ context.Context, f job.ListFilter) ([]job.Job, int64, error) {
	if tx.m.Err != nil {
		return nil, 0, apperr.Ensure(tx.m.Err, apperr.ErrDatabase)
	}

	visible := make(map[string]job.Job)
	tx.m.mu.Lock()
	for id, j := range tx.m.jobs {
		visible[id] = j
	}
	tx.m.mu.Unlock()
	for id, j := range tx.jobs {
		visible[id] = j
	}

	var matched []job.Job
	for _, j := range visible {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Type != "" && j.JobType != f.Type {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(a, b int) bool {
		if matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].JobID > matched[b].JobID
		}
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := int64(len(matched))
	if f.Offset >= len(matched) {
		return []job.Job{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

package job

import (
	"time"

	"logingest/src/apperr"
)

var now = time.Now

var transitions = map[Status][]Status{
	StatusCreated:    {StatusQueued, StatusCancelled},
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RequireStatus fails with ErrInvalidJobState unless j is in expected.
func RequireStatus(j *Job, expected Status) error {
	if j.Status != expected {
		return apperr.ErrInvalidJobState.WithMessage("Job %s is %s, expected %s", j.JobID, j.Status, expected)
	}
	return nil
}

// Advance moves j to target. The queued, started and finished timestamps
// are set on first entry only. Advance performs no I/O.
func (j *Job) Advance(target Status, errorMessage string) error {
	if !CanTransition(j.Status, target) {
		return apperr.ErrInvalidJobState.WithMessage("Cannot move job %s from %s to %s", j.JobID, j.Status, target)
	}

	t := now().UTC()
	switch {
	case target == StatusQueued:
		if j.QueuedAt == nil {
			j.QueuedAt = &t
		}
	case target == StatusProcessing:
		if j.StartedAt == nil {
			j.StartedAt = &t
		}
	case target.Terminal():
		if j.FinishedAt == nil {
			j.FinishedAt = &t
		}
	}

	j.Status = target
	if errorMessage != "" {
		msg := errorMessage
		j.ErrorMessage = &msg
	}
	j.UpdatedAt = t
	return nil
}

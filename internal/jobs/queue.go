// Package jobs holds the batch queue, the encode runner, and the
// event stream connecting them to whatever presentation layer is
// attached.
package jobs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"media-encoder/internal/domain"
)

// ErrJobNotFound is returned for operations on unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrJobNotPending is returned when removal targets a job that has
// already started.
var ErrJobNotPending = errors.New("job is not pending")

// Queue is the ordered batch of encode jobs. Status mutation happens
// only through its methods; readers always receive copies.
type Queue struct {
	mu   sync.RWMutex
	jobs []*domain.EncodeJob
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a job in pending state, assigning an ID when the
// caller supplied none, and returns the stored copy.
func (q *Queue) Enqueue(job domain.EncodeJob) domain.EncodeJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = domain.JobStatusPending
	job.Progress = 0
	job.Error = ""

	stored := job
	q.jobs = append(q.jobs, &stored)
	return stored
}

// RemovePending deletes a job that has not started yet.
func (q *Queue) RemovePending(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, job := range q.jobs {
		if job.ID != id {
			continue
		}
		if job.Status != domain.JobStatusPending {
			return fmt.Errorf("%w: %s is %s", ErrJobNotPending, id, job.Status)
		}
		q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// Get returns a copy of the job with the given ID.
func (q *Queue) Get(id string) (domain.EncodeJob, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if job := q.find(id); job != nil {
		return *job, true
	}
	return domain.EncodeJob{}, false
}

// Snapshot returns a consistent copy of all jobs in queue order.
func (q *Queue) Snapshot() []domain.EncodeJob {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]domain.EncodeJob, len(q.jobs))
	for i, job := range q.jobs {
		out[i] = *job
	}
	return out
}

// claimNext atomically selects the first pending job and moves it to
// running, so a job can never skip the running state.
func (q *Queue) claimNext() (domain.EncodeJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.Status == domain.JobStatusPending {
			job.Status = domain.JobStatusRunning
			return *job, true
		}
	}
	return domain.EncodeJob{}, false
}

// transition applies a forward-only status change.
func (q *Queue) transition(id string, to domain.JobStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := q.find(id)
	if job == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !validTransition(job.Status, to) {
		return fmt.Errorf("invalid transition: %s -> %s", job.Status, to)
	}
	job.Status = to
	return nil
}

// setProgress records percent-complete for a running job.
func (q *Queue) setProgress(id string, percent float64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job := q.find(id); job != nil && job.Status == domain.JobStatusRunning {
		job.Progress = percent
	}
}

// setRate records the derived rate parameter before the encode runs.
func (q *Queue) setRate(id string, videoBitrateKbps int, quality float64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job := q.find(id); job != nil {
		if videoBitrateKbps > 0 {
			job.VideoBitrateKbps = videoBitrateKbps
		}
		if quality > 0 {
			job.Quality = quality
		}
	}
}

// setError records the failure reason on a job.
func (q *Queue) setError(id string, message string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job := q.find(id); job != nil {
		job.Error = message
	}
}

// find locates a job by ID. Callers hold the lock.
func (q *Queue) find(id string) *domain.EncodeJob {
	for _, job := range q.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

// validTransition enforces the forward-only job state machine:
// pending -> running -> succeeded | failed | cancelled, with
// pending -> cancelled allowed for jobs dropped before they start.
func validTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusPending:
		return to == domain.JobStatusRunning || to == domain.JobStatusCancelled
	case domain.JobStatusRunning:
		return to == domain.JobStatusSucceeded || to == domain.JobStatusFailed || to == domain.JobStatusCancelled
	default:
		return false
	}
}

package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"liquidity-sweep-backtest/services/engine"
)

type JobStatus string

const (
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Job is one backtest run. Each job owns its own engine state.
type Job struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	status   JobStatus
	report   *engine.BacktestReport
	err      *APIError
	events   []engine.Event
	changed  chan struct{}
	finished time.Time
}

func newJob() *Job {
	return &Job{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		status:    StatusRunning,
		changed:   make(chan struct{}),
	}
}

// broadcast wakes every waiter; callers hold mu
func (j *Job) broadcast() {
	close(j.changed)
	j.changed = make(chan struct{})
}

func (j *Job) appendEvent(e engine.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	j.broadcast()
}

func (j *Job) complete(r *engine.BacktestReport) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusCompleted
	j.report = r
	j.finished = time.Now().UTC()
	j.broadcast()
}

func (j *Job) fail(e *APIError) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusFailed
	j.err = e
	j.finished = time.Now().UTC()
	j.broadcast()
}

// JobView is the JSON shape of a job
type JobView struct {
	JobID      string                 `json:"job_id"`
	Status     JobStatus              `json:"status"`
	CreatedAt  time.Time              `json:"created_at"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
	Report     *engine.BacktestReport `json:"report,omitempty"`
	Error      *APIError              `json:"error,omitempty"`
}

func (j *Job) View() JobView {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := JobView{JobID: j.ID, Status: j.status, CreatedAt: j.CreatedAt, Report: j.report, Error: j.err}
	if !j.finished.IsZero() {
		f := j.finished
		v.FinishedAt = &f
	}
	return v
}

func (j *Job) Report() (*engine.BacktestReport, JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.report, j.status
}

// Follow delivers events from index from onward, blocking until more arrive.
// It returns when the job has finished and every event was delivered, or ctx ends.
func (j *Job) Follow(ctx context.Context, from int, fn func(engine.Event) error) error {
	sent := from
	for {
		j.mu.Lock()
		pending := append([]engine.Event(nil), j.events[min(sent, len(j.events)):]...)
		done := j.status != StatusRunning
		wait := j.changed
		j.mu.Unlock()

		for _, e := range pending {
			if err := fn(e); err != nil {
				return err
			}
			sent++
		}
		if done {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Wait blocks until the job leaves the running state
func (j *Job) Wait(ctx context.Context) error {
	for {
		j.mu.Lock()
		done := j.status != StatusRunning
		wait := j.changed
		j.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// JobStore keeps jobs in memory for the life of the process
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

func (s *JobStore) Create() *Job {
	j := newJob()
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
	return j
}

func (s *JobStore) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok
}

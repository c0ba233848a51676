package grader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quarkoj/quark"
	"github.com/quarkoj/quark/db"
)

// Registry is the in-memory index of every job, mirroring the persistent
// store. Each mutation computes the next state and writes it through to
// the store inside the same critical section, so readers never observe a
// state the store does not (or will not) hold.
type Registry struct {
	mu   sync.RWMutex
	jobs map[int]*quark.Job

	store *db.DB
}

func NewRegistry(store *db.DB) *Registry {
	return &Registry{
		jobs:  make(map[int]*quark.Job),
		store: store,
	}
}

// Add registers a freshly persisted job.
func (r *Registry) Add(job *quark.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
}

// Job returns a snapshot of one job, or nil if unknown.
func (r *Registry) Job(id int) *quark.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id].Clone()
}

// Jobs returns snapshots of every job, in no particular order.
func (r *Registry) Jobs() []*quark.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*quark.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	return out
}

// Claim transitions a job to Running on behalf of a worker. It returns a
// snapshot to judge from, or nil if the job is not Queueing anymore
// (canceled, or re-enqueued spuriously).
func (r *Registry) Claim(ctx context.Context, id int) *quark.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := r.jobs[id]
	if job == nil || job.State != quark.StateQueueing {
		return nil
	}

	now := quark.Now()
	upd := &quark.JobUpdate{State: ptr(quark.StateRunning), Result: ptr(quark.VerdictRunning)}
	if err := r.store.ApplyJobUpdate(ctx, id, upd, now); err != nil {
		slog.WarnContext(ctx, "Couldn't persist Running transition", slog.Int("job_id", id), slog.Any("err", err))
		return nil
	}
	upd.Apply(job)
	job.UpdatedTime = now
	return job.Clone()
}

// Apply writes one judging delta to memory and store.
func (r *Registry) Apply(ctx context.Context, id int, upd *quark.JobUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := r.jobs[id]
	if job == nil {
		return fmt.Errorf("job %d vanished from registry", id)
	}

	now := quark.Now()
	if err := r.store.ApplyJobUpdate(ctx, id, upd, now); err != nil {
		return fmt.Errorf("couldn't persist update for job %d: %w", id, err)
	}
	upd.Apply(job)
	job.UpdatedTime = now
	return nil
}

// Cancel performs the Queueing→Canceled transition. The job stays in the
// queue; workers skip it on pop since it is no longer Queueing.
func (r *Registry) Cancel(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := r.jobs[id]
	if job == nil {
		return quark.Statusf(quark.CodeNotFound, "Job %d not found.", id)
	}
	if job.State != quark.StateQueueing {
		return quark.Statusf(quark.CodeInvalidState, "Job %d not queueing.", id)
	}

	now := quark.Now()
	if err := r.store.CancelJob(ctx, id, now); err != nil {
		return quark.WrapExternal(err)
	}
	job.State = quark.StateCanceled
	job.Result = quark.VerdictSkipped
	for i := range job.Cases {
		job.Cases[i].Result = quark.VerdictSkipped
	}
	job.UpdatedTime = now
	return nil
}

// Reset reverts a Finished job to Queueing for re-judging and returns
// the fresh snapshot.
func (r *Registry) Reset(ctx context.Context, id int) (*quark.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job := r.jobs[id]
	if job == nil {
		return nil, quark.Statusf(quark.CodeNotFound, "Job %d not found.", id)
	}
	if job.State != quark.StateFinished {
		return nil, quark.Statusf(quark.CodeInvalidState, "Job %d not finished.", id)
	}

	now := quark.Now()
	if err := r.store.ResetJob(ctx, id, now); err != nil {
		return nil, quark.WrapExternal(err)
	}
	resetJob(job, now)
	return job.Clone(), nil
}

// Rehydrate loads every stored job into memory. Jobs left Queueing or
// Running by a previous process are reset to Queueing; their ids are
// returned for re-enqueueing in id order.
func (r *Registry) Rehydrate(ctx context.Context) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs, err := r.store.AllJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("couldn't load jobs from store: %w", err)
	}

	var requeue []int
	for _, job := range jobs {
		if job.State == quark.StateQueueing || job.State == quark.StateRunning {
			now := quark.Now()
			if err := r.store.ResetJob(ctx, job.ID, now); err != nil {
				return nil, fmt.Errorf("couldn't reset in-flight job %d: %w", job.ID, err)
			}
			resetJob(job, now)
			requeue = append(requeue, job.ID)
		}
		r.jobs[job.ID] = job
	}

	slog.InfoContext(ctx, "Rehydrated job registry",
		slog.Int("jobs", len(jobs)), slog.Int("requeued", len(requeue)))
	return requeue, nil
}

func resetJob(job *quark.Job, now quark.Timestamp) {
	job.State = quark.StateQueueing
	job.Result = quark.VerdictWaiting
	job.Score = 0
	for i := range job.Cases {
		job.Cases[i] = quark.JobCase{ID: i, Result: quark.VerdictWaiting}
	}
	job.UpdatedTime = now
}

func ptr[T any](v T) *T {
	return &v
}

// Package grader owns the judging pipeline: the bounded job queue, the
// in-memory registry, and the fixed pool of workers with pinned sandbox
// slots.
package grader

import (
	"context"
	"log/slog"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/quarkoj/quark"
	"github.com/quarkoj/quark/eval"
	"github.com/quarkoj/quark/eval/box"
	"github.com/quarkoj/quark/eval/judge"
	"github.com/quarkoj/quark/internal/config"
	"golang.org/x/sync/errgroup"
)

// BoxFunc builds the sandbox for one slot id. Overridable for tests.
type BoxFunc func(id int, logger *slog.Logger) (eval.Sandbox, error)

func defaultBoxFunc(id int, logger *slog.Logger) (eval.Sandbox, error) {
	return box.New(id, logger)
}

type Grader struct {
	registry *Registry
	queue    *Queue
	conf     *config.Config
	logger   *slog.Logger

	threads int
	boxFunc BoxFunc

	wg *errgroup.Group
}

// New assembles the pipeline around an already-rehydrated registry.
// threads is the worker count; worker i owns sandbox slot i.
func New(registry *Registry, queue *Queue, conf *config.Config, threads int, logger *slog.Logger) *Grader {
	registerQueueDepth(queue)
	return &Grader{
		registry: registry,
		queue:    queue,
		conf:     conf,
		logger:   logger,
		threads:  threads,
		boxFunc:  defaultBoxFunc,
	}
}

// SetBoxFunc replaces the sandbox constructor. Must be called before
// Start.
func (g *Grader) SetBoxFunc(f BoxFunc) {
	g.boxFunc = f
}

// Start launches the workers. Each acquires its pinned slot up front so
// that slot allocation failures surface at startup, not mid-judgement.
func (g *Grader) Start(ctx context.Context) error {
	g.wg, ctx = errgroup.WithContext(ctx)
	for i := 0; i < g.threads; i++ {
		sandbox, err := g.boxFunc(i, g.logger)
		if err != nil {
			return err
		}
		g.wg.Go(func() error {
			defer sandbox.Close()
			g.workerLoop(ctx, sandbox)
			return nil
		})
	}
	g.logger.Info("Grader running", slog.Int("workers", g.threads))
	return nil
}

// Wait blocks until every worker has drained its current job after the
// start context was canceled.
func (g *Grader) Wait() {
	if g.wg != nil {
		g.wg.Wait()
	}
}

func (g *Grader) workerLoop(ctx context.Context, sandbox eval.Sandbox) {
	logger := g.logger.With(slog.Int("box_id", sandbox.GetID()))
	logger.Info("Worker initialized")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker shutting down")
			return
		case jobID := <-g.queue.Chan():
			// The claimed job is drained even if shutdown starts while
			// it is being judged.
			g.judgeOne(context.WithoutCancel(ctx), jobID, sandbox, logger)
		}
	}
}

// judgeOne drives a single popped job id through the judger. Panics are
// contained: a crashing judgement must never take the worker down.
func (g *Grader) judgeOne(ctx context.Context, jobID int, sandbox eval.Sandbox, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Judger panicked", slog.Int("job_id", jobID), slog.String("panic", spew.Sdump(r)))
			g.finishPanicked(ctx, jobID)
		}
	}()

	job := g.registry.Claim(ctx, jobID)
	if job == nil {
		// Canceled while queued, or a stale id.
		jobsSkipped.Inc()
		return
	}

	problem := g.conf.Problem(job.Submission.ProblemID)
	language := g.conf.Language(job.Submission.Language)
	if problem == nil || language == nil {
		logger.Error("Job references missing configuration",
			slog.Int("job_id", jobID),
			slog.Int("problem_id", job.Submission.ProblemID),
			slog.String("language", job.Submission.Language))
		g.finishPanicked(ctx, jobID)
		return
	}

	logger.Info("Judging job", slog.Int("job_id", jobID))
	start := time.Now()

	err := judge.Run(ctx, &judge.Request{
		JobID:      jobID,
		Submission: &job.Submission,
		Problem:    problem,
		Language:   language,
		Box:        sandbox,
		Logger:     logger,
	}, func(upd *quark.JobUpdate) {
		if err := g.registry.Apply(ctx, jobID, upd); err != nil {
			logger.Warn("Couldn't apply job update", slog.Int("job_id", jobID), slog.Any("err", err))
		}
	})
	if err != nil {
		logger.Warn("Judgement aborted", slog.Int("job_id", jobID), slog.Any("err", err))
	}

	judgeDuration.Observe(time.Since(start).Seconds())
	if final := g.registry.Job(jobID); final != nil {
		jobsJudged.WithLabelValues(string(final.Result)).Inc()
		logger.Info("Job finished",
			slog.Int("job_id", jobID),
			slog.String("result", string(final.Result)),
			slog.Float64("score", final.Score))
	}
}

// finishPanicked force-finishes a job whose judgement died, so it cannot
// wedge in the Running state.
func (g *Grader) finishPanicked(ctx context.Context, jobID int) {
	err := g.registry.Apply(ctx, jobID, &quark.JobUpdate{
		State:  ptr(quark.StateFinished),
		Result: ptr(quark.VerdictSystemError),
	})
	if err != nil {
		g.logger.Error("Couldn't finish crashed job", slog.Int("job_id", jobID), slog.Any("err", err))
	}
}

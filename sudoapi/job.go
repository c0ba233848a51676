package sudoapi

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/quarkoj/quark"
	"github.com/quarkoj/quark/grader"
)

// Submit validates a submission, persists it as a fresh Queueing job,
// registers and enqueues it, and returns the stored snapshot.
func (s *BaseAPI) Submit(ctx context.Context, sub *quark.Submission) (*quark.Job, error) {
	if err := validation.ValidateStruct(sub,
		validation.Field(&sub.Language, validation.Required),
		validation.Field(&sub.UserID, validation.Min(0)),
		validation.Field(&sub.ContestID, validation.Min(0)),
	); err != nil {
		return nil, quark.Statusf(quark.CodeInvalidArgument, "Invalid submission: %v", err)
	}

	if s.conf.Language(sub.Language) == nil {
		return nil, quark.Statusf(quark.CodeNotFound, "Language %s not found.", sub.Language)
	}
	problem := s.conf.Problem(sub.ProblemID)
	if problem == nil {
		return nil, quark.Statusf(quark.CodeNotFound, "Problem %d not found.", sub.ProblemID)
	}
	user, err := s.store.User(ctx, sub.UserID)
	if err != nil {
		return nil, quark.WrapExternal(err)
	}
	if user == nil {
		return nil, quark.Statusf(quark.CodeNotFound, "User %d not found.", sub.UserID)
	}

	if sub.ContestID != 0 {
		if err := s.checkContestEntry(ctx, sub); err != nil {
			return nil, err
		}
	}

	job, err := s.store.CreateJob(ctx, sub, len(problem.Cases), quark.Now())
	if err != nil {
		return nil, quark.WrapExternal(err)
	}
	s.registry.Add(job)

	if err := s.queue.Push(job.ID); err != nil {
		// The job stays Queueing in the store; a restart re-enqueues it.
		slog.WarnContext(ctx, "Judge queue saturated", slog.Int("job_id", job.ID))
		return nil, quark.Statusf(quark.CodeInternal, "Judge queue is full.")
	}

	slog.InfoContext(ctx, "Job submitted",
		slog.Int("job_id", job.ID),
		slog.Int("user_id", sub.UserID),
		slog.Int("problem_id", sub.ProblemID))
	return job, nil
}

func (s *BaseAPI) checkContestEntry(ctx context.Context, sub *quark.Submission) error {
	contest, err := s.store.Contest(ctx, sub.ContestID)
	if err != nil {
		return quark.WrapExternal(err)
	}
	if contest == nil {
		return quark.Statusf(quark.CodeNotFound, "Contest %d not found.", sub.ContestID)
	}
	if !contest.HasUser(sub.UserID) {
		return quark.Statusf(quark.CodeInvalidArgument, "User %d not registered in contest %d.", sub.UserID, sub.ContestID)
	}
	if !contest.HasProblem(sub.ProblemID) {
		return quark.Statusf(quark.CodeInvalidArgument, "Problem %d not part of contest %d.", sub.ProblemID, sub.ContestID)
	}
	if !contest.Open(quark.Now()) {
		return quark.Statusf(quark.CodeInvalidArgument, "Contest %d not open for submissions.", sub.ContestID)
	}
	if contest.SubmissionLimit > 0 {
		count, err := s.store.CountSubmissions(ctx, sub.UserID, sub.ProblemID, sub.ContestID)
		if err != nil {
			return quark.WrapExternal(err)
		}
		if count >= contest.SubmissionLimit {
			return quark.Statusf(quark.CodeRateLimit, "Submission limit reached for contest %d.", sub.ContestID)
		}
	}
	return nil
}

// Job returns the live snapshot of one job.
func (s *BaseAPI) Job(ctx context.Context, id int) (*quark.Job, error) {
	job := s.registry.Job(id)
	if job == nil {
		return nil, quark.Statusf(quark.CodeNotFound, "Job %d not found.", id)
	}
	return job, nil
}

// Jobs lists registry snapshots matching the filter, ascending by
// creation time. A user_name filter naming no known user matches
// nothing.
func (s *BaseAPI) Jobs(ctx context.Context, filter *quark.JobFilter) ([]*quark.Job, error) {
	if filter.UserName != nil {
		user, err := s.store.UserByName(ctx, *filter.UserName)
		if err != nil {
			return nil, quark.WrapExternal(err)
		}
		if user == nil {
			return []*quark.Job{}, nil
		}
		if filter.UserID != nil && *filter.UserID != user.ID {
			return []*quark.Job{}, nil
		}
		filter.UserID = &user.ID
	}

	jobs := s.registry.Jobs()
	out := make([]*quark.Job, 0, len(jobs))
	for _, job := range jobs {
		if matchesFilter(job, filter) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedTime.Equal(out[j].CreatedTime.Time) {
			return out[i].CreatedTime.Before(out[j].CreatedTime.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func matchesFilter(job *quark.Job, f *quark.JobFilter) bool {
	if f.UserID != nil && job.Submission.UserID != *f.UserID {
		return false
	}
	if f.ContestID != nil && job.Submission.ContestID != *f.ContestID {
		return false
	}
	if f.ProblemID != nil && job.Submission.ProblemID != *f.ProblemID {
		return false
	}
	if f.Language != nil && job.Submission.Language != *f.Language {
		return false
	}
	if f.From != nil && job.CreatedTime.Before(f.From.Time) {
		return false
	}
	if f.To != nil && job.CreatedTime.After(f.To.Time) {
		return false
	}
	if f.State != nil && job.State != *f.State {
		return false
	}
	if f.Result != nil && job.Result != *f.Result {
		return false
	}
	return true
}

// Rejudge resets a Finished job in place and re-enqueues it.
func (s *BaseAPI) Rejudge(ctx context.Context, id int) (*quark.Job, error) {
	job, err := s.registry.Reset(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.queue.Push(id); err != nil {
		if errors.Is(err, grader.ErrQueueFull) {
			return nil, quark.Statusf(quark.CodeInternal, "Judge queue is full.")
		}
		return nil, quark.WrapExternal(err)
	}
	slog.InfoContext(ctx, "Job re-enqueued for judging", slog.Int("job_id", id))
	return job, nil
}

// Cancel performs the Queueing→Canceled transition.
func (s *BaseAPI) Cancel(ctx context.Context, id int) error {
	if err := s.registry.Cancel(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Job canceled", slog.Int("job_id", id))
	return nil
}

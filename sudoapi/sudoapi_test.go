package sudoapi

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/quarkoj/quark"
	"github.com/quarkoj/quark/db"
	"github.com/quarkoj/quark/grader"
	"github.com/quarkoj/quark/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Problems: []quark.Problem{
			{
				ID: 0, Name: "aplusb", Type: quark.ProblemStandard,
				Cases: []quark.TestCase{
					{Score: 50, TimeLimit: 1_000_000},
					{Score: 50, TimeLimit: 1_000_000},
				},
			},
			{
				ID: 1, Name: "bminusa", Type: quark.ProblemStandard,
				Cases: []quark.TestCase{{Score: 100, TimeLimit: 1_000_000}},
			},
		},
		Languages: []quark.Language{
			{Name: "Rust", FileName: "main.rs", Command: []string{"rustc", "-o", "%OUTPUT%", "%INPUT%"}},
		},
	}
}

func testBase(t *testing.T) *BaseAPI {
	t.Helper()
	store, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.sqlite3"), false)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	registry := grader.NewRegistry(store)
	if _, err := registry.Rehydrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return New(store, registry, grader.NewQueue(), testConfig())
}

func testSub() *quark.Submission {
	return &quark.Submission{
		SourceCode: "fn main() {}",
		Language:   "Rust",
		UserID:     0,
		ContestID:  0,
		ProblemID:  0,
	}
}

func TestSubmitAssignsSequentialIDs(t *testing.T) {
	is := is.New(t)
	base := testBase(t)
	ctx := context.Background()

	for want := 0; want < 3; want++ {
		job, err := base.Submit(ctx, testSub())
		is.NoErr(err)
		is.Equal(job.ID, want)
		is.Equal(job.State, quark.StateQueueing)
		is.Equal(job.Result, quark.VerdictWaiting)
		is.Equal(len(job.Cases), 3)
	}

	// submit → get returns an equal snapshot.
	job, err := base.Job(ctx, 0)
	is.NoErr(err)
	is.Equal(job.ID, 0)
	is.Equal(job.State, quark.StateQueueing)
	is.Equal(job.Submission, *testSub())

	// All three are enqueued in order.
	is.Equal(base.queue.Len(), 3)
}

func TestSubmitValidation(t *testing.T) {
	is := is.New(t)
	base := testBase(t)
	ctx := context.Background()

	sub := testSub()
	sub.Language = "Cobol"
	_, err := base.Submit(ctx, sub)
	is.Equal(quark.CodeOf(err), quark.CodeNotFound)

	sub = testSub()
	sub.ProblemID = 42
	_, err = base.Submit(ctx, sub)
	is.Equal(quark.CodeOf(err), quark.CodeNotFound)

	sub = testSub()
	sub.UserID = 42
	_, err = base.Submit(ctx, sub)
	is.Equal(quark.CodeOf(err), quark.CodeNotFound)

	sub = testSub()
	sub.ContestID = 7
	_, err = base.Submit(ctx, sub)
	is.Equal(quark.CodeOf(err), quark.CodeNotFound)
}

func contestWindow(from, to time.Time) (quark.Timestamp, quark.Timestamp) {
	return quark.Timestamp{Time: from.UTC()}, quark.Timestamp{Time: to.UTC()}
}

func TestSubmitContestChecks(t *testing.T) {
	is := is.New(t)
	base := testBase(t)
	ctx := context.Background()

	alice, err := base.CreateUser(ctx, "alice")
	is.NoErr(err)

	now := time.Now()
	from, to := contestWindow(now.Add(-time.Hour), now.Add(time.Hour))
	contest, err := base.CreateContest(ctx, &quark.Contest{
		Name: "round", From: from, To: to,
		ProblemIDs:      []int{0},
		UserIDs:         []int{alice.ID},
		SubmissionLimit: 2,
	})
	is.NoErr(err)
	is.Equal(contest.ID, 1)

	// root is not enrolled
	sub := testSub()
	sub.ContestID = contest.ID
	_, err = base.Submit(ctx, sub)
	is.Equal(quark.CodeOf(err), quark.CodeInvalidArgument)

	// problem 1 is not part of the contest
	sub = testSub()
	sub.ContestID = contest.ID
	sub.UserID = alice.ID
	sub.ProblemID = 1
	_, err = base.Submit(ctx, sub)
	is.Equal(quark.CodeOf(err), quark.CodeInvalidArgument)

	// inside the window and enrolled: two submissions pass, third hits
	// the rate limit
	sub = testSub()
	sub.ContestID = contest.ID
	sub.UserID = alice.ID
	_, err = base.Submit(ctx, sub)
	is.NoErr(err)
	_, err = base.Submit(ctx, sub)
	is.NoErr(err)
	_, err = base.Submit(ctx, sub)
	is.Equal(quark.CodeOf(err), quark.CodeRateLimit)

	// closed window
	from, to = contestWindow(now.Add(-2*time.Hour), now.Add(-time.Hour))
	closed, err := base.CreateContest(ctx, &quark.Contest{
		Name: "past", From: from, To: to,
		ProblemIDs: []int{0}, UserIDs: []int{alice.ID},
	})
	is.NoErr(err)
	sub.ContestID = closed.ID
	_, err = base.Submit(ctx, sub)
	is.Equal(quark.CodeOf(err), quark.CodeInvalidArgument)
}

func TestCancelAndRejudgeFlow(t *testing.T) {
	is := is.New(t)
	base := testBase(t)
	ctx := context.Background()

	job, err := base.Submit(ctx, testSub())
	is.NoErr(err)

	// Queued job cancels fine; a second cancel is an invalid state.
	is.NoErr(base.Cancel(ctx, job.ID))
	got, err := base.Job(ctx, job.ID)
	is.NoErr(err)
	is.Equal(got.State, quark.StateCanceled)
	is.Equal(quark.CodeOf(base.Cancel(ctx, job.ID)), quark.CodeInvalidState)

	// Canceled jobs cannot be rejudged.
	_, err = base.Rejudge(ctx, job.ID)
	is.Equal(quark.CodeOf(err), quark.CodeInvalidState)

	// Force-finish a second job, then rejudge it.
	second, err := base.Submit(ctx, testSub())
	is.NoErr(err)
	snapshot := base.registry.Claim(ctx, second.ID)
	is.True(snapshot != nil)
	fin := quark.StateFinished
	acc := quark.VerdictAccepted
	score := 100.0
	is.NoErr(base.registry.Apply(ctx, second.ID, &quark.JobUpdate{State: &fin, Result: &acc, Score: &score}))

	rejudged, err := base.Rejudge(ctx, second.ID)
	is.NoErr(err)
	is.Equal(rejudged.State, quark.StateQueueing)
	is.Equal(rejudged.Score, 0.0)
	is.True(rejudged.CreatedTime.Equal(second.CreatedTime.Time))
	is.Equal(rejudged.Submission, second.Submission)
}

func TestJobsFilterAndOrder(t *testing.T) {
	is := is.New(t)
	base := testBase(t)
	ctx := context.Background()

	alice, err := base.CreateUser(ctx, "alice")
	is.NoErr(err)

	a, err := base.Submit(ctx, testSub())
	is.NoErr(err)
	subB := testSub()
	subB.UserID = alice.ID
	subB.ProblemID = 1
	b, err := base.Submit(ctx, subB)
	is.NoErr(err)

	pid := 1
	jobs, err := base.Jobs(ctx, &quark.JobFilter{ProblemID: &pid})
	is.NoErr(err)
	is.Equal(len(jobs), 1)
	is.Equal(jobs[0].ID, b.ID)

	name := "alice"
	jobs, err = base.Jobs(ctx, &quark.JobFilter{UserName: &name})
	is.NoErr(err)
	is.Equal(len(jobs), 1)
	is.Equal(jobs[0].ID, b.ID)

	// A well-formed but unknown user name matches nothing.
	ghost := "nobody"
	jobs, err = base.Jobs(ctx, &quark.JobFilter{UserName: &ghost})
	is.NoErr(err)
	is.Equal(len(jobs), 0)

	jobs, err = base.Jobs(ctx, &quark.JobFilter{})
	is.NoErr(err)
	is.Equal(len(jobs), 2)
	is.Equal(jobs[0].ID, a.ID)
	is.Equal(jobs[1].ID, b.ID)
}

func TestUserUpsert(t *testing.T) {
	is := is.New(t)
	base := testBase(t)
	ctx := context.Background()

	alice, err := base.CreateUser(ctx, "alice")
	is.NoErr(err)
	is.Equal(alice.ID, 1)

	_, err = base.CreateUser(ctx, "alice")
	is.Equal(quark.CodeOf(err), quark.CodeInvalidArgument)

	_, err = base.UpdateUser(ctx, 42, "bob")
	is.Equal(quark.CodeOf(err), quark.CodeNotFound)

	// Renaming to the current name is a no-op.
	same, err := base.UpdateUser(ctx, alice.ID, "alice")
	is.NoErr(err)
	is.Equal(same.Name, "alice")

	_, err = base.UpdateUser(ctx, alice.ID, "root")
	is.Equal(quark.CodeOf(err), quark.CodeInvalidArgument)

	users, err := base.Users(ctx)
	is.NoErr(err)
	is.Equal(len(users), 2)
}

func TestContestValidation(t *testing.T) {
	is := is.New(t)
	base := testBase(t)
	ctx := context.Background()

	from, to := contestWindow(time.Now(), time.Now().Add(time.Hour))

	_, err := base.CreateContest(ctx, &quark.Contest{
		Name: "dup", From: from, To: to, ProblemIDs: []int{0, 0},
	})
	is.Equal(quark.CodeOf(err), quark.CodeInvalidArgument)

	_, err = base.CreateContest(ctx, &quark.Contest{
		Name: "ghost problem", From: from, To: to, ProblemIDs: []int{42},
	})
	is.Equal(quark.CodeOf(err), quark.CodeNotFound)

	_, err = base.CreateContest(ctx, &quark.Contest{
		Name: "ghost user", From: from, To: to, UserIDs: []int{42},
	})
	is.Equal(quark.CodeOf(err), quark.CodeNotFound)

	_, err = base.CreateContest(ctx, &quark.Contest{
		Name: "inverted", From: to, To: from,
	})
	is.Equal(quark.CodeOf(err), quark.CodeInvalidArgument)

	_, err = base.UpdateContest(ctx, &quark.Contest{
		ID: 9, Name: "missing", From: from, To: to,
	})
	is.Equal(quark.CodeOf(err), quark.CodeNotFound)
}

package judge

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
	"github.com/quarkoj/quark"
	"github.com/quarkoj/quark/eval"
)

// scriptedRun is one prerecorded sandbox execution.
type scriptedRun struct {
	stats *eval.RunStats
	err   error
	// files are materialized in the box when the run happens, standing
	// in for whatever the sandboxed program would have produced.
	files map[string]string
}

type fakeBox struct {
	t    *testing.T
	dir  string
	runs []scriptedRun
	next int
}

var _ eval.Sandbox = &fakeBox{}

func newFakeBox(t *testing.T, runs ...scriptedRun) *fakeBox {
	return &fakeBox{t: t, dir: t.TempDir(), runs: runs}
}

func (b *fakeBox) GetID() int   { return 0 }
func (b *fakeBox) Path() string { return b.dir }

func (b *fakeBox) CopyIn(hostSrc, name string) error {
	data, err := os.ReadFile(hostSrc)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(b.dir, name), data, 0666)
}

func (b *fakeBox) CopyOut(name, hostDst string) error {
	data, err := os.ReadFile(filepath.Join(b.dir, name))
	if err != nil {
		return err
	}
	return os.WriteFile(hostDst, data, 0666)
}

func (b *fakeBox) WriteFile(name string, data []byte, mode fs.FileMode) error {
	return os.WriteFile(filepath.Join(b.dir, name), data, mode)
}

func (b *fakeBox) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(b.dir, name))
}

func (b *fakeBox) FileExists(name string) bool {
	_, err := os.Stat(filepath.Join(b.dir, name))
	return err == nil
}

func (b *fakeBox) Reset() error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		os.RemoveAll(filepath.Join(b.dir, e.Name()))
	}
	return nil
}

func (b *fakeBox) Run(_ context.Context, conf *eval.RunConfig) (*eval.RunStats, error) {
	if b.next >= len(b.runs) {
		b.t.Fatalf("unexpected sandbox run #%d: %v", b.next, conf.Argv)
	}
	run := b.runs[b.next]
	b.next++
	for name, content := range run.files {
		if err := os.WriteFile(filepath.Join(b.dir, name), []byte(content), 0666); err != nil {
			return nil, err
		}
	}
	return run.stats, run.err
}

func (b *fakeBox) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProblem(t *testing.T) *quark.Problem {
	dir := t.TempDir()
	in1 := filepath.Join(dir, "1.in")
	ans1 := filepath.Join(dir, "1.ans")
	in2 := filepath.Join(dir, "2.in")
	ans2 := filepath.Join(dir, "2.ans")
	for path, content := range map[string]string{
		in1: "1 2\n", ans1: "3\n",
		in2: "10 20\n", ans2: "30\n",
	} {
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return &quark.Problem{
		ID:   0,
		Name: "aplusb",
		Type: quark.ProblemStandard,
		Cases: []quark.TestCase{
			{Score: 40, InputFile: in1, AnswerFile: ans1, TimeLimit: 1_000_000, MemoryLimit: 1 << 28},
			{Score: 60, InputFile: in2, AnswerFile: ans2, TimeLimit: 1_000_000, MemoryLimit: 1 << 28},
		},
	}
}

func testLanguage() *quark.Language {
	return &quark.Language{
		Name:     "Rust",
		FileName: "main.rs",
		Command:  []string{"rustc", "-C", "opt-level=2", "-o", "%OUTPUT%", "%INPUT%"},
	}
}

// collectUpdates replays updates onto a job the way the registry would.
func collectUpdates(job *quark.Job) (Sink, *[]*quark.JobUpdate) {
	var updates []*quark.JobUpdate
	return func(upd *quark.JobUpdate) {
		updates = append(updates, upd)
		upd.Apply(job)
	}, &updates
}

func freshJob(problem *quark.Problem) *quark.Job {
	job := &quark.Job{
		State:  quark.StateQueueing,
		Result: quark.VerdictWaiting,
		Cases:  make([]quark.JobCase, len(problem.Cases)+1),
	}
	for i := range job.Cases {
		job.Cases[i] = quark.JobCase{ID: i, Result: quark.VerdictWaiting}
	}
	return job
}

func TestJudgeAccepted(t *testing.T) {
	is := is.New(t)
	problem := testProblem(t)
	job := freshJob(problem)

	box := newFakeBox(t,
		// compile
		scriptedRun{stats: &eval.RunStats{ExitCode: 0, Time: 900_000}, files: map[string]string{"main": "", "compile.out": ""}},
		scriptedRun{stats: &eval.RunStats{ExitCode: 0, Time: 12_000, MaxRSS: 1200}, files: map[string]string{"1.out": "3\n"}},
		scriptedRun{stats: &eval.RunStats{ExitCode: 0, Time: 15_000, MaxRSS: 1300}, files: map[string]string{"2.out": "30\n"}},
	)

	sink, _ := collectUpdates(job)
	err := Run(context.Background(), &Request{
		JobID: 0, Submission: &quark.Submission{SourceCode: "fn main() {}"},
		Problem: problem, Language: testLanguage(),
		Box: box, Logger: testLogger(),
	}, sink)
	is.NoErr(err)

	is.Equal(job.State, quark.StateFinished)
	is.Equal(job.Result, quark.VerdictAccepted)
	is.Equal(job.Score, float64(100))
	is.Equal(job.Cases[0].Result, quark.VerdictCompilationSuccess)
	is.Equal(job.Cases[1].Result, quark.VerdictAccepted)
	is.Equal(job.Cases[1].Time, int64(12_000))
	is.Equal(job.Cases[1].Memory, int64(1200*1024))
	is.Equal(job.Cases[2].Result, quark.VerdictAccepted)
}

func TestJudgeCompileError(t *testing.T) {
	is := is.New(t)
	problem := testProblem(t)
	job := freshJob(problem)

	box := newFakeBox(t,
		scriptedRun{
			stats: &eval.RunStats{ExitCode: 1, Status: "RE"},
			files: map[string]string{"compile.out": "error: expected expression\n"},
		},
	)

	sink, _ := collectUpdates(job)
	err := Run(context.Background(), &Request{
		JobID: 0, Submission: &quark.Submission{SourceCode: "fn main() { syntax error }"},
		Problem: problem, Language: testLanguage(),
		Box: box, Logger: testLogger(),
	}, sink)
	is.NoErr(err)

	is.Equal(job.State, quark.StateFinished)
	is.Equal(job.Result, quark.VerdictCompilationError)
	is.Equal(job.Cases[0].Result, quark.VerdictCompilationError)
	is.True(job.Cases[0].Info != "")
	// The problem cases were never attempted.
	is.Equal(job.Cases[1].Result, quark.VerdictWaiting)
	is.Equal(job.Cases[2].Result, quark.VerdictWaiting)
	is.Equal(job.Score, float64(0))
}

func TestJudgeTimeLimitNoEarlyTermination(t *testing.T) {
	is := is.New(t)
	problem := testProblem(t)
	job := freshJob(problem)

	box := newFakeBox(t,
		scriptedRun{stats: &eval.RunStats{ExitCode: 0}, files: map[string]string{"main": "", "compile.out": ""}},
		// case 1 runs out of time, case 2 still runs and passes
		scriptedRun{stats: &eval.RunStats{Status: "TO", Killed: true, Time: 1_100_000}},
		scriptedRun{stats: &eval.RunStats{ExitCode: 0, Time: 20_000}, files: map[string]string{"2.out": "30\n"}},
	)

	sink, _ := collectUpdates(job)
	err := Run(context.Background(), &Request{
		JobID: 0, Submission: &quark.Submission{SourceCode: "loop {}"},
		Problem: problem, Language: testLanguage(),
		Box: box, Logger: testLogger(),
	}, sink)
	is.NoErr(err)

	is.Equal(job.State, quark.StateFinished)
	is.Equal(job.Result, quark.VerdictTimeLimitExceeded)
	is.Equal(job.Cases[1].Result, quark.VerdictTimeLimitExceeded)
	is.True(job.Cases[1].Time >= problem.Cases[0].TimeLimit)
	is.Equal(job.Cases[2].Result, quark.VerdictAccepted)
	is.Equal(job.Score, float64(60))
}

func TestJudgeWrongAnswerFirstBadWins(t *testing.T) {
	is := is.New(t)
	problem := testProblem(t)
	job := freshJob(problem)

	box := newFakeBox(t,
		scriptedRun{stats: &eval.RunStats{ExitCode: 0}, files: map[string]string{"main": "", "compile.out": ""}},
		scriptedRun{stats: &eval.RunStats{ExitCode: 0}, files: map[string]string{"1.out": "4\n"}},
		scriptedRun{stats: &eval.RunStats{ExitCode: 2}},
	)

	sink, _ := collectUpdates(job)
	err := Run(context.Background(), &Request{
		JobID: 0, Submission: &quark.Submission{SourceCode: "fn main() {}"},
		Problem: problem, Language: testLanguage(),
		Box: box, Logger: testLogger(),
	}, sink)
	is.NoErr(err)

	// The first non-accepted case decides the job result.
	is.Equal(job.Result, quark.VerdictWrongAnswer)
	is.Equal(job.Cases[1].Result, quark.VerdictWrongAnswer)
	is.Equal(job.Cases[2].Result, quark.VerdictRuntimeError)
}

func TestJudgeSandboxFailure(t *testing.T) {
	is := is.New(t)
	problem := testProblem(t)
	job := freshJob(problem)

	box := newFakeBox(t,
		scriptedRun{err: errors.New("spawn failed")},
	)

	sink, _ := collectUpdates(job)
	err := Run(context.Background(), &Request{
		JobID: 0, Submission: &quark.Submission{SourceCode: "fn main() {}"},
		Problem: problem, Language: testLanguage(),
		Box: box, Logger: testLogger(),
	}, sink)
	is.NoErr(err)

	is.Equal(job.State, quark.StateFinished)
	is.Equal(job.Result, quark.VerdictSystemError)
}

func TestJudgeCompileCommandSubstitution(t *testing.T) {
	is := is.New(t)
	problem := testProblem(t)
	job := freshJob(problem)

	var compileArgv []string
	box := newFakeBox(t,
		scriptedRun{stats: &eval.RunStats{ExitCode: 1}, files: map[string]string{"compile.out": ""}},
	)
	// Capture the argv through a wrapper.
	wrapped := &argvRecorder{Sandbox: box, argv: &compileArgv}

	sink, _ := collectUpdates(job)
	err := Run(context.Background(), &Request{
		JobID: 0, Submission: &quark.Submission{SourceCode: "x"},
		Problem: problem, Language: testLanguage(),
		Box: wrapped, Logger: testLogger(),
	}, sink)
	is.NoErr(err)

	is.Equal(compileArgv, []string{"rustc", "-C", "opt-level=2", "-o", "main", "main.rs"})
}

type argvRecorder struct {
	eval.Sandbox
	argv *[]string
}

func (r *argvRecorder) Run(ctx context.Context, conf *eval.RunConfig) (*eval.RunStats, error) {
	if len(*r.argv) == 0 {
		*r.argv = conf.Argv
	}
	return r.Sandbox.Run(ctx, conf)
}

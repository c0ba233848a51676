// Package judge runs one job through compile-then-cases inside a sandbox
// slot and reports progress as a stream of job updates.
package judge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/quarkoj/quark"
	"github.com/quarkoj/quark/eval"
	"github.com/quarkoj/quark/eval/checkers"
)

// Compile-step limits.
const (
	compileWallTime  = 30_000_000 // µs
	compileMemoryKB  = 262144
	compileProcesses = 10
	compileOpenFiles = 512
	compileFsizeKB   = 65536
)

// Per-case limits beyond the problem's own.
const (
	runProcesses = 4
	runOpenFiles = 30
	runFsizeKB   = 16384

	// defaultMemoryKB applies when a case declares no memory cap.
	defaultMemoryKB = 1048576
)

const executableName = "main"

// compileInfoLimit bounds the compiler diagnostics stored on case 0.
const compileInfoLimit = 16 << 10

// Sink receives job updates in emission order. Each call corresponds to
// one observable transition.
type Sink func(*quark.JobUpdate)

type Request struct {
	JobID      int
	Submission *quark.Submission
	Problem    *quark.Problem
	Language   *quark.Language

	Box    eval.Sandbox
	Logger *slog.Logger
}

// Run judges one job. Failures of the judging machinery itself always
// finish the job with a System Error verdict through the sink. Setup
// failures (workspace, sandbox reset, staging the source or executable)
// are additionally returned for the caller to log.
func Run(ctx context.Context, req *Request, emit Sink) error {
	logger := req.Logger.With(slog.Int("job_id", req.JobID), slog.Int("box_id", req.Box.GetID()))

	emit(&quark.JobUpdate{
		State:  ptr(quark.StateRunning),
		Result: ptr(quark.VerdictRunning),
		Case:   &quark.JobCase{ID: 0, Result: quark.VerdictRunning},
	})

	workDir, err := os.MkdirTemp("", "quark-job-")
	if err != nil {
		finishSystemError(emit, 0, "couldn't create workspace")
		return fmt.Errorf("couldn't create workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := req.Box.Reset(); err != nil {
		finishSystemError(emit, 0, "couldn't reset sandbox")
		return fmt.Errorf("couldn't reset sandbox: %w", err)
	}

	ok, err := compile(ctx, req, workDir, emit, logger)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	runCases(ctx, req, workDir, emit, logger)
	return nil
}

// compile builds the submission. It reports whether judging should
// proceed to the cases.
func compile(ctx context.Context, req *Request, workDir string, emit Sink, logger *slog.Logger) (bool, error) {
	source := req.Submission.SourceCode
	if !strings.HasSuffix(source, "\n") {
		source += "\n"
	}
	if err := req.Box.WriteFile(req.Language.FileName, []byte(source), 0666); err != nil {
		finishSystemError(emit, 0, "couldn't write source file")
		return false, fmt.Errorf("couldn't write source file: %w", err)
	}

	argv := make([]string, 0, len(req.Language.Command))
	for _, part := range req.Language.Command {
		part = strings.ReplaceAll(part, "%INPUT%", req.Language.FileName)
		part = strings.ReplaceAll(part, "%OUTPUT%", executableName)
		argv = append(argv, part)
	}

	const compileOut = "compile.out"
	stats, err := req.Box.Run(ctx, &eval.RunConfig{
		Argv:           argv,
		WallTimeLimit:  compileWallTime,
		MemoryKB:       compileMemoryKB,
		Processes:      compileProcesses,
		OpenFiles:      compileOpenFiles,
		FsizeKB:        compileFsizeKB,
		OutputPath:     compileOut,
		StderrToStdout: true,
		InheritEnv:     []string{"PATH"},
	})
	if err != nil {
		logger.Warn("Compile run failed", slog.Any("err", err))
		finishSystemError(emit, 0, "sandbox failure during compilation")
		return false, nil
	}

	info := ""
	if data, err := req.Box.ReadFile(compileOut); err == nil {
		if len(data) > compileInfoLimit {
			data = data[:compileInfoLimit]
		}
		info = string(data)
	}

	compiled := quark.JobCase{ID: 0, Time: stats.Time, Memory: stats.Memory(), Info: info}

	switch outcome := stats.Outcome(nil); {
	case outcome == quark.VerdictSystemError:
		compiled.Result = quark.VerdictSystemError
		emit(&quark.JobUpdate{
			State:  ptr(quark.StateFinished),
			Result: ptr(quark.VerdictSystemError),
			Case:   &compiled,
		})
		return false, nil
	case outcome != quark.VerdictAccepted || !req.Box.FileExists(executableName):
		compiled.Result = quark.VerdictCompilationError
		emit(&quark.JobUpdate{
			State:  ptr(quark.StateFinished),
			Result: ptr(quark.VerdictCompilationError),
			Case:   &compiled,
		})
		return false, nil
	}

	compiled.Result = quark.VerdictCompilationSuccess
	emit(&quark.JobUpdate{Case: &compiled})

	// Park the executable, clear the box of compilation leftovers, then
	// bring it back for the case runs.
	parked := filepath.Join(workDir, executableName)
	if err := req.Box.CopyOut(executableName, parked); err != nil {
		finishSystemError(emit, 0, "couldn't preserve executable")
		return false, fmt.Errorf("couldn't preserve executable: %w", err)
	}
	if err := req.Box.Reset(); err != nil {
		finishSystemError(emit, 0, "couldn't reset sandbox")
		return false, fmt.Errorf("couldn't reset sandbox: %w", err)
	}
	if err := req.Box.CopyIn(parked, executableName); err != nil {
		finishSystemError(emit, 0, "couldn't restore executable")
		return false, fmt.Errorf("couldn't restore executable: %w", err)
	}
	if err := os.Chmod(filepath.Join(req.Box.Path(), executableName), 0755); err != nil {
		finishSystemError(emit, 0, "couldn't restore executable")
		return false, fmt.Errorf("couldn't restore executable mode: %w", err)
	}
	return true, nil
}

// runCases executes every problem case in order. No early termination:
// a failing case still lets the remaining ones run.
func runCases(ctx context.Context, req *Request, workDir string, emit Sink, logger *slog.Logger) {
	checker := checkers.ForProblem(req.Problem.Type)

	var score float64
	firstBad := quark.Verdict("")

	for i, tc := range req.Problem.Cases {
		idx := i + 1
		emit(&quark.JobUpdate{Case: &quark.JobCase{ID: idx, Result: quark.VerdictRunning}})

		result := runCase(ctx, req, checker, idx, &tc, workDir, logger)
		emit(&quark.JobUpdate{Case: result})

		if result.Result == quark.VerdictAccepted {
			score += tc.Score
		} else if firstBad == "" && result.Result != quark.VerdictSkipped {
			firstBad = result.Result
		}
	}

	final := quark.VerdictAccepted
	if firstBad != "" {
		final = firstBad
	}
	emit(&quark.JobUpdate{
		State:  ptr(quark.StateFinished),
		Result: ptr(final),
		Score:  &score,
	})
}

func runCase(ctx context.Context, req *Request, checker checkers.Checker, idx int, tc *quark.TestCase, workDir string, logger *slog.Logger) *quark.JobCase {
	inName := strconv.Itoa(idx) + ".in"
	outName := strconv.Itoa(idx) + ".out"

	if err := req.Box.CopyIn(tc.InputFile, inName); err != nil {
		logger.Warn("Couldn't stage case input", slog.Int("case", idx), slog.Any("err", err))
		return &quark.JobCase{ID: idx, Result: quark.VerdictSystemError, Info: "couldn't stage input file"}
	}

	memoryKB := tc.MemoryLimit / 1024
	if memoryKB <= 0 {
		memoryKB = defaultMemoryKB
	}
	conf := &eval.RunConfig{
		Argv:          []string{"./" + executableName},
		CPUTimeLimit:  tc.TimeLimit,
		WallTimeLimit: 2*tc.TimeLimit + 1_000_000,
		MemoryKB:      memoryKB,
		StackKB:       memoryKB / 2,
		Processes:     runProcesses,
		OpenFiles:     runOpenFiles,
		FsizeKB:       runFsizeKB,
		InputPath:     inName,
		OutputPath:    outName,
	}

	stats, err := req.Box.Run(ctx, conf)
	if err != nil {
		logger.Warn("Sandbox run failed", slog.Int("case", idx), slog.Any("err", err))
		return &quark.JobCase{ID: idx, Result: quark.VerdictSystemError, Info: "sandbox failure"}
	}

	result := &quark.JobCase{
		ID:     idx,
		Time:   stats.Time,
		Memory: stats.Memory(),
	}

	outcome := stats.Outcome(conf)
	if outcome != quark.VerdictAccepted {
		result.Result = outcome
		result.Info = stats.Message
		return result
	}

	userOut := filepath.Join(workDir, outName)
	if err := req.Box.CopyOut(outName, userOut); err != nil {
		result.Result = quark.VerdictSystemError
		result.Info = "couldn't collect output file"
		return result
	}

	result.Result, result.Info = checker.Check(ctx, tc.InputFile, userOut, tc.AnswerFile)
	return result
}

func finishSystemError(emit Sink, caseIdx int, info string) {
	emit(&quark.JobUpdate{
		State:  ptr(quark.StateFinished),
		Result: ptr(quark.VerdictSystemError),
		Case:   &quark.JobCase{ID: caseIdx, Result: quark.VerdictSystemError, Info: info},
	})
}

func ptr[T any](v T) *T {
	return &v
}

// Package eval defines the sandbox abstraction the judging pipeline runs
// against, plus the mapping from raw sandbox statistics to verdicts.
package eval

import (
	"context"
	"io"
	"io/fs"

	"github.com/quarkoj/quark"
)

// Sandbox is one numbered isolation slot. Implementations own the slot
// for their whole lifetime and must be closed to release it.
type Sandbox interface {
	GetID() int

	// Path returns the host path of the sandbox's /box working directory.
	Path() string

	CopyIn(hostSrc, name string) error
	CopyOut(name, hostDst string) error
	WriteFile(name string, data []byte, mode fs.FileMode) error
	ReadFile(name string) ([]byte, error)
	FileExists(name string) bool

	// Reset clears everything in the sandbox working directory.
	Reset() error

	Run(ctx context.Context, conf *RunConfig) (*RunStats, error)

	io.Closer
}

// RunConfig describes one sandboxed execution. Zero values defer to the
// isolator's defaults.
type RunConfig struct {
	Argv []string

	// Times are in microseconds.
	CPUTimeLimit  int64
	WallTimeLimit int64
	ExtraTime     int64

	// Sizes are in kilobytes, matching the isolator's units.
	MemoryKB int64
	StackKB  int64
	FsizeKB  int64

	Processes int
	OpenFiles int

	// InputPath/OutputPath are sandbox-relative file names.
	InputPath      string
	OutputPath     string
	StderrToStdout bool

	// BindDirs are additional host paths mounted read-only.
	BindDirs []string

	// Env sets explicit variables; InheritEnv passes named host ones.
	Env        map[string]string
	InheritEnv []string
}

// RunStats is the parsed meta-report of one execution.
type RunStats struct {
	// Time and WallTime are in microseconds.
	Time     int64 `json:"time"`
	WallTime int64 `json:"wall_time"`

	// MaxRSS and CgMem are in kilobytes, as reported.
	MaxRSS int64 `json:"max_rss"`
	CgMem  int64 `json:"cg_mem"`

	ExitCode  int    `json:"exit_code"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Killed    bool   `json:"killed"`
	OOMKilled bool   `json:"oom_killed"`

	// MetaMissing is set when the isolator left no readable meta-report.
	MetaMissing bool `json:"-"`
}

// Memory returns the figure reported to users, in bytes.
func (s *RunStats) Memory() int64 {
	return max(s.MaxRSS, s.CgMem) * 1024
}

// Outcome classifies the run against the limits it ran under.
func (s *RunStats) Outcome(conf *RunConfig) quark.Verdict {
	if s == nil || s.MetaMissing || s.Status == "XX" {
		return quark.VerdictSystemError
	}

	if s.Status == "TO" {
		return quark.VerdictTimeLimitExceeded
	}
	if s.OOMKilled {
		return quark.VerdictMemoryLimitExceeded
	}

	switch s.ExitCode {
	case 0:
		if s.Status == "RE" || s.Status == "SG" {
			return quark.VerdictRuntimeError
		}
		return quark.VerdictAccepted
	case 153:
		// SIGXFSZ
		return quark.VerdictOutputLimitExceeded
	case 137:
		// SIGKILL without the cgroup flag: treat as OOM when usage is
		// close to the cap, since the killer can fire before the
		// cgroup accounting records the event.
		if conf != nil && conf.MemoryKB > 0 && s.CgMem*10 >= conf.MemoryKB*9 {
			return quark.VerdictMemoryLimitExceeded
		}
		return quark.VerdictRuntimeError
	case 134:
		// SIGABRT, including stack overflows surfaced as aborts.
		return quark.VerdictRuntimeError
	default:
		return quark.VerdictRuntimeError
	}
}

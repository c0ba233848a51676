// Package box drives the isolate binary. One IsolateBox wraps one
// numbered sandbox slot for its whole lifetime.
package box

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/quarkoj/quark/eval"
)

// IsolatePath is the binary invoked for every sandbox operation.
var IsolatePath = "isolate"

// hostDeadlineSlack is added on top of twice the wall limit before the
// driver kills a wedged isolator subprocess.
const hostDeadlineSlack = 5 * time.Second

var _ eval.Sandbox = &IsolateBox{}

type IsolateBox struct {
	path  string
	boxID int

	logger *slog.Logger
}

// New initializes slot id and returns its driver. A leftover box from a
// previous crash is cleaned up and re-initialized once.
func New(id int, logger *slog.Logger) (*IsolateBox, error) {
	out, err := exec.Command(IsolatePath, "-b", strconv.Itoa(id), "--cg", "--init").CombinedOutput()
	if strings.HasPrefix(string(out), "Box already exists") {
		logger.Info("Resetting leftover box", slog.Int("box_id", id))
		if out, err := exec.Command(IsolatePath, "-b", strconv.Itoa(id), "--cg", "--cleanup").CombinedOutput(); err != nil {
			return nil, fmt.Errorf("couldn't clean up leftover box %d: %w (%s)", id, err, out)
		}
		return New(id, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("isolate --init failed for box %d: %w (%s)", id, err, out)
	}

	root := strings.TrimSpace(string(out))
	if root == "" {
		return nil, fmt.Errorf("isolate --init produced no path for box %d", id)
	}

	return &IsolateBox{
		path:   filepath.Join(root, "box"),
		boxID:  id,
		logger: logger,
	}, nil
}

func (b *IsolateBox) GetID() int {
	return b.boxID
}

func (b *IsolateBox) Path() string {
	return b.path
}

func (b *IsolateBox) boxFile(name string) string {
	return filepath.Join(b.path, name)
}

func (b *IsolateBox) CopyIn(hostSrc, name string) error {
	return copyFile(hostSrc, b.boxFile(name), 0666)
}

func (b *IsolateBox) CopyOut(name, hostDst string) error {
	return copyFile(b.boxFile(name), hostDst, 0666)
}

func (b *IsolateBox) WriteFile(name string, data []byte, mode fs.FileMode) error {
	return os.WriteFile(b.boxFile(name), data, mode)
}

func (b *IsolateBox) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(b.boxFile(name))
}

func (b *IsolateBox) FileExists(name string) bool {
	_, err := os.Stat(b.boxFile(name))
	return err == nil
}

// Reset re-runs --init, which empties the box directory.
func (b *IsolateBox) Reset() error {
	out, err := exec.Command(IsolatePath, "-b", strconv.Itoa(b.boxID), "--cg", "--init").CombinedOutput()
	if err != nil {
		return fmt.Errorf("couldn't reset box %d: %w (%s)", b.boxID, err, out)
	}
	return nil
}

func (b *IsolateBox) Close() error {
	return exec.Command(IsolatePath, "-b", strconv.Itoa(b.boxID), "--cg", "--cleanup").Run()
}

// buildRunFlags compiles a RunConfig into isolate --run arguments.
func (b *IsolateBox) buildRunFlags(c *eval.RunConfig, metaPath string) []string {
	res := []string{"-b", strconv.Itoa(b.boxID), "--cg"}

	if c.CPUTimeLimit > 0 {
		res = append(res, "--time="+formatSeconds(c.CPUTimeLimit))
	}
	if c.WallTimeLimit > 0 {
		res = append(res, "--wall-time="+formatSeconds(c.WallTimeLimit))
	}
	if c.ExtraTime > 0 {
		res = append(res, "--extra-time="+formatSeconds(c.ExtraTime))
	}
	if c.MemoryKB > 0 {
		res = append(res, "--cg-mem="+strconv.FormatInt(c.MemoryKB, 10))
	}
	if c.StackKB > 0 {
		res = append(res, "--stack="+strconv.FormatInt(c.StackKB, 10))
	}
	if c.Processes > 0 {
		res = append(res, "--processes="+strconv.Itoa(c.Processes))
	}
	if c.OpenFiles > 0 {
		res = append(res, "--open-files="+strconv.Itoa(c.OpenFiles))
	}
	if c.FsizeKB > 0 {
		res = append(res, "--fsize="+strconv.FormatInt(c.FsizeKB, 10))
	}

	for _, dir := range c.BindDirs {
		res = append(res, "--dir="+dir)
	}
	for _, env := range c.InheritEnv {
		res = append(res, "--env="+env)
	}
	for key, val := range c.Env {
		res = append(res, "--env="+key+"="+val)
	}

	if c.InputPath != "" {
		res = append(res, "--stdin="+c.InputPath)
	}
	if c.OutputPath != "" {
		res = append(res, "--stdout="+c.OutputPath)
	}
	if c.StderrToStdout {
		res = append(res, "--stderr-to-stdout")
	}

	res = append(res, "--meta="+metaPath, "--silent", "--run", "--")
	return append(res, c.Argv...)
}

// Run executes one command in the box and interprets its meta-report.
// On top of the in-sandbox limits, a host-side deadline of twice the wall
// limit plus slack bounds the isolator subprocess itself.
func (b *IsolateBox) Run(ctx context.Context, conf *eval.RunConfig) (*eval.RunStats, error) {
	metaPath := filepath.Join(os.TempDir(), "quark-meta-"+uuid.NewString())
	defer os.Remove(metaPath)

	deadline := hostDeadlineSlack
	if conf.WallTimeLimit > 0 {
		deadline += 2 * time.Duration(conf.WallTimeLimit) * time.Microsecond
	}
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	b.logger.Debug("Running sandboxed command",
		slog.Int("box_id", b.boxID),
		slog.Any("argv", conf.Argv),
		slog.String("mem_limit", humanize.IBytes(uint64(conf.MemoryKB*1024))))

	cmd := exec.CommandContext(runCtx, IsolatePath, b.buildRunFlags(conf, metaPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() != nil {
		b.logger.Warn("Isolator exceeded host deadline, killed",
			slog.Int("box_id", b.boxID), slog.Duration("deadline", deadline))
		return &eval.RunStats{MetaMissing: true, Message: "sandbox host deadline exceeded"}, nil
	}
	if err != nil {
		ee, ok := err.(*exec.ExitError)
		if !ok {
			// Spawn failure, not a sandboxed-program failure.
			return nil, fmt.Errorf("couldn't spawn isolate: %w", err)
		}
		// Exit status 1 means the sandboxed program failed, which the
		// meta-report documents. Anything else is an isolator error.
		if ee.ExitCode() != 1 {
			return &eval.RunStats{
				MetaMissing: true,
				Message:     strings.TrimSpace(stderr.String()),
			}, nil
		}
	}

	f, err := os.Open(metaPath)
	if err != nil {
		return &eval.RunStats{MetaMissing: true, Message: "meta-report missing"}, nil
	}
	defer f.Close()
	return parseMetaFile(f), nil
}

// parseMetaFile reads the isolator's key:value report.
func parseMetaFile(r io.Reader) *eval.RunStats {
	stats := new(eval.RunStats)

	s := bufio.NewScanner(r)
	for s.Scan() {
		key, value, ok := strings.Cut(s.Text(), ":")
		if !ok {
			continue
		}
		switch key {
		case "time":
			stats.Time = parseSeconds(value)
		case "time-wall":
			stats.WallTime = parseSeconds(value)
		case "max-rss":
			stats.MaxRSS, _ = strconv.ParseInt(value, 10, 64)
		case "cg-mem":
			stats.CgMem, _ = strconv.ParseInt(value, 10, 64)
		case "cg-oom-killed":
			stats.OOMKilled = value == "1"
		case "exitcode":
			stats.ExitCode, _ = strconv.Atoi(value)
		case "killed":
			stats.Killed = true
		case "status":
			stats.Status = value
		case "message":
			stats.Message = value
		}
	}

	return stats
}

// formatSeconds renders microseconds as the fractional seconds isolate
// expects on the command line.
func formatSeconds(us int64) string {
	return strconv.FormatFloat(float64(us)/1e6, 'f', 6, 64)
}

// parseSeconds converts the meta-report's fractional seconds to µs.
func parseSeconds(s string) int64 {
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(secs * 1e6)
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

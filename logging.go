package quark

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging installs the process-wide logger. Console output goes to
// stderr; when logDir is non-empty, a copy is mirrored into a rotating
// quark.log there. Verbose selects debug level, which the judging
// pipeline uses for per-run sandbox details.
func SetupLogging(verbose bool, logDir string) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	color := consoleColors()
	if logDir != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "quark.log"),
			MaxSize:    50, // MiB
			MaxBackups: 5,
		})
		// ANSI sequences would end up in the log file.
		color = false
	}

	slog.SetDefault(slog.New(tint.NewHandler(out, &tint.Options{
		Level: level,
		// Log timestamps use the same codec the API speaks, so log
		// lines correlate directly with stored created_time values.
		TimeFormat:  TimeLayout,
		NoColor:     !color,
		ReplaceAttr: replaceAttr,
	})))
}

// replaceAttr renders errors in red and flattens the judge's typed
// values to their wire strings.
func replaceAttr(groups []string, attr slog.Attr) slog.Attr {
	switch v := attr.Value.Any().(type) {
	case error:
		return tint.Attr(9, attr)
	case Verdict:
		attr.Value = slog.StringValue(string(v))
	case JobState:
		attr.Value = slog.StringValue(string(v))
	case Timestamp:
		attr.Value = slog.StringValue(v.String())
	}
	return attr
}

// consoleColors reports whether stderr wants ANSI colors.
func consoleColors() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return isatty.IsTerminal(os.Stderr.Fd())
}

package checkers

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/quarkoj/quark"
)

// SPJChecker delegates the comparison to an operator-supplied helper.
// The answer file's first line names the helper program; it runs outside
// the sandbox (trusted, operator content) with the case input, the user
// output, and the answer file as arguments. The helper's first stdout
// line must read Accepted or Wrong Answer; the rest becomes case info.
type SPJChecker struct{}

func (c *SPJChecker) Check(ctx context.Context, inputFile, userOutput, answerFile string) (quark.Verdict, string) {
	helper, err := helperProgram(answerFile)
	if err != nil || helper == "" {
		return quark.VerdictSPJError, "special judge helper not declared"
	}

	cmd := exec.CommandContext(ctx, helper, inputFile, userOutput, answerFile)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return quark.VerdictSPJError, "special judge crashed: " + err.Error()
	}

	verdictLine, info, _ := strings.Cut(stdout.String(), "\n")
	info = strings.TrimSuffix(info, "\n")
	switch strings.TrimSpace(verdictLine) {
	case string(quark.VerdictAccepted):
		return quark.VerdictAccepted, info
	case string(quark.VerdictWrongAnswer):
		return quark.VerdictWrongAnswer, info
	default:
		return quark.VerdictSPJError, "special judge produced no verdict"
	}
}

func helperProgram(answerFile string) (string, error) {
	f, err := os.Open(answerFile)
	if err != nil {
		return "", err
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	if !s.Scan() {
		return "", s.Err()
	}
	return strings.TrimSpace(s.Text()), nil
}

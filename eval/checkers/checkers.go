// Package checkers decides Accepted vs Wrong Answer for one case.
package checkers

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/quarkoj/quark"
)

// A Checker compares a user's output against the reference answer. It
// returns the case verdict and diagnostic info (empty by default).
type Checker interface {
	Check(ctx context.Context, inputFile, userOutput, answerFile string) (quark.Verdict, string)
}

// ForProblem selects the comparator for a problem type. Dynamic-ranking
// problems are judged with the standard comparator.
func ForProblem(t quark.ProblemType) Checker {
	switch t {
	case quark.ProblemStrict:
		return &StrictChecker{}
	case quark.ProblemSPJ:
		return &SPJChecker{}
	default:
		return &StandardChecker{}
	}
}

// StrictChecker requires byte-exact equality.
type StrictChecker struct{}

func (c *StrictChecker) Check(_ context.Context, _, userOutput, answerFile string) (quark.Verdict, string) {
	got, err := os.ReadFile(userOutput)
	if err != nil {
		return quark.VerdictSystemError, "couldn't read user output"
	}
	want, err := os.ReadFile(answerFile)
	if err != nil {
		return quark.VerdictSystemError, "couldn't read answer file"
	}
	if bytes.Equal(got, want) {
		return quark.VerdictAccepted, ""
	}
	return quark.VerdictWrongAnswer, ""
}

// StandardChecker ignores trailing whitespace on each line and trailing
// empty lines, with line endings normalized to \n.
type StandardChecker struct{}

func (c *StandardChecker) Check(_ context.Context, _, userOutput, answerFile string) (quark.Verdict, string) {
	got, err := os.ReadFile(userOutput)
	if err != nil {
		return quark.VerdictSystemError, "couldn't read user output"
	}
	want, err := os.ReadFile(answerFile)
	if err != nil {
		return quark.VerdictSystemError, "couldn't read answer file"
	}
	if Normalize(string(got)) == Normalize(string(want)) {
		return quark.VerdictAccepted, ""
	}
	return quark.VerdictWrongAnswer, ""
}

// Normalize applies the standard comparator's equivalence: CRLF to LF,
// then trailing whitespace stripped per line and at end of text.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t\r")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

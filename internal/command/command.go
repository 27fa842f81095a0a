// Package command runs external processes for the pipeline stages.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Cmd describes one process invocation. Env replaces the inherited
// environment entirely; a nil Env runs with an empty environment.
type Cmd struct {
	Name   string
	Args   []string
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the exit status and the combined output of a process.
type Result struct {
	ExitCode int
	Output   string
}

// ExitError reports a process that ran and exited non-zero.
type ExitError struct {
	Cmd      string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: exit status %d", e.Cmd, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Cmd, e.ExitCode, lastLines(out, 5))
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (Result, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Cmd) (Result, error) {
	if strings.TrimSpace(c.Name) == "" {
		return Result{}, errors.New("command name is required")
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append([]string{}, c.Env...)

	var (
		buf bytes.Buffer
		mu  sync.Mutex
	)
	cmd.Stdout = teeWriter(&mu, &buf, c.Stdout)
	cmd.Stderr = teeWriter(&mu, &buf, c.Stderr)

	err := cmd.Run()
	res := Result{Output: buf.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Cmd: c.String(), ExitCode: res.ExitCode, Output: res.Output}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", c.String(), ctxErr)
	}
	return res, fmt.Errorf("%s: %w", c.String(), err)
}

// teeWriter copies into buf and w. Both streams share mu, since os/exec
// copies stdout and stderr from separate goroutines.
func teeWriter(mu *sync.Mutex, buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return lockedWriter{mu: mu, w: buf}
	}
	return lockedWriter{mu: mu, w: io.MultiWriter(buf, w)}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

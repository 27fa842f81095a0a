// Package deploy holds the execution step of a run: a Deployer receives the
// environment mapping and reports an exit code.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/coreeng/action-deploy-pipeline/internal/command"
	"github.com/coreeng/action-deploy-pipeline/internal/secrets"
)

// Env is what the execution step sees: the declared secrets plus the
// variables the provisioned interpreter contributes, and nothing else.
type Env struct {
	Workdir string
	Secrets secrets.Set
	Extra   []string
}

// Vars renders the process environment. Interpreter variables come first so
// a secret can never be shadowed by them.
func (e Env) Vars() []string {
	out := make([]string, 0, len(e.Extra)+e.Secrets.Len())
	for _, kv := range e.Extra {
		name, _, _ := strings.Cut(kv, "=")
		if _, isSecret := e.Secrets.Get(name); isSecret {
			continue
		}
		out = append(out, kv)
	}
	return append(out, e.Secrets.Environ()...)
}

// Deployer runs the deployment action. A non-zero exit code fails the run;
// err is reserved for failures to run the action at all.
type Deployer interface {
	Deploy(ctx context.Context, env Env) (int, error)
}

// Func adapts a function to the Deployer interface.
type Func func(ctx context.Context, env Env) (int, error)

func (f Func) Deploy(ctx context.Context, env Env) (int, error) { return f(ctx, env) }

// ShellDeployer runs a script with bash, the way a workflow `run:` step does.
type ShellDeployer struct {
	Runner command.Runner
	Script string
	Shell  string
	Stdout io.Writer
	Stderr io.Writer
}

func (d ShellDeployer) Deploy(ctx context.Context, env Env) (int, error) {
	script := strings.TrimSpace(d.Script)
	if script == "" {
		return 0, errors.New("deploy script is empty")
	}
	shell := d.Shell
	if shell == "" {
		shell = "bash"
	}
	runner := d.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}

	res, err := runner.Run(ctx, command.Cmd{
		Name:   shell,
		Args:   []string{"--noprofile", "--norc", "-eo", "pipefail", "-c", script},
		Dir:    env.Workdir,
		Env:    env.Vars(),
		Stdout: d.Stdout,
		Stderr: d.Stderr,
	})
	var exitErr *command.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode, nil
	}
	if err != nil {
		return 1, err
	}
	return res.ExitCode, nil
}

// EchoDeployer stands in for a real deployment: it only reports the database
// host it was given.
type EchoDeployer struct {
	Out io.Writer
}

func (d EchoDeployer) Deploy(_ context.Context, env Env) (int, error) {
	host, ok := env.Secrets.Get(secrets.DBHost)
	if !ok {
		return 1, fmt.Errorf("%s is not set", secrets.DBHost)
	}
	if _, err := fmt.Fprintf(d.Out, "DB_HOST is %s\n", host); err != nil {
		return 1, err
	}
	return 0, nil
}

// Check is one preflight probe against a deploy target.
type Check struct {
	Name string
	Run  func(ctx context.Context, env Env) error
}

// PreflightDeployer runs every check before handing over to Next. A failed
// check fails the step with exit code 1 and Next never runs.
type PreflightDeployer struct {
	Checks []Check
	Next   Deployer
	Logger *slog.Logger
}

func (d PreflightDeployer) Deploy(ctx context.Context, env Env) (int, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	for _, check := range d.Checks {
		if err := check.Run(ctx, env); err != nil {
			logger.Error("preflight check failed", "check", check.Name, "error", env.Secrets.Redact(err.Error()))
			return 1, nil
		}
		logger.Info("preflight check passed", "check", check.Name)
	}
	if d.Next == nil {
		return 0, nil
	}
	return d.Next.Deploy(ctx, env)
}

// Sequence runs deployers in order and stops at the first one that fails.
type Sequence []Deployer

func (s Sequence) Deploy(ctx context.Context, env Env) (int, error) {
	for _, d := range s {
		code, err := d.Deploy(ctx, env)
		if err != nil || code != 0 {
			return code, err
		}
	}
	return 0, nil
}

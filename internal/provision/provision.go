// Package provision installs the interpreter and the declared dependencies a
// run executes with.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/coreeng/action-deploy-pipeline/internal/command"
)

// ErrInterpreterNotFound is returned when no candidate binary matches the
// requested version.
var ErrInterpreterNotFound = errors.New("no matching python interpreter")

// Environment is an isolated interpreter with its dependencies installed.
type Environment struct {
	Root     string
	Python   string
	Version  string
	Manifest Manifest
}

// Vars returns the variables the interpreter contributes to the execution
// environment.
func (e Environment) Vars() []string {
	return []string{
		"PATH=" + filepath.Join(e.Root, "bin") + string(filepath.ListSeparator) + "/usr/local/bin:/usr/bin:/bin",
		"VIRTUAL_ENV=" + e.Root,
	}
}

// Provisioner builds Environments. Candidates are looked up on PATH in
// order, after "python<version>".
type Provisioner struct {
	Runner     command.Runner
	Candidates []string
	// Env is the environment the interpreter and pip run with.
	Env []string
	// LookPath resolves candidate names; exec.LookPath when nil.
	LookPath func(string) (string, error)
}

// New returns a Provisioner with the usual candidates.
func New(runner command.Runner, env []string) *Provisioner {
	return &Provisioner{
		Runner:     runner,
		Candidates: []string{"python3", "python"},
		Env:        env,
	}
}

// Provision runs both sub-steps: it installs the interpreter into root and
// then installs every requirement of the manifest at manifestPath.
func (p *Provisioner) Provision(ctx context.Context, version, root, manifestPath string) (Environment, error) {
	env, err := p.Interpreter(ctx, version, root)
	if err != nil {
		return Environment{}, fmt.Errorf("interpreter: %w", err)
	}
	if err := p.Install(ctx, &env, manifestPath); err != nil {
		return Environment{}, fmt.Errorf("dependencies: %w", err)
	}
	return env, nil
}

var versionPattern = regexp.MustCompile(`Python (\d+)\.(\d+)(?:\.(\d+))?`)

// Interpreter locates a python binary matching version (major.minor) and
// creates a virtual environment for it at root.
func (p *Provisioner) Interpreter(ctx context.Context, version, root string) (Environment, error) {
	want, err := parseMinor(version)
	if err != nil {
		return Environment{}, err
	}

	bin, full, err := p.findInterpreter(ctx, want)
	if err != nil {
		return Environment{}, err
	}

	if _, err := p.runner().Run(ctx, command.Cmd{Name: bin, Args: []string{"-m", "venv", root}, Env: p.Env}); err != nil {
		return Environment{}, fmt.Errorf("create virtual environment: %w", err)
	}
	return Environment{
		Root:    root,
		Python:  filepath.Join(root, "bin", "python"),
		Version: full,
	}, nil
}

// Install resolves the manifest into env. The manifest is parsed first so a
// malformed file fails before anything is installed.
func (p *Provisioner) Install(ctx context.Context, env *Environment, manifestPath string) error {
	manifest, err := ReadManifest(manifestPath)
	if err != nil {
		return err
	}
	env.Manifest = manifest
	if len(manifest.Requirements) == 0 {
		return nil
	}

	args := []string{"-m", "pip", "install", "--disable-pip-version-check", "--no-input", "-r", manifestPath}
	if _, err := p.runner().Run(ctx, command.Cmd{Name: env.Python, Args: args, Env: p.Env}); err != nil {
		return fmt.Errorf("install requirements: %w", err)
	}
	return nil
}

func (p *Provisioner) findInterpreter(ctx context.Context, want string) (string, string, error) {
	lookPath := p.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	names := append([]string{"python" + want}, p.Candidates...)
	var seen []string
	for _, name := range names {
		bin, err := lookPath(name)
		if err != nil {
			continue
		}
		res, err := p.runner().Run(ctx, command.Cmd{Name: bin, Args: []string{"--version"}, Env: p.Env})
		if err != nil {
			continue
		}
		m := versionPattern.FindStringSubmatch(res.Output)
		if m == nil {
			continue
		}
		got := m[1] + "." + m[2]
		full := got
		if m[3] != "" {
			full += "." + m[3]
		}
		if got == want {
			return bin, full, nil
		}
		seen = append(seen, fmt.Sprintf("%s=%s", name, full))
	}
	if len(seen) == 0 {
		return "", "", fmt.Errorf("%w: want %s", ErrInterpreterNotFound, want)
	}
	return "", "", fmt.Errorf("%w: want %s, found %s", ErrInterpreterNotFound, want, strings.Join(seen, ", "))
}

func (p *Provisioner) runner() command.Runner {
	if p.Runner == nil {
		return command.ExecRunner{}
	}
	return p.Runner
}

var minorPattern = regexp.MustCompile(`^(\d+)\.(\d+)(?:\.x)?$`)

func parseMinor(version string) (string, error) {
	v := strings.TrimSpace(version)
	m := minorPattern.FindStringSubmatch(v)
	if m == nil {
		return "", fmt.Errorf("python version must be major.minor, got %q", version)
	}
	return m[1] + "." + m[2], nil
}

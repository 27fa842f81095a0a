// Package workflow reads the deploy pipeline definition from a GitHub
// Actions workflow file.
package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/nektos/act/pkg/model"

	"github.com/coreeng/action-deploy-pipeline/internal/secrets"
	"github.com/coreeng/action-deploy-pipeline/internal/trigger"
)

// DefaultPath is where the deploy workflow lives in a repository.
const DefaultPath = ".github/workflows/deploy.yml"

const (
	defaultPythonVersion = "3.11"
	defaultManifest      = "requirements.txt"
	defaultCommand       = `echo "DB_HOST is $DB_HOST"`
	setupPythonAction    = "actions/setup-python"
)

// Definition is everything a run needs to know about the pipeline.
type Definition struct {
	Name          string
	Path          string
	Gate          trigger.Gate
	PythonVersion string
	Manifest      string
	SecretNames   []string
	Command       string
}

// Default returns the built-in definition: pushes to main, one Python minor
// version, requirements.txt, the declared secrets and the placeholder
// command.
func Default() Definition {
	return Definition{
		Name:          "deploy",
		Gate:          trigger.Default(),
		PythonVersion: defaultPythonVersion,
		Manifest:      defaultManifest,
		SecretNames:   secrets.Names(),
		Command:       defaultCommand,
	}
}

// Load reads and interprets the workflow file at path.
func Load(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read workflow %s: %w", path, err)
	}
	def, err := Parse(bytes.NewReader(content), filepath.Base(path))
	if err != nil {
		return Definition{}, fmt.Errorf("parse workflow %s: %w", path, err)
	}
	def.Path = filepath.ToSlash(path)
	return def, nil
}

// Parse interprets a workflow document. fallbackName names the workflow
// when it has no name of its own.
func Parse(r io.Reader, fallbackName string) (Definition, error) {
	wf, err := readWorkflow(r)
	if err != nil {
		return Definition{}, err
	}
	return interpret(wf, fallbackName)
}

func readWorkflow(r io.Reader) (*model.Workflow, error) {
	wf, err := model.ReadWorkflow(r)
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func interpret(wf *model.Workflow, fallbackName string) (Definition, error) {
	gate, err := pushGate(wf)
	if err != nil {
		return Definition{}, err
	}

	def := Definition{
		Name:     workflowName(wf, fallbackName),
		Gate:     gate,
		Manifest: defaultManifest,
	}

	steps, err := deploySteps(wf)
	if err != nil {
		return Definition{}, err
	}

	var exec *model.Step
	for _, step := range steps {
		if isSetupPython(step) {
			def.PythonVersion = strings.TrimSpace(step.With["python-version"])
		}
		if manifest := manifestFromRun(step.Run); manifest != "" {
			def.Manifest = manifest
		}
		names, err := secretEnv(step)
		if err != nil {
			return Definition{}, err
		}
		if len(names) > 0 {
			exec = step
			def.SecretNames = names
		}
	}

	if def.PythonVersion == "" {
		return Definition{}, fmt.Errorf("no %s step with a python-version input", setupPythonAction)
	}
	if exec == nil {
		return Definition{}, errors.New("no step exposes secrets to a run script")
	}
	def.Command = strings.TrimSpace(exec.Run)
	if def.Command == "" {
		return Definition{}, fmt.Errorf("step %q has secrets but no run script", stepLabel(exec))
	}
	return def, nil
}

func workflowName(wf *model.Workflow, fallback string) string {
	if wf.Name != "" {
		return wf.Name
	}
	return strings.TrimSuffix(strings.TrimSuffix(fallback, ".yml"), ".yaml")
}

func pushGate(wf *model.Workflow) (trigger.Gate, error) {
	for _, evt := range wf.On() {
		if evt != trigger.EventPush {
			continue
		}
		cfg := parseEventConfig(wf.OnEvent(evt))
		if cfg.tagOnly() {
			return trigger.Gate{}, errors.New("push trigger only filters tags")
		}
		return trigger.Gate{
			Event:          trigger.EventPush,
			Branches:       cfg.Branches,
			BranchesIgnore: cfg.BranchesIgnore,
		}, nil
	}
	return trigger.Gate{}, errors.New("workflow has no push trigger")
}

// deploySteps returns the steps of the single job the pipeline runs.
func deploySteps(wf *model.Workflow) ([]*model.Step, error) {
	ids := make([]string, 0, len(wf.Jobs))
	for id := range wf.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	switch len(ids) {
	case 0:
		return nil, errors.New("workflow has no jobs")
	case 1:
		job := wf.Jobs[ids[0]]
		if job == nil || len(job.Steps) == 0 {
			return nil, fmt.Errorf("job %q has no steps", ids[0])
		}
		return job.Steps, nil
	default:
		return nil, fmt.Errorf("expected a single job, found %s", strings.Join(ids, ", "))
	}
}

func isSetupPython(step *model.Step) bool {
	uses := strings.TrimSpace(step.Uses)
	name, _, _ := strings.Cut(uses, "@")
	return strings.EqualFold(name, setupPythonAction)
}

var (
	secretRef   = regexp.MustCompile(`^\$\{\{\s*secrets\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}$`)
	manifestArg = regexp.MustCompile(`\bpip3?\s+install\b[^\n]*?\s(?:-r|--requirement)(?:\s+|=)(\S+)`)
)

// secretEnv returns the env names a step binds to secrets. A step that binds
// secrets may not carry any other env entry: the execution environment is
// the secret set and nothing else.
func secretEnv(step *model.Step) ([]string, error) {
	env := step.Environment()
	var names, literal []string
	for name, value := range env {
		if m := secretRef.FindStringSubmatch(strings.TrimSpace(value)); m != nil {
			if m[1] != name {
				return nil, fmt.Errorf("step %q: env %s must reference secrets.%s, got secrets.%s", stepLabel(step), name, name, m[1])
			}
			names = append(names, name)
			continue
		}
		literal = append(literal, name)
	}
	if len(names) > 0 && len(literal) > 0 {
		sort.Strings(literal)
		return nil, fmt.Errorf("step %q: env %s is not a secret reference", stepLabel(step), strings.Join(literal, ", "))
	}
	sort.Strings(names)
	return names, nil
}

func manifestFromRun(run string) string {
	m := manifestArg.FindStringSubmatch(run)
	if m == nil {
		return ""
	}
	return strings.Trim(m[1], `"'`)
}

func stepLabel(step *model.Step) string {
	if step.Name != "" {
		return step.Name
	}
	if step.ID != "" {
		return step.ID
	}
	return step.Uses
}

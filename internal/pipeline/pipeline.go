// Package pipeline runs the deploy pipeline: trigger gate, source
// acquisition, environment provisioning and execution, strictly in that
// order and stopping at the first failure.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/coreeng/action-deploy-pipeline/internal/deploy"
	"github.com/coreeng/action-deploy-pipeline/internal/provision"
	"github.com/coreeng/action-deploy-pipeline/internal/secrets"
	"github.com/coreeng/action-deploy-pipeline/internal/source"
	"github.com/coreeng/action-deploy-pipeline/internal/trigger"
	"github.com/coreeng/action-deploy-pipeline/internal/workflow"
	"github.com/coreeng/action-deploy-pipeline/internal/workspace"
)

// Provisioner builds the interpreter environment of a run.
type Provisioner interface {
	Provision(ctx context.Context, version, root, manifestPath string) (provision.Environment, error)
}

// Pipeline wires the stages of a run together. Only Definition, Secrets,
// Acquirer, Provisioner and Deployer are required.
type Pipeline struct {
	Definition  workflow.Definition
	Secrets     secrets.Source
	Acquirer    source.Acquirer
	Provisioner Provisioner
	Deployer    deploy.Deployer

	// WorkspaceRoot is where run workspaces are created; the system
	// temporary directory when empty.
	WorkspaceRoot string
	Logger        *slog.Logger
	NewRunID      func() string
}

type run struct {
	p       *Pipeline
	log     *slog.Logger
	secrets secrets.Set
	result  Result
}

// Run evaluates the event and, when it qualifies, executes every stage.
func (p *Pipeline) Run(ctx context.Context, event trigger.EventContext, ref source.Ref) Result {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if !p.Definition.Gate.Allows(event) {
		logger.Info("event does not match trigger, nothing to do",
			"event", event.Name, "ref", event.Ref, "workflow", p.Definition.Name)
		return Result{State: StateSkipped}
	}

	newID := p.NewRunID
	if newID == nil {
		newID = workspace.NewRunID
	}
	r := &run{p: p, result: Result{RunID: newID(), State: StateWaiting}}
	r.log = logger.With("run_id", r.result.RunID)
	r.transition(StateTriggered)

	if ref.SHA == "" {
		ref.SHA = event.SHA
	}
	if ref.Ref == "" {
		ref.Ref = event.Ref
	}

	r.execute(ctx, ref)
	return r.result
}

func (r *run) execute(ctx context.Context, ref source.Ref) {
	def := r.p.Definition

	var set secrets.Set
	if !r.stage(StageSecrets, func() error {
		var err error
		set, err = secrets.Load(r.p.Secrets, def.SecretNames)
		return err
	}) {
		return
	}

	r.secrets = set

	var ws *workspace.Workspace
	defer func() {
		if ws == nil {
			return
		}
		if err := ws.Close(); err != nil {
			r.log.Warn("workspace teardown failed", "error", err)
		}
	}()

	if !r.stage(StageAcquisition, func() error {
		var err error
		ws, err = workspace.New(r.p.WorkspaceRoot, r.result.RunID)
		if err != nil {
			return err
		}
		r.log.Debug("workspace created", "root", ws.Root())
		return r.p.Acquirer.Acquire(ctx, ref, ws.Source())
	}) {
		return
	}
	r.transition(StateSourceReady)

	var env provision.Environment
	if !r.stage(StageProvisioning, func() error {
		var err error
		manifest := filepath.Join(ws.Source(), filepath.FromSlash(def.Manifest))
		env, err = r.p.Provisioner.Provision(ctx, def.PythonVersion, ws.Env(), manifest)
		return err
	}) {
		return
	}
	r.log.Info("environment ready", "python", env.Version, "requirements", len(env.Manifest.Requirements))
	r.transition(StateEnvironmentReady)

	start := time.Now()
	code, err := r.p.Deployer.Deploy(ctx, deploy.Env{
		Workdir: ws.Source(),
		Secrets: set,
		Extra:   env.Vars(),
	})
	r.result.ExitCode = code
	if err == nil && code != 0 {
		err = &StageError{Stage: StageExecution, ExitCode: code}
	}
	r.record(StageExecution, start, err)
	if err != nil {
		r.fail(StageExecution, code, err)
		return
	}
	r.transition(StateExecuted)
	r.transition(StateSucceeded)
}

// stage runs fn, records it and fails the run when it returns an error.
func (r *run) stage(stage Stage, fn func() error) bool {
	r.log.Info("stage started", "stage", stage)
	start := time.Now()
	err := fn()
	r.record(stage, start, err)
	if err != nil {
		r.fail(stage, 0, err)
		return false
	}
	return true
}

func (r *run) record(stage Stage, start time.Time, err error) {
	d := time.Since(start)
	r.result.Stages = append(r.result.Stages, StageResult{Stage: stage, Duration: d, Err: err})
	if err == nil {
		r.log.Info("stage finished", "stage", stage, "duration", d)
	}
}

func (r *run) fail(stage Stage, code int, err error) {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: stage, ExitCode: code, Err: err}
	}
	r.result.FailedStage = stage
	r.result.Err = se
	r.log.Error("stage failed", "stage", stage, "error", r.secrets.Redact(se.Error()))
	r.transition(StateFailed)
}

// transition moves the run to state to. A run that reached a terminal state
// stays there.
func (r *run) transition(to State) {
	from := r.result.State
	if from.Terminal() {
		r.log.Warn("ignoring transition out of terminal state", "from", from, "to", to)
		return
	}
	r.result.State = to
	r.log.Debug("run state changed", "from", from, "to", to)
}

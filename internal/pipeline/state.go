package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// State is the position of a run in its lifecycle.
type State string

const (
	StateWaiting          State = "waiting"
	StateSkipped          State = "skipped"
	StateTriggered        State = "triggered"
	StateSourceReady      State = "source-ready"
	StateEnvironmentReady State = "environment-ready"
	StateExecuted         State = "executed"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// Stage names a step of the run that can fail.
type Stage string

const (
	StageSecrets      Stage = "secrets"
	StageAcquisition  Stage = "acquisition"
	StageProvisioning Stage = "provisioning"
	StageExecution    Stage = "execution"
)

var (
	ErrSecrets      = errors.New("secrets unavailable")
	ErrAcquisition  = errors.New("source acquisition failed")
	ErrProvisioning = errors.New("environment provisioning failed")
	ErrExecution    = errors.New("execution failed")
)

var stageErrors = map[Stage]error{
	StageSecrets:      ErrSecrets,
	StageAcquisition:  ErrAcquisition,
	StageProvisioning: ErrProvisioning,
	StageExecution:    ErrExecution,
}

// StageError is the failure that ended a run.
type StageError struct {
	Stage    Stage
	ExitCode int
	Err      error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: exit code %d", stageErrors[e.Stage], e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", stageErrors[e.Stage], e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is matches the sentinel error of the failed stage.
func (e *StageError) Is(target error) bool {
	return stageErrors[e.Stage] == target
}

// StageResult records one stage that ran.
type StageResult struct {
	Stage    Stage
	Duration time.Duration
	Err      error
}

// Result is the outcome of one run.
type Result struct {
	RunID       string
	State       State
	FailedStage Stage
	// ExitCode is the deployer's exit code once the execution stage ran.
	ExitCode int
	Err      error
	Stages   []StageResult
}

func (r Result) Succeeded() bool { return r.State == StateSucceeded }

// ProcessExitCode maps the result onto the exit status of the program: 0
// for success or an ignored event, the deployer's code when it failed with
// one, 1 otherwise.
func (r Result) ProcessExitCode() int {
	switch r.State {
	case StateSucceeded, StateSkipped:
		return 0
	}
	if r.FailedStage == StageExecution && r.ExitCode > 0 {
		return r.ExitCode
	}
	return 1
}

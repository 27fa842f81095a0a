package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/coreeng/action-deploy-pipeline/internal/deploy"
	"github.com/coreeng/action-deploy-pipeline/internal/pipeline"
	"github.com/coreeng/action-deploy-pipeline/internal/source"
	"github.com/coreeng/action-deploy-pipeline/internal/workflow"
)

func TestOptionsFromEnv(t *testing.T) {
	vars := map[string]string{
		"INPUT_PREFLIGHT":  "true",
		"INPUT_SOURCE_DIR": " /src ",
		"RUNNER_TEMP":      "/runner/tmp",
		"GITHUB_WORKSPACE": "/repo",
		"GITHUB_TOKEN":     "ghs_fallback",
	}
	got := optionsFromEnv(func(k string) string { return vars[k] })
	want := options{
		RepoRoot:      "/repo",
		WorkspaceRoot: "/runner/tmp",
		SourceDir:     "/src",
		Deployer:      "script",
		LogLevel:      "info",
		Token:         "ghs_fallback",
		Preflight:     true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDefinition_FallsBackToDefault(t *testing.T) {
	def, err := loadDefinition(options{RepoRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("loadDefinition returned error: %v", err)
	}
	if diff := cmp.Diff(workflow.Default(), def); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDefinition_DiscoversRepositoryWorkflow(t *testing.T) {
	def, err := loadDefinition(options{RepoRoot: filepath.Join("..", "..")})
	if err != nil {
		t.Fatalf("loadDefinition returned error: %v", err)
	}
	if def.Path != workflow.DefaultPath || def.PythonVersion != "3.11" {
		t.Fatalf("unexpected definition %+v", def)
	}
}

func TestLoadDefinition_ExplicitMissingFile(t *testing.T) {
	if _, err := loadDefinition(options{WorkflowPath: filepath.Join(t.TempDir(), "deploy.yml")}); err == nil {
		t.Fatalf("expected an explicit missing workflow to fail")
	}
}

func TestBuildPipeline(t *testing.T) {
	opts := options{Deployer: "script", SourceDir: t.TempDir(), Preflight: true, UploadDir: "dist"}
	p, err := buildPipeline(workflow.Default(), opts, &bytes.Buffer{}, &bytes.Buffer{}, nil)
	if err != nil {
		t.Fatalf("buildPipeline returned error: %v", err)
	}
	if _, ok := p.Acquirer.(source.LocalAcquirer); !ok {
		t.Fatalf("expected a local acquirer, got %T", p.Acquirer)
	}
	pre, ok := p.Deployer.(deploy.PreflightDeployer)
	if !ok {
		t.Fatalf("expected preflight deployer, got %T", p.Deployer)
	}
	if len(pre.Checks) != 2 {
		t.Fatalf("expected storage and database checks, got %d", len(pre.Checks))
	}
	seq, ok := pre.Next.(deploy.Sequence)
	if !ok || len(seq) != 2 {
		t.Fatalf("expected script then upload, got %T", pre.Next)
	}

	p, err = buildPipeline(workflow.Default(), options{Deployer: "echo", Token: "ghs_token"}, nil, nil, nil)
	if err != nil {
		t.Fatalf("buildPipeline returned error: %v", err)
	}
	if acq, ok := p.Acquirer.(source.GitAcquirer); !ok || acq.Token != "ghs_token" {
		t.Fatalf("expected a git acquirer carrying the token, got %#v", p.Acquirer)
	}

	if _, err := buildPipeline(workflow.Default(), options{Deployer: "helm"}, nil, nil, nil); err == nil {
		t.Fatalf("expected an unknown deployer to fail")
	}
}

func TestRunPipeline_SkipsOtherBranches(t *testing.T) {
	t.Setenv("GITHUB_EVENT_NAME", "push")
	t.Setenv("GITHUB_REF", "refs/heads/develop")
	t.Setenv("GITHUB_EVENT_PATH", "")
	outputs := filepath.Join(t.TempDir(), "outputs")
	t.Setenv("GITHUB_OUTPUT", outputs)

	var stdout, stderr bytes.Buffer
	err := runPipeline(context.Background(), options{Deployer: "echo", LogLevel: "info", WorkspaceRoot: t.TempDir()}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("runPipeline returned error: %v", err)
	}
	if !strings.Contains(stdout.String(), "nothing to run") {
		t.Fatalf("unexpected report %q", stdout.String())
	}
	data, err := os.ReadFile(outputs)
	if err != nil {
		t.Fatalf("read outputs: %v", err)
	}
	if !strings.Contains(string(data), "status<<EOF\nskipped\nEOF\n") {
		t.Fatalf("unexpected outputs %q", data)
	}
}

func TestRunPipeline_MissingSecretsFails(t *testing.T) {
	t.Setenv("GITHUB_EVENT_NAME", "push")
	t.Setenv("GITHUB_REF", "refs/heads/main")
	t.Setenv("GITHUB_EVENT_PATH", "")
	t.Setenv("GITHUB_OUTPUT", "")
	secretsFile := filepath.Join(t.TempDir(), "secrets.yaml")
	if err := os.WriteFile(secretsFile, []byte("DB_HOST: db\n"), 0o600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}

	var stdout, stderr bytes.Buffer
	opts := options{Deployer: "echo", LogLevel: "info", SecretsFile: secretsFile, WorkspaceRoot: t.TempDir()}
	err := runPipeline(context.Background(), opts, &stdout, &stderr)
	var exitErr *exitCodeError
	if !errors.As(err, &exitErr) || exitErr.code != 1 {
		t.Fatalf("expected exit code 1, got %v", err)
	}
	if !strings.Contains(stdout.String(), "failed at secrets") {
		t.Fatalf("unexpected report %q", stdout.String())
	}
}

func TestExportOutputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outputs")
	t.Setenv("GITHUB_OUTPUT", path)

	res := pipeline.Result{RunID: "abc", State: pipeline.StateFailed, FailedStage: pipeline.StageExecution, ExitCode: 4}
	if err := exportOutputs(res); err != nil {
		t.Fatalf("exportOutputs returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read outputs: %v", err)
	}
	want := "run-id<<EOF\nabc\nEOF\nstatus<<EOF\nfailed\nEOF\nstage<<EOF\nexecution\nEOF\nexit-code<<EOF\n4\nEOF\n"
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	if _, err := newLogger(&bytes.Buffer{}, "loud"); err == nil {
		t.Fatalf("expected an unknown level to fail")
	}
}

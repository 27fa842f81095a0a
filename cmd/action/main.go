package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coreeng/action-deploy-pipeline/internal/command"
	"github.com/coreeng/action-deploy-pipeline/internal/database"
	"github.com/coreeng/action-deploy-pipeline/internal/deploy"
	"github.com/coreeng/action-deploy-pipeline/internal/pipeline"
	"github.com/coreeng/action-deploy-pipeline/internal/provision"
	"github.com/coreeng/action-deploy-pipeline/internal/secrets"
	"github.com/coreeng/action-deploy-pipeline/internal/source"
	"github.com/coreeng/action-deploy-pipeline/internal/trigger"
	"github.com/coreeng/action-deploy-pipeline/internal/workflow"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(optionsFromEnv(os.Getenv), os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.code)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// exitCodeError carries a failed run's status out of cobra. The run has
// already been reported, so main prints nothing more.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string { return fmt.Sprintf("run failed with exit code %d", e.code) }

type options struct {
	RepoRoot      string
	WorkflowPath  string
	WorkspaceRoot string
	SourceDir     string
	SecretsFile   string
	Deployer      string
	UploadDir     string
	UploadPrefix  string
	LogLevel      string
	Token         string
	Preflight     bool
}

// optionsFromEnv reads the action inputs. Flags given on the command line
// override them.
func optionsFromEnv(getenv func(string) string) options {
	opts := options{
		WorkflowPath:  strings.TrimSpace(getenv("INPUT_WORKFLOW")),
		WorkspaceRoot: strings.TrimSpace(getenv("INPUT_WORKSPACE_ROOT")),
		SourceDir:     strings.TrimSpace(getenv("INPUT_SOURCE_DIR")),
		SecretsFile:   strings.TrimSpace(getenv("INPUT_SECRETS_FILE")),
		Deployer:      strings.TrimSpace(getenv("INPUT_DEPLOYER")),
		UploadDir:     strings.TrimSpace(getenv("INPUT_UPLOAD_DIR")),
		UploadPrefix:  strings.TrimSpace(getenv("INPUT_UPLOAD_PREFIX")),
		LogLevel:      strings.TrimSpace(getenv("INPUT_LOG_LEVEL")),
		Token:         strings.TrimSpace(getenv("INPUT_TOKEN")),
	}
	if opts.Token == "" {
		opts.Token = strings.TrimSpace(getenv("GITHUB_TOKEN"))
	}
	if v, err := strconv.ParseBool(strings.TrimSpace(getenv("INPUT_PREFLIGHT"))); err == nil {
		opts.Preflight = v
	}
	if opts.WorkspaceRoot == "" {
		opts.WorkspaceRoot = strings.TrimSpace(getenv("RUNNER_TEMP"))
	}
	opts.RepoRoot = strings.TrimSpace(getenv("GITHUB_WORKSPACE"))
	if opts.Deployer == "" {
		opts.Deployer = "script"
	}
	if opts.LogLevel == "" {
		opts.LogLevel = "info"
	}
	return opts
}

func newRootCommand(opts options, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "deploy-pipeline",
		Short:         "Run the deploy pipeline for a push event",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), opts, stdout, stderr)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.WorkflowPath, "workflow", opts.WorkflowPath, "workflow file defining the pipeline")
	flags.StringVar(&opts.RepoRoot, "repo-root", opts.RepoRoot, "repository whose workflows are searched when --workflow is not given")
	flags.StringVar(&opts.WorkspaceRoot, "workspace-root", opts.WorkspaceRoot, "directory run workspaces are created in")
	flags.StringVar(&opts.SecretsFile, "secrets-file", opts.SecretsFile, "YAML file to read secrets from instead of the environment")
	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.SourceDir, "source-dir", opts.SourceDir, "copy this checked out tree instead of fetching the commit")
	cmd.Flags().StringVar(&opts.Deployer, "deployer", opts.Deployer, "execution step (script|echo)")
	cmd.Flags().StringVar(&opts.UploadDir, "upload-dir", opts.UploadDir, "directory of the tree to upload to the bucket after the script")
	cmd.Flags().StringVar(&opts.UploadPrefix, "upload-prefix", opts.UploadPrefix, "object key prefix for uploads")
	cmd.Flags().BoolVar(&opts.Preflight, "preflight", opts.Preflight, "check the bucket and the database before deploying")

	cmd.AddCommand(newGateCommand(&opts, stdout))
	cmd.AddCommand(newCheckSecretsCommand(&opts, stdout))
	return cmd
}

func newGateCommand(opts *options, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "gate",
		Short: "Report whether the current event starts a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(*opts)
			if err != nil {
				return err
			}
			event, err := trigger.FromEnv(os.Getenv)
			if err != nil {
				return fmt.Errorf("build event context: %w", err)
			}
			allowed := def.Gate.Allows(event)
			if allowed {
				fmt.Fprintf(stdout, "Event %s on %s starts %s.\n", event.Name, event.Ref, def.Name)
			} else {
				fmt.Fprintf(stdout, "Event %s on %s does not match %s.\n", event.Name, event.Ref, def.Name)
			}
			return setOutput("triggered", strconv.FormatBool(allowed))
		},
	}
}

func newCheckSecretsCommand(opts *options, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "check-secrets",
		Short: "Verify every declared secret is present and non-empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(*opts)
			if err != nil {
				return err
			}
			src, err := secretSource(opts.SecretsFile)
			if err != nil {
				return err
			}
			set, err := secrets.Load(src, def.SecretNames)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "All %d declared secrets are set.\n", set.Len())
			return nil
		},
	}
}

func runPipeline(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	logger, err := newLogger(stderr, opts.LogLevel)
	if err != nil {
		return err
	}

	def, err := loadDefinition(opts)
	if err != nil {
		return err
	}

	event, err := trigger.FromEnv(os.Getenv)
	if err != nil {
		return fmt.Errorf("build event context: %w", err)
	}

	p, err := buildPipeline(def, opts, stdout, stderr, logger)
	if err != nil {
		return err
	}

	res := p.Run(ctx, event, source.RefFromEnv(os.Getenv))
	report(stdout, def, res)
	if err := exportOutputs(res); err != nil {
		return fmt.Errorf("export outputs: %w", err)
	}
	if code := res.ProcessExitCode(); code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}

// loadDefinition prefers an explicit workflow file, then the single
// pipeline workflow of the repository, then the built-in definition.
func loadDefinition(opts options) (workflow.Definition, error) {
	if opts.WorkflowPath != "" {
		return workflow.Load(opts.WorkflowPath)
	}
	if opts.RepoRoot == "" {
		return workflow.Default(), nil
	}

	defs, err := workflow.Discover(opts.RepoRoot)
	if err != nil {
		return workflow.Definition{}, err
	}
	switch len(defs) {
	case 0:
		return workflow.Default(), nil
	case 1:
		return defs[0], nil
	default:
		paths := make([]string, 0, len(defs))
		for _, d := range defs {
			paths = append(paths, d.Path)
		}
		return workflow.Definition{}, fmt.Errorf("several pipeline workflows found, pick one with --workflow: %s", strings.Join(paths, ", "))
	}
}

func secretSource(path string) (secrets.Source, error) {
	if path == "" {
		return secrets.EnvSource{}, nil
	}
	return secrets.ReadFile(path)
}

func buildPipeline(def workflow.Definition, opts options, stdout, stderr io.Writer, logger *slog.Logger) (*pipeline.Pipeline, error) {
	src, err := secretSource(opts.SecretsFile)
	if err != nil {
		return nil, err
	}

	runner := command.ExecRunner{}
	base := os.Environ()

	var acq source.Acquirer = source.GitAcquirer{Runner: runner, Env: base, Token: opts.Token}
	if opts.SourceDir != "" {
		acq = source.LocalAcquirer{Dir: opts.SourceDir}
	}

	var deployer deploy.Deployer
	switch opts.Deployer {
	case "script":
		deployer = deploy.ShellDeployer{Runner: runner, Script: def.Command, Stdout: stdout, Stderr: stderr}
	case "echo":
		deployer = deploy.EchoDeployer{Out: stdout}
	default:
		return nil, fmt.Errorf("unknown deployer %q: must be script or echo", opts.Deployer)
	}
	if opts.UploadDir != "" {
		deployer = deploy.Sequence{deployer, deploy.UploadDeployer{Dir: opts.UploadDir, Prefix: opts.UploadPrefix, Out: stdout}}
	}
	if opts.Preflight {
		deployer = deploy.PreflightDeployer{
			Checks: []deploy.Check{deploy.StorageCheck(), deploy.DatabaseCheck(database.DefaultOptions())},
			Next:   deployer,
			Logger: logger,
		}
	}

	return &pipeline.Pipeline{
		Definition:    def,
		Secrets:       src,
		Acquirer:      acq,
		Provisioner:   provision.New(runner, base),
		Deployer:      deployer,
		WorkspaceRoot: opts.WorkspaceRoot,
		Logger:        logger,
	}, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func report(w io.Writer, def workflow.Definition, res pipeline.Result) {
	switch res.State {
	case pipeline.StateSkipped:
		fmt.Fprintf(w, "Event does not match %s; nothing to run.\n", def.Name)
	case pipeline.StateSucceeded:
		fmt.Fprintf(w, "Run %s succeeded:\n", res.RunID)
	default:
		fmt.Fprintf(w, "Run %s failed at %s:\n", res.RunID, res.FailedStage)
	}
	for _, s := range res.Stages {
		status := "ok"
		if s.Err != nil {
			status = "failed"
		}
		fmt.Fprintf(w, " - %s %s (%s)\n", s.Stage, status, s.Duration.Round(time.Millisecond))
	}
}

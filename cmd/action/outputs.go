package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/coreeng/action-deploy-pipeline/internal/pipeline"
)

func exportOutputs(res pipeline.Result) error {
	outputs := []struct{ name, value string }{
		{"run-id", res.RunID},
		{"status", string(res.State)},
		{"stage", string(res.FailedStage)},
		{"exit-code", strconv.Itoa(res.ProcessExitCode())},
	}
	for _, o := range outputs {
		if err := setOutput(o.name, o.value); err != nil {
			return err
		}
	}
	return nil
}

func setOutput(name, value string) error {
	path := os.Getenv("GITHUB_OUTPUT")
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o666)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s<<EOF\n%s\nEOF\n", name, value); err != nil {
		return err
	}
	return nil
}

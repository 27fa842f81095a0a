package workflow

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Discover scans the workflows directory of repoRoot and returns every
// workflow that describes a deploy pipeline. Files that are valid workflows
// but not pipelines are skipped; files that cannot be parsed are errors.
func Discover(repoRoot string) ([]Definition, error) {
	files, err := loadWorkflowFiles(repoRoot)
	if err != nil {
		return nil, err
	}

	var defs []Definition
	for _, f := range files {
		wf, err := readWorkflow(bytes.NewReader(f.Content))
		if err != nil {
			return nil, fmt.Errorf("parse workflow %s: %w", f.Path, err)
		}
		def, err := interpret(wf, filepath.Base(f.Path))
		if err != nil {
			continue
		}
		def.Path = f.Path
		defs = append(defs, def)
	}
	return defs, nil
}

func isWorkflowFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

type workflowFile struct {
	Path    string
	Content []byte
}

func loadWorkflowFiles(repoRoot string) ([]workflowFile, error) {
	workflowsDir := filepath.Join(repoRoot, ".github", "workflows")
	if _, err := os.Stat(workflowsDir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read workflows directory: %w", err)
	}

	var files []workflowFile
	err := filepath.WalkDir(workflowsDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !isWorkflowFile(d.Name()) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read workflow %s: %w", path, err)
		}
		rel, err := filepath.Rel(repoRoot, path)
		if err != nil {
			return fmt.Errorf("derive relative path for %s: %w", path, err)
		}
		files = append(files, workflowFile{
			Path:    filepath.ToSlash(rel),
			Content: content,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

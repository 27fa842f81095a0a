package workflow

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/coreeng/action-deploy-pipeline/internal/secrets"
	"github.com/coreeng/action-deploy-pipeline/internal/trigger"
)

func TestLoad_RepositoryWorkflowMatchesDefault(t *testing.T) {
	def, err := Load(filepath.Join("..", "..", ".github", "workflows", "deploy.yml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	want := Default()
	sort.Strings(want.SecretNames)
	def.Path = ""
	if diff := cmp.Diff(want, def); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_CustomWorkflow(t *testing.T) {
	def := parse(t, `
on:
  push:
    branches: ["release/**"]
    branches-ignore: ["release/old-*"]
    tags: ["v*"]
  pull_request:
jobs:
  ship:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - uses: actions/setup-python@v5
        with:
          python-version: "3.12"
      - run: pip install --no-cache-dir --requirement=deploy/requirements.txt
      - name: Ship
        env:
          DB_HOST: ${{ secrets.DB_HOST }}
          ACCESS_KEY: ${{secrets.ACCESS_KEY}}
        run: python deploy.py
`)

	want := Definition{
		Name: "custom",
		Gate: trigger.Gate{
			Event:          "push",
			Branches:       []string{"release/**"},
			BranchesIgnore: []string{"release/old-*"},
		},
		PythonVersion: "3.12",
		Manifest:      "deploy/requirements.txt",
		SecretNames:   []string{"ACCESS_KEY", "DB_HOST"},
		Command:       "python deploy.py",
	}
	if diff := cmp.Diff(want, def); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"no push trigger": `
on: pull_request
jobs:
  deploy:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/setup-python@v5
        with: {python-version: "3.11"}
      - env: {DB_HOST: "${{ secrets.DB_HOST }}"}
        run: echo hi
`,
		"tag-only push": `
on:
  push:
    tags: ["v*"]
jobs:
  deploy:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/setup-python@v5
        with: {python-version: "3.11"}
      - env: {DB_HOST: "${{ secrets.DB_HOST }}"}
        run: echo hi
`,
		"no python": `
on: push
jobs:
  deploy:
    runs-on: ubuntu-latest
    steps:
      - env: {DB_HOST: "${{ secrets.DB_HOST }}"}
        run: echo hi
`,
		"no secrets": `
on: push
jobs:
  deploy:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/setup-python@v5
        with: {python-version: "3.11"}
      - run: echo hi
`,
		"literal env next to secrets": `
on: push
jobs:
  deploy:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/setup-python@v5
        with: {python-version: "3.11"}
      - env:
          DB_HOST: "${{ secrets.DB_HOST }}"
          DEBUG: "1"
        run: echo hi
`,
		"renamed secret": `
on: push
jobs:
  deploy:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/setup-python@v5
        with: {python-version: "3.11"}
      - env: {DB_HOST: "${{ secrets.PROD_DB_HOST }}"}
        run: echo hi
`,
		"two jobs": `
on: push
jobs:
  a:
    runs-on: ubuntu-latest
    steps: [{run: echo a}]
  b:
    runs-on: ubuntu-latest
    steps: [{run: echo b}]
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(strings.TrimLeft(content, "\n")), "deploy.yml"); err == nil {
				t.Fatalf("expected %s to fail", name)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "deploy.yml")); err == nil {
		t.Fatalf("expected a missing workflow to fail")
	}
}

func TestLoad_SetsPath(t *testing.T) {
	repo := t.TempDir()
	path := writeWorkflow(t, repo, "deploy.yaml", `
on:
  push:
    branches: main
jobs:
  deploy:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/setup-python@v5
        with: {python-version: "3.11"}
      - env: {DB_HOST: "${{ secrets.DB_HOST }}"}
        run: echo "$DB_HOST"
`)
	def, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if def.Path != filepath.ToSlash(path) || def.Name != "deploy" {
		t.Fatalf("unexpected path/name %q/%q", def.Path, def.Name)
	}
	if diff := cmp.Diff([]string{"main"}, def.Gate.Branches); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDefault(t *testing.T) {
	def := Default()
	if diff := cmp.Diff(secrets.Names(), def.SecretNames); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if !def.Gate.Allows(trigger.EventContext{Name: "push", Ref: "refs/heads/main"}) {
		t.Fatalf("default gate must allow pushes to main")
	}
}

func TestManifestFromRun(t *testing.T) {
	cases := []struct {
		run  string
		want string
	}{
		{run: "pip install -r requirements.txt", want: "requirements.txt"},
		{run: "python -m pip install --upgrade pip\npip install -r a.txt", want: "a.txt"},
		{run: "pip3 install -q -r 'req/prod.txt'", want: "req/prod.txt"},
		{run: "pip install fastapi", want: ""},
	}
	for _, tc := range cases {
		if got := manifestFromRun(tc.run); got != tc.want {
			t.Fatalf("manifestFromRun(%q) = %q, want %q", tc.run, got, tc.want)
		}
	}
}

func parse(t *testing.T, content string) Definition {
	t.Helper()
	def, err := Parse(strings.NewReader(strings.TrimLeft(content, "\n")), "custom.yml")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	return def
}

func writeWorkflow(t *testing.T, repoRoot, name, content string) string {
	t.Helper()
	dir := filepath.Join(repoRoot, ".github", "workflows")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create workflows dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.TrimLeft(content, "\n")), 0o644); err != nil {
		t.Fatalf("failed to write workflow %s: %v", name, err)
	}
	return path
}

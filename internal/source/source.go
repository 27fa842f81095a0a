// Package source places the repository snapshot for a run into its
// workspace.
package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/coreeng/action-deploy-pipeline/internal/command"
)

// Ref identifies the commit a run acquires.
type Ref struct {
	// ServerURL is the git host, e.g. "https://github.com".
	ServerURL string
	// Repository is "owner/name".
	Repository string
	// SHA is the full commit id.
	SHA string
	// Ref is the git ref the commit was pushed to.
	Ref string
}

// RefFromEnv reads the commit reference from the GitHub Actions variables.
func RefFromEnv(getenv func(string) string) Ref {
	server := strings.TrimSpace(getenv("GITHUB_SERVER_URL"))
	if server == "" {
		server = "https://github.com"
	}
	return Ref{
		ServerURL:  server,
		Repository: strings.TrimSpace(getenv("GITHUB_REPOSITORY")),
		SHA:        strings.TrimSpace(getenv("GITHUB_SHA")),
		Ref:        strings.TrimSpace(getenv("GITHUB_REF")),
	}
}

var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}([0-9a-f]{24})?$`)

// Validate checks that r names a repository and a full commit id.
func (r Ref) Validate() error {
	if strings.TrimSpace(r.Repository) == "" {
		return errors.New("repository is required")
	}
	if !shaPattern.MatchString(strings.ToLower(strings.TrimSpace(r.SHA))) {
		return fmt.Errorf("invalid commit sha %q", r.SHA)
	}
	return nil
}

// CloneURL returns the URL fetched from. Repository may already be a URL or
// a local path.
func (r Ref) CloneURL() string {
	repo := strings.TrimSpace(r.Repository)
	if strings.Contains(repo, "://") || strings.HasPrefix(repo, "/") || strings.HasPrefix(repo, "git@") {
		return repo
	}
	return strings.TrimSuffix(r.ServerURL, "/") + "/" + repo + ".git"
}

// Acquirer produces a snapshot of the repository at ref in dir.
type Acquirer interface {
	Acquire(ctx context.Context, ref Ref, dir string) error
}

// GitAcquirer fetches exactly one commit with the git binary.
type GitAcquirer struct {
	Runner command.Runner
	Git    string
	// Env is the environment git runs with, usually os.Environ().
	Env []string
	// Token authenticates HTTPS fetches from ServerURL, usually GITHUB_TOKEN.
	Token string
}

func (g GitAcquirer) Acquire(ctx context.Context, ref Ref, dir string) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	runner := g.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}
	git := g.Git
	if git == "" {
		git = "git"
	}
	sha := strings.ToLower(strings.TrimSpace(ref.SHA))

	steps := [][]string{
		{"init", "--quiet"},
		{"fetch", "--quiet", "--no-tags", "--depth", "1", ref.CloneURL(), sha},
		{"checkout", "--quiet", "--detach", "FETCH_HEAD"},
	}
	for _, args := range steps {
		env := g.Env
		if args[0] == "fetch" {
			env = append(append([]string{}, g.Env...), g.authEnv(ref)...)
		}
		if _, err := runner.Run(ctx, command.Cmd{Name: git, Args: args, Dir: dir, Env: env}); err != nil {
			return fmt.Errorf("git %s: %w", args[0], err)
		}
	}

	res, err := runner.Run(ctx, command.Cmd{Name: git, Args: []string{"rev-parse", "HEAD"}, Dir: dir, Env: g.Env})
	if err != nil {
		return fmt.Errorf("git rev-parse: %w", err)
	}
	if head := strings.TrimSpace(res.Output); head != sha {
		return fmt.Errorf("checked out %s, want %s", head, sha)
	}
	return nil
}

// authEnv passes the token to git as an extra header scoped to the server,
// through GIT_CONFIG_* so it never appears in the process arguments.
func (g GitAcquirer) authEnv(ref Ref) []string {
	token := strings.TrimSpace(g.Token)
	server := strings.TrimSuffix(strings.TrimSpace(ref.ServerURL), "/")
	if token == "" || !strings.HasPrefix(server, "https://") {
		return nil
	}
	if !strings.HasPrefix(ref.CloneURL(), server+"/") {
		return nil
	}
	basic := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + token))
	return []string{
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=http." + server + "/.extraheader",
		"GIT_CONFIG_VALUE_0=AUTHORIZATION: basic " + basic,
	}
}

// LocalAcquirer copies an already checked out tree. The .git directory is
// skipped and the commit is not verified.
type LocalAcquirer struct {
	Dir string
}

func (l LocalAcquirer) Acquire(ctx context.Context, _ Ref, dir string) error {
	src := filepath.Clean(l.Dir)
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("read source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("derive relative path for %s: %w", path, err)
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		target := filepath.Join(dir, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

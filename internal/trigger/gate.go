package trigger

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// EventPush is the only event name the deploy pipeline reacts to by default.
const EventPush = "push"

// DefaultBranch is the branch a default gate lets through.
const DefaultBranch = "main"

// Gate decides whether an incoming event starts a run.
type Gate struct {
	Event          string
	Branches       []string
	BranchesIgnore []string
}

// Default returns the gate for pushes to main.
func Default() Gate {
	return Gate{Event: EventPush, Branches: []string{DefaultBranch}}
}

// Allows reports whether the event qualifies for a run. Events that do not
// match, including malformed ones, are ignored rather than rejected.
func (g Gate) Allows(ctx EventContext) bool {
	event := strings.TrimSpace(g.Event)
	if event == "" {
		event = EventPush
	}
	if strings.TrimSpace(ctx.Name) != event {
		return false
	}

	branch, tag := splitRef(ctx.Ref)
	if tag != "" || branch == "" {
		return false
	}
	return matchesBranchFilters(g.Branches, g.BranchesIgnore, branch)
}

func matchesBranchFilters(includes, excludes []string, branch string) bool {
	if len(includes) == 0 && len(excludes) == 0 {
		return true
	}
	if branch == "" {
		return false
	}

	if len(includes) > 0 && !matchesBranchPatternList(includes, branch) {
		return false
	}
	if len(excludes) > 0 && matchesBranchPatternList(excludes, branch) {
		return false
	}
	return true
}

func matchesPatternList(patterns []string, candidate string) bool {
	if len(patterns) == 0 {
		return true
	}

	for _, pattern := range patterns {
		norm := strings.TrimSpace(pattern)
		if norm == "" {
			continue
		}
		matched, err := doublestar.Match(norm, candidate)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}

	return false
}

func matchesBranchPatternList(patterns []string, branch string) bool {
	if len(patterns) == 0 {
		return true
	}
	candidates := []string{branch}
	if !strings.HasPrefix(branch, "refs/heads/") && branch != "" {
		candidates = append(candidates, "refs/heads/"+branch)
	}

	for _, candidate := range candidates {
		if matchesPatternList(patterns, candidate) {
			return true
		}
	}
	return false
}

func splitRef(ref string) (branch string, tag string) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "refs/heads/") {
		return strings.TrimPrefix(ref, "refs/heads/"), ""
	}
	if strings.HasPrefix(ref, "refs/tags/") {
		return "", strings.TrimPrefix(ref, "refs/tags/")
	}
	if strings.HasPrefix(ref, "refs/") {
		return "", ""
	}
	return ref, ""
}

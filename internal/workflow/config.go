package workflow

import (
	"fmt"
	"strings"
)

type eventConfig struct {
	Branches       []string
	BranchesIgnore []string
	Tags           []string
	TagsIgnore     []string
}

// tagOnly reports whether the trigger filters tags but not branches, in
// which case GitHub never runs it for branch pushes.
func (c eventConfig) tagOnly() bool {
	hasTags := len(c.Tags) > 0 || len(c.TagsIgnore) > 0
	hasBranches := len(c.Branches) > 0 || len(c.BranchesIgnore) > 0
	return hasTags && !hasBranches
}

func parseEventConfig(raw interface{}) eventConfig {
	cfg := eventConfig{}
	if raw == nil {
		return cfg
	}

	if v, ok := raw.(map[string]interface{}); ok {
		for k, val := range v {
			switch strings.ToLower(k) {
			case "branches":
				cfg.Branches = asStringSlice(val)
			case "branches-ignore":
				cfg.BranchesIgnore = asStringSlice(val)
			case "tags":
				cfg.Tags = asStringSlice(val)
			case "tags-ignore":
				cfg.TagsIgnore = asStringSlice(val)
			}
		}
	}

	return cfg
}

func asStringSlice(value interface{}) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{strings.TrimSpace(v)}
	default:
		return []string{fmt.Sprint(v)}
	}
}

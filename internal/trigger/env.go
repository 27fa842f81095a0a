package trigger

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
)

// FromEnv builds an EventContext from the GitHub Actions runner variables.
// getenv is usually os.Getenv.
func FromEnv(getenv func(string) string) (EventContext, error) {
	name := strings.TrimSpace(getenv("GITHUB_EVENT_NAME"))
	if name == "" {
		return EventContext{}, errors.New("GITHUB_EVENT_NAME is not set")
	}

	ctx := EventContext{
		Name: name,
		Ref:  strings.TrimSpace(getenv("GITHUB_REF")),
		SHA:  strings.TrimSpace(getenv("GITHUB_SHA")),
	}

	payloadPath := strings.TrimSpace(getenv("GITHUB_EVENT_PATH"))
	if payloadPath != "" {
		if data, err := os.ReadFile(payloadPath); err == nil {
			populateContextFromPayload(&ctx, data)
		}
	}

	return ctx, nil
}

func populateContextFromPayload(ctx *EventContext, payload []byte) {
	if ctx.Name != EventPush {
		return
	}
	var push struct {
		Ref   string `json:"ref"`
		After string `json:"after"`
	}
	if err := json.Unmarshal(payload, &push); err != nil {
		return
	}
	if push.Ref != "" {
		ctx.Ref = push.Ref
	}
	if push.After != "" && strings.Trim(push.After, "0") != "" {
		ctx.SHA = push.After
	}
}

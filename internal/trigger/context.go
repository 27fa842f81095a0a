package trigger

// EventContext captures the repository event the pipeline is asked to react
// to.
type EventContext struct {
	// Name is the GitHub event name, e.g. "push" or "pull_request".
	Name string

	// Ref is the git ref associated with the event, e.g. "refs/heads/main".
	Ref string

	// SHA is the commit that fired the event.
	SHA string
}

// Branch returns the branch name carried by Ref, or "" when Ref names a tag
// or is empty.
func (c EventContext) Branch() string {
	branch, _ := splitRef(c.Ref)
	return branch
}

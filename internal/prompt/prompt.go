// Package prompt assembles the initial prompts delivered to coding and
// review instances. Builders validate their context and render markdown
// sections in a fixed order so prompts stay stable across runs.
package prompt

import "errors"

var (
	ErrNilContext          = errors.New("prompt context is nil")
	ErrMissingWorkdir      = errors.New("working directory is required")
	ErrMissingInstructions = errors.New("an issue or task instructions are required")
	ErrMissingTaskSummary  = errors.New("original task summary is required for review prompts")
)

// IssueInfo is the issue content rendered into a coding prompt's task
// section.
type IssueInfo struct {
	Number int
	Title  string
	Body   string
	URL    string
}

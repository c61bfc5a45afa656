// Package errors defines the typed, code-carrying errors shared by the
// coding and review workflows.
//
// A single base type, Error, carries a human message, a stable code, the
// owning module name, an optional details payload, and a creation
// timestamp. Module-scoped factory functions (Workflow, Git, Worktree,
// GitHub) fix the module field so call sites never construct errors ad
// hoc. User-facing rendering appends a remediation suggestion when one is
// known for the (module, code) pair; the lookup is a pure function, not
// subtype dispatch.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"
)

// Module names owning error codes. The module tags an error with the
// component that raised it and scopes the suggestion lookup.
const (
	ModuleWorkflow = "workflow"
	ModuleGit      = "git"
	ModuleWorktree = "worktree"
	ModuleGitHub   = "github"
	ModuleSession  = "session"
	ModuleStore    = "store"
)

// Error is the base error type for the engine. All orchestration failures
// that carry a classification are values of this type.
type Error struct {
	Message   string         // human-readable description
	Code      Code           // stable machine-readable code
	Module    string         // owning module name
	Details   map[string]any // optional structured payload
	Timestamp time.Time      // creation time
	cause     error          // wrapped underlying error, if any
	stack     []string       // frames captured at construction
}

// New constructs an Error for an explicit module. Prefer the module
// factories (Workflow, Git, Worktree, GitHub) at call sites.
func New(module string, code Code, message string, opts ...Option) *Error {
	e := &Error{
		Message:   message,
		Code:      code,
		Module:    module,
		Timestamp: time.Now(),
		stack:     captureStack(3),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Option configures an Error at construction time.
type Option func(*Error)

// WithDetails attaches a structured payload to the error.
func WithDetails(details map[string]any) Option {
	return func(e *Error) {
		e.Details = details
	}
}

// WithDetail attaches a single key-value pair to the error's details.
func WithDetail(key string, value any) Option {
	return func(e *Error) {
		if e.Details == nil {
			e.Details = make(map[string]any, 1)
		}
		e.Details[key] = value
	}
}

// WithCause records the underlying error. The cause participates in
// errors.Is/errors.As chains via Unwrap.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// Workflow constructs a workflow-module error.
func Workflow(code Code, message string, opts ...Option) *Error {
	return New(ModuleWorkflow, code, message, opts...)
}

// Git constructs a git-module error.
func Git(code Code, message string, opts ...Option) *Error {
	return New(ModuleGit, code, message, opts...)
}

// Worktree constructs a worktree-module error.
func Worktree(code Code, message string, opts ...Option) *Error {
	return New(ModuleWorktree, code, message, opts...)
}

// GitHub constructs a github-module error.
func GitHub(code Code, message string, opts ...Option) *Error {
	return New(ModuleGitHub, code, message, opts...)
}

// Session constructs a session-module error.
func Session(code Code, message string, opts ...Option) *Error {
	return New(ModuleSession, code, message, opts...)
}

// Store constructs a store-module error.
func Store(code Code, message string, opts ...Option) *Error {
	return New(ModuleStore, code, message, opts...)
}

// Error returns the raw message, including the cause when present.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target carries the same module and code. This lets
// errors.Is match against a bare code sentinel built with the factories.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Module == t.Module && e.Code == t.Code
}

// UserMessage returns the message with a code-specific remediation
// suggestion appended when one is known for this module and code.
func (e *Error) UserMessage() string {
	if suggestion, ok := Suggestion(e.Module, e.Code); ok {
		return fmt.Sprintf("%s. %s", e.Message, suggestion)
	}
	return e.Message
}

// Record is the serialized form of an Error.
type Record struct {
	Name      string         `json:"name"`
	Message   string         `json:"message"`
	Code      Code           `json:"code"`
	Module    string         `json:"module"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
	Stack     []string       `json:"stack,omitempty"`
}

// Record returns the structured representation of the error.
func (e *Error) Record() Record {
	return Record{
		Name:      recordName(e.Module),
		Message:   e.Error(),
		Code:      e.Code,
		Module:    e.Module,
		Timestamp: e.Timestamp,
		Details:   e.Details,
		Stack:     e.stack,
	}
}

// MarshalJSON serializes the error as its Record.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Record())
}

// recordName derives the serialized type name from the module tag.
func recordName(module string) string {
	switch module {
	case ModuleWorkflow:
		return "WorkflowError"
	case ModuleGit:
		return "GitError"
	case ModuleWorktree:
		return "WorktreeError"
	case ModuleGitHub:
		return "GitHubError"
	case ModuleSession:
		return "SessionError"
	case ModuleStore:
		return "StoreError"
	default:
		return "Error"
	}
}

// captureStack records a compact stack of caller frames, skipping the
// innermost skip frames.
func captureStack(skip int) []string {
	pcs := make([]uintptr, 8)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			stack = append(stack, fmt.Sprintf("%s %s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return stack
}

// CodeOf extracts the code from err, or the empty code when err does not
// carry one anywhere in its chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// As is a re-export of the standard errors.As for call-site convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is a re-export of the standard errors.Is for call-site convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

package config

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError is a single validation failure.
type ValidationError struct {
	Field   string // config field path, e.g. "workflow.max_reviews"
	Value   any    // the invalid value
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the accepted logging.level values.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateTmux()...)
	errors = append(errors, c.validateAssistant()...)
	errors = append(errors, c.validateWorkflow()...)
	errors = append(errors, c.validatePR()...)
	errors = append(errors, c.validateLogging()...)
	return errors
}

func (c *Config) validateTmux() []ValidationError {
	var errors []ValidationError
	if c.Tmux.Width < 0 {
		errors = append(errors, ValidationError{
			Field:   "tmux.width",
			Value:   c.Tmux.Width,
			Message: "must be non-negative (0 uses the default)",
		})
	}
	if c.Tmux.Height < 0 {
		errors = append(errors, ValidationError{
			Field:   "tmux.height",
			Value:   c.Tmux.Height,
			Message: "must be non-negative (0 uses the default)",
		})
	}
	if c.Tmux.HistoryLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "tmux.history_limit",
			Value:   c.Tmux.HistoryLimit,
			Message: "must be non-negative",
		})
	}
	return errors
}

func (c *Config) validateAssistant() []ValidationError {
	var errors []ValidationError
	if strings.TrimSpace(c.Assistant.Binary) == "" {
		errors = append(errors, ValidationError{
			Field:   "assistant.binary",
			Value:   c.Assistant.Binary,
			Message: "must not be empty",
		})
	}
	if c.Assistant.PIDTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "assistant.pid_timeout_seconds",
			Value:   c.Assistant.PIDTimeoutSeconds,
			Message: "must be non-negative",
		})
	}
	return errors
}

func (c *Config) validateWorkflow() []ValidationError {
	var errors []ValidationError
	if c.Workflow.MaxReviews < 1 {
		errors = append(errors, ValidationError{
			Field:   "workflow.max_reviews",
			Value:   c.Workflow.MaxReviews,
			Message: "must be at least 1",
		})
	}
	if c.Workflow.ReviewTimeoutMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "workflow.review_timeout_minutes",
			Value:   c.Workflow.ReviewTimeoutMinutes,
			Message: "must be at least 1",
		})
	}
	if c.Workflow.ExecutionTimeoutHours < 1 {
		errors = append(errors, ValidationError{
			Field:   "workflow.execution_timeout_hours",
			Value:   c.Workflow.ExecutionTimeoutHours,
			Message: "must be at least 1",
		})
	}
	return errors
}

func (c *Config) validatePR() []ValidationError {
	var errors []ValidationError
	for pattern := range c.PR.Reviewers.ByPath {
		if _, err := glob.Compile(pattern); err != nil {
			errors = append(errors, ValidationError{
				Field:   "pr.reviewers.by_path",
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}
	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError
	valid := false
	for _, level := range ValidLogLevels() {
		if c.Logging.Level == level {
			valid = true
			break
		}
	}
	if !valid {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 disables rotation)",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}
	return errors
}

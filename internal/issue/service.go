// Package issue fetches and closes GitHub issues through the gh CLI.
package issue

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/dispatchworks/dispatch/internal/errors"
	"github.com/dispatchworks/dispatch/internal/logging"
)

// DefaultBinary is the gh executable used when none is configured.
const DefaultBinary = "gh"

// Context is the issue content injected into instance prompts.
type Context struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
}

// Service resolves issues against the repository a directory belongs to.
type Service struct {
	logger *logging.Logger
	binary string
	dir    string
}

// NewService returns a Service running gh commands in dir. An empty binary
// falls back to DefaultBinary; a nil logger discards output.
func NewService(logger *logging.Logger, binary, dir string) *Service {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if binary == "" {
		binary = DefaultBinary
	}
	return &Service{logger: logger, binary: binary, dir: dir}
}

// Get fetches an issue so its title and body can seed a prompt.
func (s *Service) Get(ctx context.Context, number int) (*Context, error) {
	cmd := exec.CommandContext(ctx, s.binary, "issue", "view", strconv.Itoa(number),
		"--json", "number,title,body,url")
	cmd.Dir = s.dir
	output, err := cmd.Output()
	if err != nil {
		cause := err
		if exitErr, ok := err.(*exec.ExitError); ok {
			cause = fmt.Errorf("%w\n%s", err, string(exitErr.Stderr))
		}
		return nil, errors.GitHub(errors.CodeIssueFetchFailed,
			fmt.Sprintf("failed to fetch issue #%d", number),
			errors.WithCause(cause),
			errors.WithDetail("issue", number),
		)
	}

	var issue Context
	if err := json.Unmarshal(output, &issue); err != nil {
		return nil, errors.GitHub(errors.CodeIssueFetchFailed,
			fmt.Sprintf("failed to decode issue #%d", number),
			errors.WithCause(err),
		)
	}

	s.logger.Debug("fetched issue", "issue", issue.Number, "title", issue.Title)
	return &issue, nil
}

// Close closes a GitHub issue. Callers treat failures as non-fatal; the
// issue can always be closed by hand.
func (s *Service) Close(ctx context.Context, number int) error {
	cmd := exec.CommandContext(ctx, s.binary, "issue", "close", strconv.Itoa(number))
	cmd.Dir = s.dir
	if output, err := cmd.CombinedOutput(); err != nil {
		return errors.GitHub(errors.CodeIssueCloseFailed,
			fmt.Sprintf("failed to close issue #%d", number),
			errors.WithCause(fmt.Errorf("%w\n%s", err, string(output))),
			errors.WithDetail("issue", number),
		)
	}

	s.logger.Info("closed issue", "issue", number)
	return nil
}

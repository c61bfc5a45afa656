// Package pr creates GitHub pull requests through the gh CLI.
package pr

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/dispatchworks/dispatch/internal/errors"
)

// DefaultBinary is the gh executable used when none is configured.
const DefaultBinary = "gh"

// Options describes the pull request to open. Head is the branch with the
// changes; Base defaults to the repository default branch when empty.
type Options struct {
	Title     string
	Body      string
	Head      string
	Base      string
	Draft     bool
	Reviewers []string
	Labels    []string
}

// PullRequest is the created PR as reported by gh.
type PullRequest struct {
	URL    string
	Number int
}

// Client shells out to gh from a fixed repository directory.
type Client struct {
	binary string
	dir    string
}

// NewClient returns a Client running gh commands in dir. An empty binary
// falls back to DefaultBinary.
func NewClient(binary, dir string) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Client{binary: binary, dir: dir}
}

// Create opens a pull request and returns its URL and number.
func (c *Client) Create(ctx context.Context, opts Options) (*PullRequest, error) {
	if opts.Title == "" {
		return nil, errors.GitHub(errors.CodePRCreateFailed, "pull request title is required")
	}
	if opts.Head == "" {
		return nil, errors.GitHub(errors.CodePRCreateFailed, "pull request head branch is required")
	}

	args := []string{"pr", "create",
		"--title", opts.Title,
		"--body", opts.Body,
		"--head", opts.Head,
	}
	if opts.Base != "" {
		args = append(args, "--base", opts.Base)
	}
	if opts.Draft {
		args = append(args, "--draft")
	}
	for _, reviewer := range opts.Reviewers {
		args = append(args, "--reviewer", reviewer)
	}
	for _, label := range opts.Labels {
		args = append(args, "--label", label)
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = c.dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, errors.GitHub(errors.CodePRCreateFailed,
			fmt.Sprintf("failed to create pull request for branch %s", opts.Head),
			errors.WithCause(fmt.Errorf("%w\n%s", err, string(output))),
			errors.WithDetail("head", opts.Head),
		)
	}

	url := lastLine(string(output))
	number, err := ParseNumber(url)
	if err != nil {
		return nil, errors.GitHub(errors.CodePRCreateFailed,
			"gh did not report a pull request URL",
			errors.WithCause(err),
			errors.WithDetail("output", strings.TrimSpace(string(output))),
		)
	}
	return &PullRequest{URL: url, Number: number}, nil
}

var prURLPattern = regexp.MustCompile(`/pull/(\d+)$`)

// ParseNumber extracts the PR number from a GitHub pull request URL.
func ParseNumber(url string) (int, error) {
	m := prURLPattern.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return 0, fmt.Errorf("no pull request number in %q", url)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("parse pull request number from %q: %w", url, err)
	}
	return n, nil
}

// gh prints progress lines before the URL; the URL is always last.
func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

package pr

import (
	"bytes"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/gobwas/glob"
)

// BodyData is the information available to pull request body templates.
type BodyData struct {
	// Task is the prompt the instance was started with.
	Task string
	// Branch is the instance branch name.
	Branch string
	// ChangedFiles lists paths modified relative to the base branch.
	ChangedFiles []string
	// IssueNumber links the PR to an issue when non-zero.
	IssueNumber int
	// InstanceID identifies the instance that produced the changes.
	InstanceID string
}

// DefaultBodyTemplate is used when no custom template is configured.
const DefaultBodyTemplate = `## Summary

{{.Task}}
{{- if .ChangedFiles}}

## Changed Files

{{range .ChangedFiles}}- {{.}}
{{end}}
{{- end}}
{{- if .IssueNumber}}
Closes #{{.IssueNumber}}
{{- end}}`

// BuildBody renders a PR body template. An empty tmplStr selects
// DefaultBodyTemplate.
func BuildBody(tmplStr string, data BodyData) (string, error) {
	if tmplStr == "" {
		tmplStr = DefaultBodyTemplate
	}
	tmpl, err := template.New("pr-body").Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var issueRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:fixes|fix|closes|close|resolves|resolve)\s*#(\d+)`),
	regexp.MustCompile(`#(\d+)`),
}

// ExtractIssueNumber finds an issue reference in text. It recognizes
// "fixes #123" style clauses and bare "#123" references, returning 0
// when none is present.
func ExtractIssueNumber(text string) int {
	for _, re := range issueRefPatterns {
		if m := re.FindStringSubmatch(text); len(m) >= 2 {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			return n
		}
	}
	return 0
}

// ResolveReviewers merges the always-assigned reviewers with any whose
// path patterns (glob syntax) match a changed file. The result is sorted
// and deduplicated.
func ResolveReviewers(changedFiles, defaultReviewers []string, byPath map[string][]string) []string {
	reviewerSet := make(map[string]bool)

	for _, r := range defaultReviewers {
		reviewerSet[normalizeReviewer(r)] = true
	}

	for pattern, reviewers := range byPath {
		g, err := glob.Compile(pattern)
		if err != nil {
			continue
		}
		for _, file := range changedFiles {
			if g.Match(file) {
				for _, r := range reviewers {
					reviewerSet[normalizeReviewer(r)] = true
				}
				break
			}
		}
	}

	result := make([]string, 0, len(reviewerSet))
	for r := range reviewerSet {
		result = append(result, r)
	}
	sort.Strings(result)
	return result
}

// normalizeReviewer strips the @ prefix gh rejects in --reviewer values.
func normalizeReviewer(reviewer string) string {
	return strings.TrimPrefix(reviewer, "@")
}

// Package worktree provisions and removes the isolated git worktrees
// that instances work in.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dispatchworks/dispatch/internal/errors"
)

// Manager handles git worktree operations for one repository. Worktrees
// are created under baseDir, one directory per instance.
type Manager struct {
	repoDir string
	baseDir string
}

// Worktree describes a provisioned worktree.
type Worktree struct {
	Path   string
	Branch string
}

// FindGitRoot finds the root of the git repository by traversing up from
// startDir. It returns the directory containing .git (either a directory
// or a file for worktrees).
func FindGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			// .git can be a directory (normal repo) or a file (worktree)
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.Git(errors.CodeGitRepoNotFound,
				fmt.Sprintf("not a git repository (or any parent of %s)", startDir))
		}
		dir = parent
	}
}

// New creates a Manager rooted at the repository containing repoDir.
// Worktrees are placed under baseDir; an empty baseDir defaults to
// .dispatch/worktrees inside the repository root.
func New(repoDir, baseDir string) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, err
	}
	if baseDir == "" {
		baseDir = filepath.Join(gitRoot, ".dispatch", "worktrees")
	}
	return &Manager{repoDir: gitRoot, baseDir: baseDir}, nil
}

// RepoDir returns the repository root the manager operates on.
func (m *Manager) RepoDir() string {
	return m.repoDir
}

// PathFor returns the worktree directory for an instance id.
func (m *Manager) PathFor(instanceID string) string {
	return filepath.Join(m.baseDir, instanceID)
}

// Create provisions a worktree at path with a new branch starting from
// base. The parent directory is created as needed.
func (m *Manager) Create(path, branch, base string) (*Worktree, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Worktree(errors.CodeWorktreeCreateFailed,
			fmt.Sprintf("failed to create worktree parent directory for %s", path),
			errors.WithCause(err))
	}

	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	cmd := exec.Command("git", args...)
	cmd.Dir = m.repoDir

	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, errors.Worktree(errors.CodeWorktreeCreateFailed,
			fmt.Sprintf("failed to create worktree for branch %s", branch),
			errors.WithCause(fmt.Errorf("%w\n%s", err, string(output))),
			errors.WithDetail("path", path),
			errors.WithDetail("base", base))
	}
	return &Worktree{Path: path, Branch: branch}, nil
}

// Remove removes a worktree. When git refuses, the directory is removed
// manually and stale references are pruned.
func (m *Manager) Remove(path string) error {
	cmd := exec.Command("git", "worktree", "remove", "--force", path)
	cmd.Dir = m.repoDir

	if output, err := cmd.CombinedOutput(); err != nil {
		_ = os.RemoveAll(path)

		pruneCmd := exec.Command("git", "worktree", "prune")
		pruneCmd.Dir = m.repoDir
		_ = pruneCmd.Run()

		return errors.Worktree(errors.CodeWorktreeRemoveFailed,
			fmt.Sprintf("failed to remove worktree %s cleanly", path),
			errors.WithCause(fmt.Errorf("%w\n%s", err, string(output))))
	}
	return nil
}

// List returns the paths of all worktrees of the repository.
func (m *Manager) List() ([]string, error) {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = m.repoDir

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	var worktrees []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			worktrees = append(worktrees, strings.TrimPrefix(line, "worktree "))
		}
	}
	return worktrees, nil
}

// Branch returns the checked-out branch of a worktree.
func (m *Manager) Branch(path string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = path

	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// HasUncommittedChanges reports whether a worktree has uncommitted
// changes.
func (m *Manager) HasUncommittedChanges(path string) (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = path

	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("failed to check status: %w", err)
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// ChangedFiles returns the files the branch changed relative to base.
func (m *Manager) ChangedFiles(path, base string) ([]string, error) {
	cmd := exec.Command("git", "diff", "--name-only", base+"...HEAD")
	cmd.Dir = path

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get changed files: %w", err)
	}

	lines := strings.TrimSpace(string(output))
	if lines == "" {
		return []string{}, nil
	}
	return strings.Split(lines, "\n"), nil
}

// Push pushes the worktree's branch to origin, setting the upstream.
func (m *Manager) Push(path string, force bool) error {
	args := []string{"push", "-u", "origin", "HEAD"}
	if force {
		args = append(args, "--force-with-lease")
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = path

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to push: %w\n%s", err, string(output))
	}
	return nil
}

// DeleteBranch deletes a local branch left behind by a removed worktree.
func (m *Manager) DeleteBranch(branch string) error {
	cmd := exec.Command("git", "branch", "-D", branch)
	cmd.Dir = m.repoDir

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to delete branch: %w\n%s", err, string(output))
	}
	return nil
}

// DefaultBranch returns the repository's default branch (main or master).
func (m *Manager) DefaultBranch() string {
	cmd := exec.Command("git", "rev-parse", "--verify", "main")
	cmd.Dir = m.repoDir
	if err := cmd.Run(); err == nil {
		return "main"
	}
	return "master"
}

package activity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dispatchworks/dispatch/internal/instance"
	"github.com/dispatchworks/dispatch/internal/store"
)

func TestIgnoredPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"main.go", false},
		{".", false},
		{"cmd/dispatch/main.go", false},
		{".git/index.lock", true},
		{"internal/.cache/data", true},
		{"node_modules/left-pad/index.js", true},
		{".env", true},
		{"docs/readme.md", false},
	}
	for _, tt := range tests {
		if got := ignoredPath(tt.path); got != tt.want {
			t.Errorf("ignoredPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestResolveInstanceDeepestRootWins(t *testing.T) {
	m := &Monitor{worktrees: map[string]string{
		"work-a": "/tmp/worktrees",
		"work-b": "/tmp/worktrees/work-b",
	}}

	id, rel := m.resolveInstance("/tmp/worktrees/work-b/main.go")
	if id != "work-b" {
		t.Fatalf("id = %q, want work-b", id)
	}
	if rel != "main.go" {
		t.Fatalf("rel = %q, want main.go", rel)
	}

	id, rel = m.resolveInstance("/tmp/worktrees/other/file.go")
	if id != "work-a" {
		t.Fatalf("id = %q, want work-a", id)
	}
	if rel != filepath.Join("other", "file.go") {
		t.Fatalf("rel = %q", rel)
	}

	if id, _ := m.resolveInstance("/etc/passwd"); id != "" {
		t.Fatalf("unrelated path resolved to %q", id)
	}
}

func TestUnwatchDropsInstance(t *testing.T) {
	m, err := NewMonitor(nil, nil)
	require.NoError(t, err)
	defer m.Stop()

	dir := t.TempDir()
	require.NoError(t, m.Watch("work-a", dir))

	m.Unwatch("work-a")
	if id, _ := m.resolveInstance(filepath.Join(dir, "file.go")); id != "" {
		t.Fatalf("unwatched instance still resolves to %q", id)
	}
	m.Unwatch("work-a") // second call is a no-op
}

func TestMonitorRecordsActivity(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, s.CreateInstance(ctx, &instance.Instance{
		ID:           "work-123-1-abcd1234",
		Kind:         instance.KindCoding,
		Status:       instance.StatusStarted,
		CreatedAt:    stale,
		LastActivity: stale,
	}))

	worktree := t.TempDir()
	m, err := NewMonitor(s, nil)
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	require.NoError(t, m.Watch("work-123-1-abcd1234", worktree))
	m.Start()

	require.NoError(t, os.WriteFile(filepath.Join(worktree, "main.go"), []byte("package main\n"), 0o644))

	require.Eventually(t, func() bool {
		row, err := s.GetInstance(ctx, "work-123-1-abcd1234")
		if err != nil || row == nil {
			return false
		}
		return row.LastActivity.After(stale.Add(30 * time.Minute))
	}, 5*time.Second, 50*time.Millisecond, "last_activity should advance after a write")
}

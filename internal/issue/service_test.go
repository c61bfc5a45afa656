package issue

import (
	"context"
	"testing"

	"github.com/dispatchworks/dispatch/internal/errors"
)

func TestGetMissingBinary(t *testing.T) {
	s := NewService(nil, "definitely-not-a-real-gh-binary", t.TempDir())
	_, err := s.Get(context.Background(), 7)
	if err == nil {
		t.Fatal("expected error when gh binary is missing")
	}
	if !errors.HasCode(err, errors.CodeIssueFetchFailed) {
		t.Errorf("error code = %v, want %v", errors.CodeOf(err), errors.CodeIssueFetchFailed)
	}
}

func TestCloseMissingBinary(t *testing.T) {
	s := NewService(nil, "definitely-not-a-real-gh-binary", t.TempDir())
	err := s.Close(context.Background(), 7)
	if err == nil {
		t.Fatal("expected error when gh binary is missing")
	}
	if !errors.HasCode(err, errors.CodeIssueCloseFailed) {
		t.Errorf("error code = %v, want %v", errors.CodeOf(err), errors.CodeIssueCloseFailed)
	}
}

func TestNewServiceDefaults(t *testing.T) {
	s := NewService(nil, "", "/tmp/repo")
	if s.binary != DefaultBinary {
		t.Errorf("binary = %q, want %q", s.binary, DefaultBinary)
	}
	if s.logger == nil {
		t.Error("logger should default to a no-op logger")
	}
}

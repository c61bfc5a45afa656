package internal

import (
	"bytes"
	"go/format"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestGofmt verifies every Go source file under internal/ and cmd/ is
// gofmt-clean. Failures list the offending files; fix with
// gofmt -w ./internal/ ./cmd/
func TestGofmt(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	root := wd
	if filepath.Base(wd) == "internal" {
		root = filepath.Dir(wd)
	}

	var unformatted []string
	for _, dir := range []string{"internal", "cmd"} {
		err := filepath.WalkDir(filepath.Join(root, dir), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if strings.HasPrefix(d.Name(), ".") || strings.HasPrefix(d.Name(), "_") {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") {
				return nil
			}

			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			formatted, err := format.Source(content)
			if err != nil {
				// Unparsable files are the compiler's problem, not gofmt's.
				return nil
			}
			if !bytes.Equal(content, formatted) {
				rel, _ := filepath.Rel(root, path)
				unformatted = append(unformatted, rel)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("failed to walk %s: %v", dir, err)
		}
	}

	for _, f := range unformatted {
		t.Errorf("not gofmt-clean: %s", f)
	}
}

package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates log file", func(t *testing.T) {
		dir := t.TempDir()
		logPath := filepath.Join(dir, "test.log")

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer func() { _ = rw.Close() }()

		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Errorf("log file was not created at %s", logPath)
		}
	})

	t.Run("creates nested directories", func(t *testing.T) {
		dir := t.TempDir()
		logPath := filepath.Join(dir, "nested", "dir", "test.log")

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer func() { _ = rw.Close() }()

		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Errorf("log file was not created at %s", logPath)
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		dir := t.TempDir()
		logPath := filepath.Join(dir, "test.log")

		if err := os.WriteFile(logPath, []byte("initial content\n"), 0644); err != nil {
			t.Fatalf("failed to write initial content: %v", err)
		}

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}

		if _, err := rw.Write([]byte("appended content\n")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		_ = rw.Close()

		content, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}

		if !strings.Contains(string(content), "initial content") {
			t.Error("initial content was lost")
		}
		if !strings.Contains(string(content), "appended content") {
			t.Error("appended content was not written")
		}
	})
}

func TestRotatingWriterWrite(t *testing.T) {
	t.Run("writes data to file", func(t *testing.T) {
		dir := t.TempDir()
		logPath := filepath.Join(dir, "test.log")

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}

		data := []byte("test message\n")
		n, err := rw.Write(data)
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if n != len(data) {
			t.Errorf("expected to write %d bytes, wrote %d", len(data), n)
		}

		_ = rw.Close()

		content, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		if string(content) != string(data) {
			t.Errorf("expected %q, got %q", data, content)
		}
	})

	t.Run("tracks current size", func(t *testing.T) {
		dir := t.TempDir()
		logPath := filepath.Join(dir, "test.log")

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer func() { _ = rw.Close() }()

		if rw.CurrentSize() != 0 {
			t.Errorf("expected initial size 0, got %d", rw.CurrentSize())
		}

		data := []byte("test message\n")
		_, _ = rw.Write(data)

		if rw.CurrentSize() != int64(len(data)) {
			t.Errorf("expected size %d, got %d", len(data), rw.CurrentSize())
		}
	})
}

func TestRotatingWriterRotation(t *testing.T) {
	t.Run("rotates when size exceeds max", func(t *testing.T) {
		dir := t.TempDir()
		logPath := filepath.Join(dir, "test.log")

		rw, err := NewRotatingWriter(logPath, RotationConfig{MaxBackups: 3})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		// Megabyte thresholds are impractical here; set bytes directly.
		rw.maxBytes = 100

		for range 5 {
			_, _ = rw.Write([]byte("this is a test message that will trigger rotation\n"))
		}

		_ = rw.Close()

		if _, err := os.Stat(logPath + ".1"); os.IsNotExist(err) {
			t.Error("backup file .1 was not created")
		}
		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Error("current log file does not exist after rotation")
		}
	})

	t.Run("keeps only maxBackups files", func(t *testing.T) {
		dir := t.TempDir()
		logPath := filepath.Join(dir, "test.log")

		rw, err := NewRotatingWriter(logPath, RotationConfig{MaxBackups: 2})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		rw.maxBytes = 50

		for range 10 {
			_, _ = rw.Write([]byte("this message will trigger rotation\n"))
		}

		_ = rw.Close()

		if _, err := os.Stat(logPath + ".1"); os.IsNotExist(err) {
			t.Error("backup file .1 should exist")
		}
		if _, err := os.Stat(logPath + ".2"); os.IsNotExist(err) {
			t.Error("backup file .2 should exist")
		}
		if _, err := os.Stat(logPath + ".3"); err == nil {
			t.Error("backup file .3 should not exist")
		}
	})

	t.Run("no rotation when max size is 0", func(t *testing.T) {
		dir := t.TempDir()
		logPath := filepath.Join(dir, "test.log")

		rw, err := NewRotatingWriter(logPath, RotationConfig{MaxBackups: 3})
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}

		for range 100 {
			_, _ = rw.Write([]byte("test message that would trigger rotation if enabled\n"))
		}

		_ = rw.Close()

		if _, err := os.Stat(logPath + ".1"); err == nil {
			t.Error("backup file should not exist when rotation is disabled")
		}
	})
}

func TestRotatingWriterCompression(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")

	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxBackups: 3, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	rw.maxBytes = 50

	// Two writes: the first fits, the second triggers one rotation.
	for range 2 {
		_, _ = rw.Write([]byte("test message for compression test\n"))
	}

	_ = rw.Close()

	// Compression runs on its own goroutine.
	time.Sleep(200 * time.Millisecond)

	gzPath := logPath + ".1.gz"
	if _, err := os.Stat(gzPath); os.IsNotExist(err) {
		if _, err := os.Stat(logPath + ".1"); os.IsNotExist(err) {
			t.Error("neither compressed nor uncompressed backup file exists")
		}
		return
	}

	gzFile, err := os.Open(gzPath)
	if err != nil {
		t.Fatalf("failed to open gzip file: %v", err)
	}
	defer func() { _ = gzFile.Close() }()

	gzReader, err := gzip.NewReader(gzFile)
	if err != nil {
		t.Fatalf("failed to create gzip reader: %v", err)
	}
	defer func() { _ = gzReader.Close() }()

	content, err := io.ReadAll(gzReader)
	if err != nil {
		t.Fatalf("failed to read gzip content: %v", err)
	}
	if len(content) == 0 {
		t.Error("decompressed content is empty")
	}
}

func TestRotatingWriterConcurrency(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")

	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxBackups: 100})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	// Large enough that rotations stay infrequent under contention.
	rw.maxBytes = 2000

	var wg sync.WaitGroup
	goroutines := 10
	writesPerGoroutine := 50

	for i := range goroutines {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range writesPerGoroutine {
				if _, err := rw.Write([]byte("concurrent write from goroutine\n")); err != nil {
					t.Errorf("goroutine %d write %d failed: %v", id, j, err)
				}
			}
		}(i)
	}

	wg.Wait()
	_ = rw.Close()

	// Every line must land somewhere: the live file or a backup.
	totalLines := 0
	if content, err := os.ReadFile(logPath); err == nil {
		totalLines += strings.Count(string(content), "\n")
	}
	for i := 1; i <= 100; i++ {
		if content, err := os.ReadFile(fmt.Sprintf("%s.%d", logPath, i)); err == nil {
			totalLines += strings.Count(string(content), "\n")
		}
	}

	expectedLines := goroutines * writesPerGoroutine
	if totalLines < expectedLines {
		t.Errorf("expected at least %d lines, got %d", expectedLines, totalLines)
	}
}

func TestRotatingWriterClose(t *testing.T) {
	t.Run("close syncs and closes file", func(t *testing.T) {
		dir := t.TempDir()

		rw, err := NewRotatingWriter(filepath.Join(dir, "test.log"), DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}

		_, _ = rw.Write([]byte("test message\n"))

		if err := rw.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if err := rw.Close(); err != nil {
			t.Errorf("second Close failed: %v", err)
		}
	})

	t.Run("write after close fails", func(t *testing.T) {
		dir := t.TempDir()

		rw, err := NewRotatingWriter(filepath.Join(dir, "test.log"), DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}

		_ = rw.Close()

		if _, err := rw.Write([]byte("test message\n")); err == nil {
			t.Error("expected write after close to fail")
		}
	})
}

func TestDefaultRotationConfig(t *testing.T) {
	config := DefaultRotationConfig()

	if config.MaxSizeMB != 10 {
		t.Errorf("expected MaxSizeMB=10, got %d", config.MaxSizeMB)
	}
	if config.MaxBackups != 3 {
		t.Errorf("expected MaxBackups=3, got %d", config.MaxBackups)
	}
	if config.Compress {
		t.Error("expected Compress=false")
	}
}

func TestRotatingWriterAccessors(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "test.log")

	rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()

	if rw.FilePath() != logPath {
		t.Errorf("expected FilePath=%s, got %s", logPath, rw.FilePath())
	}

	_, _ = rw.Write([]byte("test message\n"))

	if err := rw.Sync(); err != nil {
		t.Errorf("Sync failed: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "test message") {
		t.Error("content was not synced to disk")
	}
}

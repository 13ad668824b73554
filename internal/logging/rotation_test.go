package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates nested directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "test.log")

		rw, err := NewRotatingWriter(path, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer func() { _ = rw.Close() }()

		if _, err := os.Stat(path); err != nil {
			t.Errorf("log file was not created: %v", err)
		}
		if rw.path != path {
			t.Errorf("path = %q, want %q", rw.path, path)
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.log")
		if err := os.WriteFile(path, []byte("initial\n"), 0644); err != nil {
			t.Fatal(err)
		}

		rw, err := NewRotatingWriter(path, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer func() { _ = rw.Close() }()

		rw.mu.Lock()
		got := rw.size
		rw.mu.Unlock()
		if got != int64(len("initial\n")) {
			t.Errorf("size = %d, want %d", got, len("initial\n"))
		}
	})
}

// smallWriter returns a writer rotating after roughly 1KiB. MaxSizeMB is
// integral, so tests shrink the limit directly.
func smallWriter(t *testing.T, cfg RotationConfig) (*RotatingWriter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	rw, err := NewRotatingWriter(path, cfg)
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	rw.maxBytes = 1024
	return rw, path
}

func TestRotatingWriter_Rotates(t *testing.T) {
	rw, path := smallWriter(t, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})

	line := []byte(strings.Repeat("x", 600) + "\n")
	for i := 0; i < 5; i++ {
		if _, err := rw.Write(line); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, p := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Errorf("expected %s.3 to be pruned", path)
	}
}

func TestRotatingWriter_NoBackups(t *testing.T) {
	rw, path := smallWriter(t, RotationConfig{MaxSizeMB: 1, MaxBackups: 0})

	line := []byte(strings.Repeat("y", 700) + "\n")
	for i := 0; i < 3; i++ {
		if _, err := rw.Write(line); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	_ = rw.Close()

	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("no backups should be kept")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(len(line)) {
		t.Errorf("size = %d, want %d", info.Size(), len(line))
	}
}

func TestRotatingWriter_Compress(t *testing.T) {
	rw, path := smallWriter(t, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})

	first := strings.Repeat("a", 900) + "\n"
	if _, err := rw.Write([]byte(first)); err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Write([]byte(strings.Repeat("b", 900) + "\n")); err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed after compression")
	}

	f, err := os.Open(path + ".1.gz")
	if err != nil {
		t.Fatalf("expected compressed backup: %v", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader failed: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != first {
		t.Errorf("decompressed backup mismatch: got %d bytes", len(data))
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, _ := smallWriter(t, DefaultRotationConfig())
	_ = rw.Close()

	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("expected error writing to closed writer")
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if err := rw.Sync(); err != nil {
		t.Errorf("Sync() after close = %v", err)
	}
}

func TestRotatingWriter_Concurrent(t *testing.T) {
	rw, _ := smallWriter(t, RotationConfig{MaxSizeMB: 1, MaxBackups: 3})
	defer func() { _ = rw.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := rw.Write([]byte("concurrent line\n")); err != nil {
					t.Errorf("Write failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRotatingWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "x.log")

	rw, err := NewRotatingWriter(path, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	if rw.FilePath() != path {
		t.Errorf("FilePath() = %q, want %q", rw.FilePath(), path)
	}
	if rw.CurrentSize() != 0 {
		t.Errorf("CurrentSize() = %d, want 0", rw.CurrentSize())
	}
}

func TestRotatingWriterAppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	if err := os.WriteFile(path, []byte("previous\n"), 0644); err != nil {
		t.Fatal(err)
	}

	rw, err := NewRotatingWriter(path, RotationConfig{})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	if rw.CurrentSize() != int64(len("previous\n")) {
		t.Errorf("CurrentSize() = %d, want existing size", rw.CurrentSize())
	}
	if _, err := rw.Write([]byte("next\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	rw.Close()

	data, _ := os.ReadFile(path)
	if string(data) != "previous\nnext\n" {
		t.Errorf("content = %q", data)
	}
}

func TestRotatingWriterRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	chunk := bytes.Repeat([]byte("a"), 600*1024)
	for i := 0; i < 4; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	for _, name := range []string{"x.log", "x.log.1", "x.log.2"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "x.log.3")); !os.IsNotExist(err) {
		t.Error("x.log.3 should not exist with MaxBackups=2")
	}
}

func TestRotatingWriterNoBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 0})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	chunk := bytes.Repeat([]byte("b"), 700*1024)
	rw.Write(chunk)
	rw.Write(chunk)

	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("no backup expected when MaxBackups=0")
	}
	if rw.CurrentSize() != int64(len(chunk)) {
		t.Errorf("CurrentSize() = %d, want %d", rw.CurrentSize(), len(chunk))
	}
}

func TestRotatingWriterCompression(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.log")

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer rw.Close()

	chunk := bytes.Repeat([]byte("c"), 700*1024)
	rw.Write(chunk)
	rw.Write(chunk)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path + ".1.gz"); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("compressed backup was not created")
}

func TestRotatingWriterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "x.log"), RotationConfig{})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	if err := rw.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	if _, err := rw.Write([]byte("x")); err == nil {
		t.Error("Write after Close should fail")
	}
	if err := rw.Sync(); err != nil {
		t.Errorf("Sync after Close = %v, want nil", err)
	}
}

func TestNewLoggerWithRotation(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLoggerWithRotation(dir, LevelDebug, RotationConfig{MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewLoggerWithRotation failed: %v", err)
	}
	logger.Info("hello", "n", 1)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !bytes.Contains(data, []byte(`"msg":"hello"`)) {
		t.Errorf("log content = %s", data)
	}
}

func TestDefaultRotationConfig(t *testing.T) {
	cfg := DefaultRotationConfig()
	if cfg.MaxSizeMB != 10 || cfg.MaxBackups != 3 || cfg.Compress {
		t.Errorf("DefaultRotationConfig() = %+v", cfg)
	}
}

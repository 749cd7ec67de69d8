package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteReadRemovePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "wallboard.pid")

	if err := WritePID(path, 4242); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	pid, err := ReadPID(path)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != 4242 {
		t.Errorf("pid = %d, want 4242", pid)
	}

	if err := RemovePID(path); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if _, err := ReadPID(path); err != ErrNoPIDFile {
		t.Errorf("ReadPID after remove: err = %v, want ErrNoPIDFile", err)
	}
	if err := RemovePID(path); err != nil {
		t.Errorf("RemovePID on missing file: %v", err)
	}
}

func TestWritePID_EmptyPath(t *testing.T) {
	if err := WritePID("", 1); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestReadPID_Corrupt(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"text", "not-a-pid\n"},
		{"zero", "0\n"},
		{"negative", "-5"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "wb.pid")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := ReadPID(path)
			if err == nil || !strings.Contains(err.Error(), "corrupt") {
				t.Errorf("expected corrupt error, got %v", err)
			}
		})
	}
}

func TestIsRunning(t *testing.T) {
	if !IsRunning(os.Getpid()) {
		t.Error("current process should be running")
	}
	if IsRunning(0) || IsRunning(-1) {
		t.Error("non-positive pids are never running")
	}
}

func TestRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wb.pid")
	if _, ok := Running(path); ok {
		t.Error("missing pid file should not report running")
	}
	if err := WritePID(path, os.Getpid()); err != nil {
		t.Fatal(err)
	}
	pid, ok := Running(path)
	if !ok || pid != os.Getpid() {
		t.Errorf("Running = (%d, %v), want (%d, true)", pid, ok, os.Getpid())
	}
}

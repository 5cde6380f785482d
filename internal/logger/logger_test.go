package logger

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatorRotatesAndKeepsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fund.log")
	r := &Rotator{Filename: path, MaxSize: 10, MaxBackups: 2}
	defer r.Close()

	for _, line := range []string{"first-line\n", "second-line\n", "third-line\n", "fourth-line\n"} {
		if _, err := r.Write([]byte(line)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	live, _ := os.ReadFile(path)
	if string(live) != "fourth-line\n" {
		t.Errorf("live file = %q", live)
	}
	b1, _ := os.ReadFile(path + ".1")
	if string(b1) != "third-line\n" {
		t.Errorf("backup 1 = %q", b1)
	}
	b2, _ := os.ReadFile(path + ".2")
	if string(b2) != "second-line\n" {
		t.Errorf("backup 2 = %q", b2)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("expected at most 2 backups")
	}
}

func TestRotatorAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fund.log")
	os.WriteFile(path, []byte("old\n"), 0o644)

	r := &Rotator{Filename: path, MaxSize: 1024, MaxBackups: 1}
	r.Write([]byte("new\n"))
	r.Close()

	got, _ := os.ReadFile(path)
	if string(got) != "old\nnew\n" {
		t.Errorf("file = %q", got)
	}
}

func TestDebugf(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	SetLevel("INFO")
	Debugf("hidden %d", 1)
	SetLevel("debug")
	Debugf("shown %d", 2)
	SetLevel("INFO")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("DEBUG line logged at INFO level")
	}
	if !strings.Contains(out, "DEBUG: shown 2") {
		t.Errorf("missing DEBUG line in %q", out)
	}
}

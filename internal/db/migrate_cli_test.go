package db

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	run := func(stdin string, args ...string) (string, error) {
		var out bytes.Buffer
		err := RunMigrateCommand(args, dbPath, strings.NewReader(stdin), &out)
		return out.String(), err
	}

	out, err := run("", "up")
	if err != nil {
		t.Fatalf("migrate up failed: %v", err)
	}
	if !strings.Contains(out, "Current version: 2") {
		t.Errorf("unexpected up output: %s", out)
	}

	out, err = run("", "status")
	if err != nil {
		t.Fatalf("migrate status failed: %v", err)
	}
	if !strings.Contains(out, "Pending: 0") || !strings.Contains(out, "Dirty: false") {
		t.Errorf("unexpected status output: %s", out)
	}

	if _, err := run("", "down"); err != nil {
		t.Fatalf("migrate down failed: %v", err)
	}
	out, _ = run("", "status")
	if !strings.Contains(out, "Current version: 1") {
		t.Errorf("expected version 1 after down: %s", out)
	}

	if _, err := run("", "version", "2"); err != nil {
		t.Fatalf("migrate version failed: %v", err)
	}

	out, err = run("n\n", "force", "1")
	if err != nil {
		t.Fatalf("migrate force failed: %v", err)
	}
	if !strings.Contains(out, "Aborted") {
		t.Errorf("expected abort without confirmation: %s", out)
	}

	if _, err := run("y\n", "force", "1"); err != nil {
		t.Fatalf("migrate force failed: %v", err)
	}
	out, _ = run("", "status")
	if !strings.Contains(out, "Current version: 1") {
		t.Errorf("expected forced version 1: %s", out)
	}
}

func TestRunMigrateCommand_Usage(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	if err := RunMigrateCommand(nil, dbPath, strings.NewReader(""), &out); !errors.Is(err, ErrMigrateUsage) {
		t.Errorf("expected usage error with no args, got %v", err)
	}
	if err := RunMigrateCommand([]string{"sideways"}, dbPath, strings.NewReader(""), &out); !errors.Is(err, ErrMigrateUsage) {
		t.Errorf("expected usage error for unknown action, got %v", err)
	}
	if err := RunMigrateCommand([]string{"version"}, dbPath, strings.NewReader(""), &out); !errors.Is(err, ErrMigrateUsage) {
		t.Errorf("expected usage error for missing version, got %v", err)
	}
	if err := RunMigrateCommand([]string{"version", "abc"}, dbPath, strings.NewReader(""), &out); err == nil {
		t.Error("expected error for invalid version number")
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"help"}, dbPath, strings.NewReader(""), &out); err != nil {
		t.Errorf("help failed: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: crossing migrate") {
		t.Errorf("unexpected help output: %s", out.String())
	}
}

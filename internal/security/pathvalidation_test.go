package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "recordings"), 0755); err != nil {
		t.Fatal(err)
	}
	outside := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(base, "a.ndjson"), false},
		{"nested file", filepath.Join(base, "recordings", "cam-1.ndjson"), false},
		{"not yet created nested", filepath.Join(base, "new", "x.pcap"), false},
		{"dot dot escape", filepath.Join(base, "..", "etc", "passwd"), true},
		{"other dir", filepath.Join(outside, "a.ndjson"), true},
		{"the dir itself", base, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, base)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePathWithinDirectory_Symlink(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(base, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := ValidatePathWithinDirectory(filepath.Join(link, "secret.ndjson"), base); err == nil {
		t.Error("expected symlinked parent to be rejected")
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()

	if err := ValidatePathWithinAllowedDirs(filepath.Join(b, "f"), []string{a, b}); err != nil {
		t.Errorf("path in second dir rejected: %v", err)
	}
	if err := ValidatePathWithinAllowedDirs(filepath.Join(b, "f"), []string{a}); err == nil {
		t.Error("path outside every dir accepted")
	}
	if err := ValidatePathWithinAllowedDirs("x", nil); err == nil {
		t.Error("empty allow list accepted")
	}
}

func TestValidateBackupDir(t *testing.T) {
	if err := ValidateBackupDir(os.TempDir()); err != nil {
		t.Errorf("temp dir rejected: %v", err)
	}
	if err := ValidateBackupDir("/proc/self"); err == nil {
		t.Error("/proc/self accepted")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"cam-1":            "cam-1",
		"north gate/cam 2": "north_gate_cam_2",
		"../../etc":        "etc",
		"":                 "unknown",
		"***":              "unknown",
		"a__b":             "a__b",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

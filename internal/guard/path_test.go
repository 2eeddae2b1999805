package guard

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestSafePathInsideWorkspace(t *testing.T) {
	root := t.TempDir()
	jail := NewPathJail(root)

	tests := []struct {
		in string
	}{
		{"notes.txt"},
		{"sub/dir/file.md"},
		{"./relative.txt"},
		{filepath.Join(root, "abs.txt")},
		{"."},
	}
	for _, tc := range tests {
		got, err := jail.SafePath(tc.in)
		if err != nil {
			t.Errorf("SafePath(%q) returned error: %v", tc.in, err)
			continue
		}
		if got != jail.Root() && !strings.HasPrefix(got, jail.Root()+string(filepath.Separator)) {
			t.Errorf("SafePath(%q) = %q escapes workspace %q", tc.in, got, jail.Root())
		}
	}
}

func TestSafePathEscapes(t *testing.T) {
	root := t.TempDir()
	jail := NewPathJail(root)

	tests := []struct {
		in string
	}{
		{"../outside.txt"},
		{"../../etc/passwd"},
		{"/etc/passwd"},
		{"sub/../../escape"},
		{"ok/../../../also-escape"},
	}
	for _, tc := range tests {
		if _, err := jail.SafePath(tc.in); err == nil {
			t.Errorf("SafePath(%q) should have been rejected", tc.in)
		}
	}
}

func TestSafePathRejectsNUL(t *testing.T) {
	jail := NewPathJail(t.TempDir())
	if _, err := jail.SafePath("file\x00.txt"); err == nil {
		t.Fatal("path with NUL byte should be rejected")
	}
}

func TestSafePathErrorKind(t *testing.T) {
	jail := NewPathJail(t.TempDir())
	_, err := jail.SafePath("../escape")
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*SecurityError); !ok {
		t.Fatalf("expected *SecurityError, got %T", err)
	}
}

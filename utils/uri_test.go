package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPathToFileURI(t *testing.T) {
	tmp := t.TempDir()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "absolute path",
			input:    filepath.Join(tmp, "src", "lib.rs"),
			expected: "file://" + filepath.ToSlash(filepath.Join(tmp, "src", "lib.rs")),
		},
		{
			name:     "path with spaces is escaped",
			input:    filepath.Join(tmp, "my crate", "main.rs"),
			expected: "file://" + filepath.ToSlash(tmp) + "/my%20crate/main.rs",
		},
		{
			name:     "dot segments are cleaned",
			input:    filepath.Join(tmp, "src", "..", "Cargo.toml"),
			expected: "file://" + filepath.ToSlash(filepath.Join(tmp, "Cargo.toml")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PathToFileURI(tt.input)
			if err != nil {
				t.Fatalf("PathToFileURI(%q) error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("PathToFileURI(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}

	if _, err := PathToFileURI("  "); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestURIToFilePath(t *testing.T) {
	tmp := t.TempDir()
	absFile := filepath.Join(tmp, "lib.rs")
	absURI, err := PathToFileURI(absFile)
	if err != nil {
		t.Fatalf("PathToFileURI failed: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "file URI", input: absURI, expected: absFile},
		{name: "already a file path", input: absFile, expected: absFile},
		{name: "http URI unchanged", input: "https://example.com/file", expected: "https://example.com/file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := URIToFilePath(tt.input); got != tt.expected {
				t.Errorf("URIToFilePath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestResolveWorkspacePath(t *testing.T) {
	root := "/work/crate"
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"relative", "src/main.rs", "/work/crate/src/main.rs"},
		{"dot relative", "./src/../src/lib.rs", "/work/crate/src/lib.rs"},
		{"absolute kept", "/other/file.rs", "/other/file.rs"},
		{"escape is resolved, not rejected", "../outside.rs", "/work/outside.rs"},
		{"file uri", "file:///work/crate/build.rs", "/work/crate/build.rs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filepath.ToSlash(ResolveWorkspacePath(root, tt.input))
			if got != tt.want {
				t.Errorf("ResolveWorkspacePath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDisplayPath(t *testing.T) {
	root := filepath.FromSlash("/work/crate")
	if got := DisplayPath(root, "file:///work/crate/src/lib.rs"); got != "src/lib.rs" {
		t.Errorf("DisplayPath inside root = %q", got)
	}
	if got := DisplayPath(root, "file:///home/u/.cargo/registry/x.rs"); got != filepath.FromSlash("/home/u/.cargo/registry/x.rs") {
		t.Errorf("DisplayPath outside root = %q", got)
	}
}

func TestFileURIToPath_WithSpaces(t *testing.T) {
	tmp := t.TempDir()
	p := filepath.Join(tmp, "dir with space", "main.rs")
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	u, err := PathToFileURI(p)
	if err != nil {
		t.Fatalf("PathToFileURI failed: %v", err)
	}
	got, err := FileURIToPath(u)
	if err != nil {
		t.Fatalf("FileURIToPath failed: %v", err)
	}
	if filepath.Clean(got) != filepath.Clean(p) {
		t.Fatalf("FileURIToPath(%q) = %q, want %q", u, got, p)
	}

	if _, err := FileURIToPath("https://example.com/x"); err == nil {
		t.Error("expected error for non-file scheme")
	}
}

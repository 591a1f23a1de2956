package utils

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// PathToFileURI converts a local OS path into an absolute file:// URI,
// percent-encoding characters that need it.
func PathToFileURI(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	slashPath := filepath.ToSlash(abs)
	// Windows drive-letter paths need a leading "/" in the URI path.
	if len(slashPath) >= 2 && slashPath[1] == ':' {
		slashPath = "/" + slashPath
	}
	u := url.URL{Scheme: "file", Path: slashPath}
	return u.String(), nil
}

// FileURIToPath converts a file:// URI into a local OS path (decoding % escapes).
func FileURIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("not a file uri: %s", u.Scheme)
	}
	p := u.Path
	if u.Host != "" {
		p = "//" + u.Host + p
	}
	if strings.HasPrefix(p, "/") && len(p) >= 3 && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p), nil
}

// URIToFilePath converts a file URI to a local path. Anything else is
// returned unchanged.
func URIToFilePath(uri string) string {
	uri = strings.TrimSpace(uri)
	if strings.HasPrefix(uri, "file:") {
		if p, err := FileURIToPath(uri); err == nil {
			return p
		}
		return strings.TrimPrefix(strings.TrimPrefix(uri, "file://"), "file:")
	}
	return uri
}

// ResolveWorkspacePath turns a workspace-relative (or absolute) path into a
// cleaned absolute path. It does not check containment.
func ResolveWorkspacePath(root, p string) string {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, "file:") {
		p = URIToFilePath(p)
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(root, p))
}

// DisplayPath renders a URI or path relative to root when it lies inside it.
func DisplayPath(root, uriOrPath string) string {
	p := URIToFilePath(uriOrPath)
	if root == "" {
		return p
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	return filepath.ToSlash(rel)
}

package utils

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// PathMapper translates between the bridge's view of the workspace and the
// language server's, for servers reached over TCP or WebSocket that mount
// the project at a different root (typically a container). A nil or
// disabled mapper is the identity.
type PathMapper struct {
	localRoot  string // cleaned, OS separators
	remoteRoot string // cleaned, forward slashes
	enabled    bool
}

// NewPathMapper maps localRoot on this host to remoteRoot on the server.
func NewPathMapper(localRoot, remoteRoot string) (*PathMapper, error) {
	if localRoot == "" {
		return nil, errors.New("local root path cannot be empty")
	}
	if remoteRoot == "" {
		return nil, errors.New("remote root path cannot be empty")
	}
	if !strings.HasPrefix(remoteRoot, "/") {
		return nil, errors.New("remote root must be an absolute path starting with /")
	}
	abs, err := filepath.Abs(localRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve local root: %w", err)
	}
	return &PathMapper{
		localRoot:  filepath.Clean(abs),
		remoteRoot: path.Clean(remoteRoot),
		enabled:    true,
	}, nil
}

// IsEnabled returns true if paths are rewritten.
func (m *PathMapper) IsEnabled() bool { return m != nil && m.enabled }

// ToRemotePath converts a local absolute path to the server's path.
func (m *PathMapper) ToRemotePath(local string) (string, error) {
	if !m.IsEnabled() {
		return local, nil
	}
	rel, err := filepath.Rel(m.localRoot, filepath.Clean(local))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside mapped root %s", local, m.localRoot)
	}
	if rel == "." {
		return m.remoteRoot, nil
	}
	return path.Join(m.remoteRoot, filepath.ToSlash(rel)), nil
}

// ToLocalPath converts a server path back to a local path. Paths outside the
// remote root are returned unchanged.
func (m *PathMapper) ToLocalPath(remote string) string {
	if !m.IsEnabled() {
		return remote
	}
	clean := path.Clean(filepath.ToSlash(remote))
	if clean != m.remoteRoot && !strings.HasPrefix(clean, m.remoteRoot+"/") {
		return remote
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(clean, m.remoteRoot), "/")
	if rel == "" {
		return m.localRoot
	}
	return filepath.Join(m.localRoot, filepath.FromSlash(rel))
}

// ToRemoteURI converts a local path to the file URI the server expects.
func (m *PathMapper) ToRemoteURI(local string) (string, error) {
	remote, err := m.ToRemotePath(local)
	if err != nil {
		return "", err
	}
	return PathToFileURI(filepath.FromSlash(remote))
}

// ToLocalURI rewrites a server file URI into a local one. Non-file URIs and
// URIs outside the remote root are returned unchanged.
func (m *PathMapper) ToLocalURI(uri string) string {
	if !m.IsEnabled() || !strings.HasPrefix(uri, "file:") {
		return uri
	}
	remote, err := FileURIToPath(uri)
	if err != nil {
		return uri
	}
	local := m.ToLocalPath(filepath.ToSlash(remote))
	if local == filepath.ToSlash(remote) {
		return uri
	}
	out, err := PathToFileURI(local)
	if err != nil {
		return uri
	}
	return out
}

// Package sync mirrors the local project tree to the brick, transferring
// only changed files, atomically per file.
package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	gosync "sync"
)

// Entry is the comparison key recorded for one transferred file
type Entry struct {
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtime_ns"`
	Hash    string `json:"sha256"`
	Mode    uint32 `json:"mode"`
}

// Manifest records the state of previously transferred files so unchanged
// ones are skipped on re-deploy. A file is re-transferred only if its
// comparison key differs, or if no manifest exists.
type Manifest struct {
	mu    gosync.RWMutex
	Files map[string]Entry `json:"files"`
}

// NewManifest creates an empty manifest; every file is considered changed
func NewManifest() *Manifest {
	return &Manifest{Files: make(map[string]Entry)}
}

// ManifestPath returns the manifest location for a project
func ManifestPath(projectDir string) string {
	return filepath.Join(projectDir, ".brickctl", "manifest.json")
}

// LoadManifest reads a project's manifest; a missing file yields an empty
// manifest so the first deploy transfers everything
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Files == nil {
		m.Files = make(map[string]Entry)
	}
	return &m, nil
}

// Save writes the manifest; racing invocations are last-writer-wins
func (m *Manifest) Save(path string) error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Lookup returns the recorded entry for a relative path
func (m *Manifest) Lookup(rel string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.Files[rel]
	return e, ok
}

// Set records a successfully transferred file
func (m *Manifest) Set(rel string, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[rel] = e
}

// Len returns the number of recorded files
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Files)
}

// HashFile computes the hex SHA-256 content hash of a local file
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

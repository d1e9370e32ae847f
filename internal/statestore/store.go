// File: internal/statestore/store.go
// Persisted browser storage snapshot. The snapshot is opaque to the rest of
// the pipeline: it is loaded before any navigation if present, and always
// overwritten whole (never merged) at the post-verification checkpoint.
// Deleting a snapshot is an operator action; this package never removes one.
package statestore

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Cookie mirrors the browser cookie fields we round-trip through CDP.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// OriginState holds the site-local storage captured for a single origin.
type OriginState struct {
	Origin       string            `json:"origin"`
	LocalStorage map[string]string `json:"localStorage,omitempty"`
}

// Snapshot is the serialized browser storage state.
type Snapshot struct {
	Cookies []Cookie      `json:"cookies"`
	Origins []OriginState `json:"origins,omitempty"`
}

// Store reads and writes snapshots at a fixed on-disk location.
type Store struct {
	path string
}

// New returns a store rooted at path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot location.
func (s *Store) Path() string {
	return s.path
}

// EnsureDir creates the snapshot's parent directory. Safe to call repeatedly.
func (s *Store) EnsureDir() error {
	dir := filepath.Dir(s.path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory %s: %w", dir, err)
	}
	return nil
}

// Load reads the snapshot if one exists. The second return value reports
// presence; an absent snapshot is a normal first-run condition, not an error.
func (s *Store) Load() (*Snapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading state file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("decoding state file: %w", err)
	}
	return &snap, true, nil
}

// Save overwrites the snapshot atomically (temp file + rename).
func (s *Store) Save(snap *Snapshot) error {
	if err := s.EnsureDir(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing state snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing state snapshot: %w", err)
	}
	return nil
}

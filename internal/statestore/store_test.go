// File: internal/statestore/store_test.go
package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Cookies: []Cookie{
			{Name: "sid", Value: "abc", Domain: ".example.com", Path: "/", Secure: true, HTTPOnly: true},
			{Name: "pref", Value: "1", Domain: "www.example.com", Path: "/"},
		},
		Origins: []OriginState{
			{Origin: "https://www.example.com", LocalStorage: map[string]string{"k": "v"}},
		},
	}
}

func TestLoadAbsentSnapshot(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "state", "snap.json"))

	snap, found, err := s.Load()
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, snap)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "snap.json")
	s := New(path)

	require.NoError(t, s.Save(sampleSnapshot()))

	loaded, found, err := s.Load()
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, loaded.Cookies, 2)
	assert.Equal(t, "sid", loaded.Cookies[0].Name)
	assert.True(t, loaded.Cookies[0].HTTPOnly)
	require.Len(t, loaded.Origins, 1)
	assert.Equal(t, "v", loaded.Origins[0].LocalStorage["k"])
}

func TestSaveOverwritesWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	s := New(path)

	require.NoError(t, s.Save(sampleSnapshot()))

	// A second save replaces the previous snapshot entirely, no merging.
	require.NoError(t, s.Save(&Snapshot{
		Cookies: []Cookie{{Name: "fresh", Value: "x", Domain: ".example.com", Path: "/"}},
	}))

	loaded, found, err := s.Load()
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, loaded.Cookies, 1)
	assert.Equal(t, "fresh", loaded.Cookies[0].Name)
	assert.Empty(t, loaded.Origins)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "snap.json"))
	require.NoError(t, s.Save(sampleSnapshot()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "snap.json", entries[0].Name())
}

func TestEnsureDirIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nested", "deep", "snap.json"))
	require.NoError(t, s.EnsureDir())
	require.NoError(t, s.EnsureDir())
}

func TestLoadCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := New(path)
	_, _, err := s.Load()
	assert.Error(t, err)
}

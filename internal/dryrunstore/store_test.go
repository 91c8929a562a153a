package dryrunstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dryrun.gob")
	s, err := Open(path)
	require.NoError(t, err)

	rec := Record{Hash: "a", OldLimit: 1000, NewLimit: 500, Reason: "allocation", Timestamp: time.Unix(1700000000, 0)}
	require.NoError(t, s.Put("a", rec))

	got, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, rec.NewLimit, got.NewLimit)
}

func TestReloadFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dryrun.gob")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Put("a", Record{Hash: "a", NewLimit: 500}))

	s2, err := Open(path)
	require.NoError(t, err)
	got, ok := s2.Get("a")
	require.True(t, ok)
	assert.EqualValues(t, 500, got.NewLimit)
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.gob")
	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.All())
}

func TestResetClearsAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dryrun.gob")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("a", Record{Hash: "a", NewLimit: 500}))
	require.NoError(t, s.Reset())

	assert.Empty(t, s.All())

	s2, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s2.All())
}

func TestAllReturnsIndependentCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dryrun.gob")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("a", Record{Hash: "a", NewLimit: 500}))

	snapshot := s.All()
	snapshot["a"] = Record{Hash: "a", NewLimit: 999}

	got, _ := s.Get("a")
	assert.EqualValues(t, 500, got.NewLimit)
}

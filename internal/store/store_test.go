package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmdudester/clawd/internal/domain"
)

func TestStore_LoadAbsentFileReturnsNil(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist.json"))

	state, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStore_LoadEmptyFileReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	s := New(path)
	state, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStore_LoadCorruptJSONReturnsNilNoError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := New(path)
	state, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStore_LoadShapeMismatchReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wrongshape.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"foo":"bar"}`), 0o600))

	s := New(path)
	state, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStore_LoadSessionsNotArrayReturnsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessionsnotarray.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sessions":"nope","internalSecret":"abc"}`), 0o600))

	s := New(path)
	state, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := New(path)

	want := &domain.PersistedState{
		Sessions: []domain.PersistedSession{
			{
				Info: domain.SessionInfo{
					ID:      uuid.New(),
					Name:    "fix the bug",
					Creator: "alice",
					Status:  domain.StatusIdle,
				},
				SessionToken: "deadbeef",
				ContainerID:  "abc123",
			},
		},
		InternalSecret: "0123456789abcdef",
	}

	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want, got)
}

func TestStore_SaveIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := New(path)

	state := &domain.PersistedState{
		Sessions:       []domain.PersistedSession{},
		InternalSecret: "secret",
	}

	require.NoError(t, s.Save(state))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, s.Save(state))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// No leftover tempfile after a successful save: the snapshot is the
	// directory's only entry.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_SaveOverwritesPriorSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := New(path)

	require.NoError(t, s.Save(&domain.PersistedState{Sessions: nil, InternalSecret: "first"}))
	require.NoError(t, s.Save(&domain.PersistedState{Sessions: nil, InternalSecret: "second"}))

	got, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "second", got.InternalSecret)
}

func TestStore_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := New(path)
	require.NoError(t, s.Save(&domain.PersistedState{InternalSecret: "x"}))

	require.NoError(t, s.Delete())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_DeleteAbsentFileIsNotAnError(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "never-existed.json"))
	assert.NoError(t, s.Delete())
}


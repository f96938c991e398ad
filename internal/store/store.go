// Package store implements the Session Store: atomic JSON snapshot/restore
// of session metadata and messages to a single file on disk.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/moby/sys/atomicwriter"

	"github.com/lmdudester/clawd/internal/domain"
)

// Store persists a domain.PersistedState snapshot to a single JSON file.
// Called only from the Session Manager's persistence loop;
// Store itself does no locking — callers serialize access.
type Store struct {
	path string
}

// New returns a Store writing to path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted snapshot, or (nil, nil) if the file is
// absent, empty, or doesn't match the expected top-level shape
// (sessions:Array, internalSecret:string). A shape mismatch is treated as
// "no prior state" rather than a fatal error, since schema changes are
// breaking by design.
func (s *Store) Load() (*domain.PersistedState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("store.Store.Load: %w", err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, nil //nolint:nilerr // corrupt file is treated as absent, not fatal
	}
	sessionsRaw, hasSessions := shape["sessions"]
	secretRaw, hasSecret := shape["internalSecret"]
	if !hasSessions || !hasSecret {
		return nil, nil
	}
	var probe []json.RawMessage
	if err := json.Unmarshal(sessionsRaw, &probe); err != nil {
		return nil, nil //nolint:nilerr // sessions must be an array
	}
	var secretProbe string
	if err := json.Unmarshal(secretRaw, &secretProbe); err != nil {
		return nil, nil //nolint:nilerr // internalSecret must be a string
	}

	var state domain.PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, nil //nolint:nilerr // corrupt file is treated as absent, not fatal
	}

	return &state, nil
}

// Save atomically writes state to the store's path: marshal, write to a
// uniquely named tempfile in the same directory, rename over path. On any
// failure the tempfile is removed.
func (s *Store) Save(state *domain.PersistedState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("store.Store.Save: marshal: %w", err)
	}

	if err := atomicwriter.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("store.Store.Save: %w", err)
	}

	return nil
}

// Delete removes the store file. A missing file is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("store.Store.Delete: %w", err)
	}
	return nil
}

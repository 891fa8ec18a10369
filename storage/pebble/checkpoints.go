// Package pebble implements the storage interfaces on a pebble database.
package pebble

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/timechain/timekeeper/storage"
)

var checkpointKey = []byte("clock_checkpoint")

// Checkpoints persists the clock's resume state under a single key. The
// write path is a synced single-key set, so a checkpoint is either fully
// present or absent; there is no partial state to repair on restart.
type Checkpoints struct {
	db *pebble.DB
}

var _ storage.Checkpoints = (*Checkpoints)(nil)

// NewCheckpoints opens (or creates) the checkpoint store in the given
// directory.
func NewCheckpoints(dir string) (*Checkpoints, error) {
	cache := pebble.NewCache(1 << 20)
	defer cache.Unref()
	db, err := pebble.Open(dir, &pebble.Options{Cache: cache})
	if err != nil {
		return nil, fmt.Errorf("could not open checkpoint db: %w", err)
	}
	return &Checkpoints{db: db}, nil
}

// Store overwrites the persisted checkpoint; see storage.Checkpoints.
func (c *Checkpoints) Store(checkpoint *storage.Checkpoint) error {
	data, err := cbor.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("could not encode checkpoint: %w", err)
	}
	err = c.db.Set(checkpointKey, data, pebble.Sync)
	if err != nil {
		return fmt.Errorf("could not persist checkpoint: %w", err)
	}
	return nil
}

// Latest returns the persisted checkpoint; see storage.Checkpoints.
func (c *Checkpoints) Latest() (*storage.Checkpoint, error) {
	data, closer, err := c.db.Get(checkpointKey)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("could not read checkpoint: %w", err)
	}
	defer closer.Close()

	var checkpoint storage.Checkpoint
	err = cbor.Unmarshal(data, &checkpoint)
	if err != nil {
		return nil, fmt.Errorf("could not decode checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// Close flushes and closes the underlying database. All pending writes
// complete before Close returns.
func (c *Checkpoints) Close() error {
	var result *multierror.Error
	if err := c.db.Flush(); err != nil {
		result = multierror.Append(result, fmt.Errorf("could not flush checkpoint db: %w", err))
	}
	if err := c.db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("could not close checkpoint db: %w", err))
	}
	return result.ErrorOrNil()
}

// -----------------------------------------------------------------------
// BadgerDB connection management
// -----------------------------------------------------------------------

package badger

import (
	"errors"
	"fmt"
	"os"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/mitto/internal/common"
)

// Connection wraps a badgerhold store opened against the configured path
type Connection struct {
	store *badgerhold.Store
	path  string
}

// NewConnection opens (or creates) the database directory.
// When ResetOnStartup is set the directory is wiped first, which keeps
// development runs deterministic.
func NewConnection(config *common.BadgerConfig) (*Connection, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("badger path is required")
	}

	if config.ResetOnStartup {
		if err := os.RemoveAll(config.Path); err != nil {
			return nil, fmt.Errorf("failed to reset database at %s: %w", config.Path, err)
		}
	}

	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", config.Path, err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %s: %w", config.Path, err)
	}

	common.GetLogger().Info().
		Str("path", config.Path).
		Msg("Badger store opened")

	return &Connection{store: store, path: config.Path}, nil
}

// Store returns the underlying badgerhold store
func (c *Connection) Store() *badgerhold.Store {
	return c.store
}

// RunGC performs one value-log garbage collection pass. Badger never
// reclaims value-log space on its own; callers should run this
// periodically.
func (c *Connection) RunGC() error {
	err := c.store.Badger().RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
		return fmt.Errorf("value log gc failed: %w", err)
	}
	return nil
}

// Close closes the underlying store
func (c *Connection) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

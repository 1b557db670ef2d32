// Package badger implements a durable chunk store on a badger key-value
// database.
package badger

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/shirou/gopsutil/disk"
	"go.uber.org/zap"
)

// A Store is a badger-backed chunk store.
type Store struct {
	db  *badger.DB
	log *zap.Logger
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GC runs one round of value log garbage collection. Having nothing to
// collect is success.
func (s *Store) GC() error {
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("failed to sync database: %w", err)
	}
	err := s.db.RunValueLogGC(0.5)
	if err != nil && err != badger.ErrNoRewrite {
		return fmt.Errorf("failed to garbage collect value log: %w", err)
	}
	return nil
}

// FreeSpace returns the free bytes of the volume holding path.
func FreeSpace(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat volume: %w", err)
	}
	return usage.Free, nil
}

// OpenDatabase opens a badger database at the given path.
func OpenDatabase(path string, log *zap.Logger) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(path))
	if err != nil {
		return nil, err
	}
	return &Store{db: db, log: log}, nil
}

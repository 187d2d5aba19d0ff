package queue

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/benmeehan/location-agent/pkg/file"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// Store persists a queue snapshot under a single named slot.
// Save overwrites the whole slot; Load returns nil data when the slot was never written.
type Store interface {
	Load() ([]byte, error)
	Save(data []byte) error
	// Quarantine moves an unreadable snapshot aside so the slot can be reused.
	Quarantine() error
}

// FileStore keeps the slot in a single JSON file.
type FileStore struct {
	path    string
	fileOps file.FileOperations
}

// NewFileStore creates a FileStore writing to path.
func NewFileStore(path string, fileOps file.FileOperations) *FileStore {
	return &FileStore{path: path, fileOps: fileOps}
}

func (s *FileStore) Load() ([]byte, error) {
	data, err := s.fileOps.ReadFileRaw(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (s *FileStore) Save(data []byte) error {
	return s.fileOps.WriteFileAtomic(s.path, data)
}

func (s *FileStore) Quarantine() error {
	exists, err := s.fileOps.IsFileExists(s.path)
	if err != nil || !exists {
		return err
	}
	_, err = s.fileOps.MoveAside(s.path, fmt.Sprintf("corrupt-%d", time.Now().UnixMilli()))
	return err
}

// BadgerStore keeps the slot as a single key in a BadgerDB instance.
// Several slots (pending queue, dead letter) can share one DB under different keys.
type BadgerStore struct {
	db  *badger.DB
	key []byte
}

// NewBadgerStore creates a BadgerStore for the named slot.
func NewBadgerStore(db *badger.DB, slot string) *BadgerStore {
	return &BadgerStore{db: db, key: []byte("queue:" + slot)}
}

func (s *BadgerStore) Load() ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get slot: %w", err)
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

func (s *BadgerStore) Save(data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, data)
	})
}

func (s *BadgerStore) Quarantine() error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		corruptKey := []byte(fmt.Sprintf("%s:corrupt:%d", s.key, time.Now().UnixMilli()))
		if err := txn.Set(corruptKey, data); err != nil {
			return err
		}
		return txn.Delete(s.key)
	})
}

// OpenBadger opens the BadgerDB used for queue slots with synchronous writes,
// so a Save has reached disk before it returns. An empty dir opens an in-memory DB.
func OpenBadger(dir string, logger zerolog.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(badgerLogger{logger: logger.With().Str("component", "badger").Logger()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return db, nil
}

// badgerLogger routes badger's internal logging through zerolog.
type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Trace().Msgf(format, args...)
}

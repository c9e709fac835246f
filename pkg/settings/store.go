package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket is the bbolt bucket holding the settings record.
const Bucket = "settings"

const recordKey = "device"

// ErrNotFound is returned by Load when no record has been persisted yet.
var ErrNotFound = errors.New("settings record not found")

// Store persists the device settings record. Save must leave the store
// either fully updated or unchanged; callers treat a failed save as fatal
// for the mutation that triggered it.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
	Close() error
}

var (
	_ Store = (*BoltStore)(nil)
	_ Store = (*MemStore)(nil)
)

// BoltStore keeps the record in a bbolt database: one bucket, one
// marshalled record. It stands in for the EEPROM block the shield firmware
// writes.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens the settings database at path, creating the file and the
// bucket as needed.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open settings db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(Bucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create settings bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load reads the persisted record, or ErrNotFound when the store is empty.
func (s *BoltStore) Load() (Settings, error) {
	var rec Settings
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(Bucket)).Get([]byte(recordKey))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if !found {
		return Settings{}, ErrNotFound
	}
	return rec, nil
}

// Save writes the full record.
func (s *BoltStore) Save(rec Settings) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(Bucket)).Put([]byte(recordKey), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemStore keeps the record in memory, for tests; the save counter lets
// persistence policies be asserted exactly.
type MemStore struct {
	mu    sync.Mutex
	rec   Settings
	ok    bool
	saves int
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Load returns the stored record, or ErrNotFound before the first save.
func (s *MemStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ok {
		return Settings{}, ErrNotFound
	}
	return s.rec, nil
}

// Save stores the record and bumps the save counter.
func (s *MemStore) Save(rec Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = rec
	s.ok = true
	s.saves++
	return nil
}

// Close is a no-op.
func (s *MemStore) Close() error {
	return nil
}

// Saves reports how many times Save has been called.
func (s *MemStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// LoadOrProvision returns the stored record, provisioning and persisting
// the power-on defaults when the store is empty.
func LoadOrProvision(st Store) (Settings, error) {
	rec, err := st.Load()
	if errors.Is(err, ErrNotFound) {
		rec = Default()
		if err := st.Save(rec); err != nil {
			return Settings{}, fmt.Errorf("failed to provision defaults: %w", err)
		}
		return rec, nil
	}
	if err != nil {
		return Settings{}, err
	}
	return rec, nil
}

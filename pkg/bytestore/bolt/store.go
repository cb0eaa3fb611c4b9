package bolt

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"imagestash/pkg/bytestore"
	"imagestash/pkg/fault"
)

// Store implements bytestore.Store with one bbolt file per store name
// under a data directory. Every call opens the file, runs one transaction
// and closes it again; no handle is held between calls.
type Store struct {
	dir         string
	lockTimeout time.Duration
}

var _ bytestore.Store = (*Store)(nil)

// NewStore returns a Store rooted at dir. lockTimeout bounds how long a
// call waits for another call holding the same store file.
func NewStore(dir string, lockTimeout time.Duration) *Store {
	return &Store{dir: dir, lockTimeout: lockTimeout}
}

// maxFileName is the common file name limit (ext4, APFS, NTFS).
const maxFileName = 255

// Path returns the file backing storeName. Names are path-escaped so a
// name containing separators still maps to a single file inside dir.
func (s *Store) Path(storeName string) string {
	return filepath.Join(s.dir, url.PathEscape(storeName)+".db")
}

func checkName(op, storeName string) error {
	if n := len(url.PathEscape(storeName)) + len(".db"); n > maxFileName {
		return fault.Newf(op, fault.InvalidArgument,
			"store name escapes to a %d byte file name, limit is %d", n, maxFileName)
	}
	return nil
}

func (s *Store) open(storeName string, collections ...string) (*DB, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return Open(s.Path(storeName), Options{
		Version:     bytestore.SchemaVersion,
		Collections: collections,
		LockTimeout: s.lockTimeout,
	})
}

// Put writes data under key in storeName, creating the store and its
// collection if needed.
func (s *Store) Put(storeName, key string, data []byte) (err error) {
	const op = "bytestore.Put"
	if err := bytestore.CheckPut(op, storeName, key, data); err != nil {
		return err
	}
	if err := checkName(op, storeName); err != nil {
		return err
	}

	db, err := s.open(storeName, bytestore.Collection)
	if err != nil {
		return fault.Wrap(op, fault.StoreFailure, err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fault.Wrap(op, fault.StoreFailure, cerr)
		}
	}()

	if err := db.Put(bytestore.Collection, key, data); err != nil {
		return fault.Wrap(op, fault.StoreFailure, err)
	}
	logger.Debug("stored value", "store", storeName, "key", key, "bytes", len(data))
	return nil
}

// Get reads key from storeName. A store that has never been written is
// created empty and every key in it is absent.
func (s *Store) Get(storeName, key string) (data []byte, found bool, err error) {
	const op = "bytestore.Get"
	if err := bytestore.CheckGet(op, storeName, key); err != nil {
		return nil, false, err
	}
	if err := checkName(op, storeName); err != nil {
		return nil, false, err
	}

	db, err := s.open(storeName)
	if err != nil {
		return nil, false, fault.Wrap(op, fault.StoreFailure, err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			data, found, err = nil, false, fault.Wrap(op, fault.StoreFailure, cerr)
		}
	}()

	data, found, err = db.Get(bytestore.Collection, key)
	if err != nil {
		return nil, false, fault.Wrap(op, fault.StoreFailure, err)
	}
	return data, found, nil
}

package bolt

import (
	"errors"
	"fmt"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"imagestash/internal/logging"
	"imagestash/pkg/bytestore"
)

var logger = logging.For("bytestore")

var (
	metaBucket = []byte("_meta")
	schemaKey  = []byte("schema")
)

var (
	// ErrVersionConflict is returned when a store on disk carries a newer
	// schema version than the one requested.
	ErrVersionConflict = errors.New("store schema is newer than requested version")
	// ErrNoCollection is returned when writing to a collection the store
	// was not opened with.
	ErrNoCollection = errors.New("collection does not exist")
)

// Options configures Open.
type Options struct {
	// Version is the schema version to open at. Zero means
	// bytestore.SchemaVersion.
	Version uint32
	// Collections are created if missing. Open is idempotent: existing
	// collections and their data are left alone.
	Collections []string
	// LockTimeout bounds the wait for the file lock held by another open
	// handle. Zero waits indefinitely.
	LockTimeout time.Duration
}

// DB is an open store backed by a bbolt file.
type DB struct {
	db          *bolt.DB
	version     uint32
	collections []string
}

// Open creates or opens the store at path, stamps the schema version and
// ensures every requested collection exists.
func Open(path string, opts Options) (*DB, error) {
	if opts.Version == 0 {
		opts.Version = bytestore.SchemaVersion
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: opts.LockTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	s := &DB{db: db, version: opts.Version}
	if err := s.ensureSchema(opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("opened store", "path", path, "version", s.version, "collections", s.collections)
	return s, nil
}

type schema struct {
	version     uint32
	collections []string
}

// ensureSchema checks the stored schema in a read transaction and only
// takes a write transaction when the version must be stamped or a
// collection created.
func (s *DB) ensureSchema(opts Options) error {
	var current schema
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		current, err = readSchema(tx)
		return err
	})
	if err != nil {
		return err
	}
	if current.version > opts.Version {
		return fmt.Errorf("%w: on disk %d, requested %d", ErrVersionConflict, current.version, opts.Version)
	}

	missing := false
	for _, c := range opts.Collections {
		if !slices.Contains(current.collections, c) {
			missing = true
			break
		}
	}
	if current.version == opts.Version && !missing {
		s.collections = current.collections
		return nil
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		// Re-read: another handle may have upgraded between the two transactions.
		cur, err := readSchema(tx)
		if err != nil {
			return err
		}
		if cur.version > opts.Version {
			return fmt.Errorf("%w: on disk %d, requested %d", ErrVersionConflict, cur.version, opts.Version)
		}

		collections := slices.Clone(cur.collections)
		for _, c := range opts.Collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(c)); err != nil {
				return fmt.Errorf("creating collection %q: %w", c, err)
			}
			if !slices.Contains(collections, c) {
				collections = append(collections, c)
			}
		}
		slices.Sort(collections)

		if err := writeSchema(tx, schema{version: opts.Version, collections: collections}); err != nil {
			return err
		}
		s.collections = collections
		return nil
	})
}

func readSchema(tx *bolt.Tx) (schema, error) {
	b := tx.Bucket(metaBucket)
	if b == nil {
		return schema{}, nil
	}
	raw := b.Get(schemaKey)
	if raw == nil {
		return schema{}, nil
	}

	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		return schema{}, fmt.Errorf("decoding schema record: %w", err)
	}
	fields := st.GetFields()
	sc := schema{version: uint32(fields["schema_version"].GetNumberValue())}
	for _, v := range fields["collections"].GetListValue().GetValues() {
		sc.collections = append(sc.collections, v.GetStringValue())
	}
	return sc, nil
}

func writeSchema(tx *bolt.Tx, sc schema) error {
	b, err := tx.CreateBucketIfNotExists(metaBucket)
	if err != nil {
		return fmt.Errorf("creating meta bucket: %w", err)
	}

	collections := make([]any, len(sc.collections))
	for i, c := range sc.collections {
		collections[i] = c
	}
	st, err := structpb.NewStruct(map[string]any{
		"schema_version": sc.version,
		"collections":    collections,
		"updated_at":     time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("building schema record: %w", err)
	}
	raw, err := proto.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding schema record: %w", err)
	}
	return b.Put(schemaKey, raw)
}

// Version returns the schema version the store was opened at.
func (s *DB) Version() uint32 {
	return s.version
}

// Collections returns the collections present when the store was opened.
func (s *DB) Collections() []string {
	return slices.Clone(s.collections)
}

// Put writes value under key in a single write transaction.
func (s *DB) Put(collection, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("%w: %q", ErrNoCollection, collection)
		}
		return b.Put([]byte(key), value)
	})
}

// Get reads key in a read transaction. A missing collection or key is
// reported as not found, not as an error. The returned slice is a copy.
func (s *DB) Get(collection, key string) ([]byte, bool, error) {
	var (
		val   []byte
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			val = make([]byte, len(v))
			copy(val, v)
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return val, found, nil
}

// Close releases the file lock and closes the database.
func (s *DB) Close() error {
	return s.db.Close()
}

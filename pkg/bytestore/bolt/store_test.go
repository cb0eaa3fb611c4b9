package bolt

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"imagestash/internal/logging"
	"imagestash/pkg/fault"
)

// coverPNG is 37 bytes of PNG header and body.
var coverPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0a,
}

func tempStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), 5*time.Second)
}

func TestStoreRoundTrip(t *testing.T) {
	s := tempStore(t)

	if err := s.Put("gallery", "cover", coverPNG); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, found, err := s.Get("gallery", "cover")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || !bytes.Equal(got, coverPNG) {
		t.Fatalf("Get = %x (found=%v), want %x", got, found, coverPNG)
	}

	got, found, err = s.Get("gallery", "missing")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if found || got != nil {
		t.Fatalf("missing key should be absent, got %x", got)
	}
}

func TestStoreLastWriteWins(t *testing.T) {
	s := tempStore(t)
	first := []byte("first image")
	second := []byte("second image, longer")

	for _, data := range [][]byte{first, first} {
		if err := s.Put("gallery", "k", data); err != nil {
			t.Fatal(err)
		}
	}
	got, _, _ := s.Get("gallery", "k")
	if !bytes.Equal(got, first) {
		t.Fatalf("repeated put: got %q", got)
	}

	if err := s.Put("gallery", "k", second); err != nil {
		t.Fatal(err)
	}
	got, _, _ = s.Get("gallery", "k")
	if !bytes.Equal(got, second) {
		t.Fatalf("last write should win: got %q", got)
	}
}

func TestStoreNeverWrittenStore(t *testing.T) {
	s := tempStore(t)

	got, found, err := s.Get("fresh", "anything")
	if err != nil {
		t.Fatalf("reading a never-written store should not fail: %v", err)
	}
	if found || got != nil {
		t.Fatal("every key in a never-written store is absent")
	}

	// The read created the store without its collection; a later write
	// must still succeed.
	if err := s.Put("fresh", "anything", coverPNG); err != nil {
		t.Fatalf("Put after Get: %v", err)
	}
	if _, found, _ := s.Get("fresh", "anything"); !found {
		t.Fatal("value should be present after put")
	}
}

func TestStoresAreIsolated(t *testing.T) {
	s := tempStore(t)
	if err := s.Put("a", "k", []byte("from a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("b", "k", []byte("from b")); err != nil {
		t.Fatal(err)
	}
	va, _, _ := s.Get("a", "k")
	vb, _, _ := s.Get("b", "k")
	if string(va) != "from a" || string(vb) != "from b" {
		t.Fatal("stores should be isolated")
	}
}

func TestStoreMissingParameters(t *testing.T) {
	s := tempStore(t)
	tests := []struct {
		name      string
		storeName string
		key       string
		data      []byte
	}{
		{"empty store name", "", "k", coverPNG},
		{"empty key", "gallery", "", coverPNG},
		{"nil data", "gallery", "k", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Put(tt.storeName, tt.key, tt.data)
			if !errors.Is(err, fault.ErrMissingParameter) {
				t.Fatalf("Put: expected missing parameter, got %v", err)
			}
		})
	}

	if _, _, err := s.Get("", "k"); !errors.Is(err, fault.ErrMissingParameter) {
		t.Fatalf("Get empty store: expected missing parameter, got %v", err)
	}
	if _, _, err := s.Get("gallery", ""); !errors.Is(err, fault.ErrMissingParameter) {
		t.Fatalf("Get empty key: expected missing parameter, got %v", err)
	}

	entries, _ := os.ReadDir(s.dir)
	if len(entries) != 0 {
		t.Fatal("validation failures must not touch the data dir")
	}
}

func TestStoreNameTooLong(t *testing.T) {
	s := tempStore(t)

	// 85 slashes escape to 255 bytes, before ".db" is added.
	long := strings.Repeat("/", 85)
	if err := s.Put(long, "k", coverPNG); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Fatalf("Put: expected invalid argument, got %v", err)
	}
	if _, _, err := s.Get(long, "k"); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Fatalf("Get: expected invalid argument, got %v", err)
	}
	entries, _ := os.ReadDir(s.dir)
	if len(entries) != 0 {
		t.Fatal("a rejected name must not touch the data dir")
	}

	// Exactly at the limit is fine.
	edge := strings.Repeat("a", maxFileName-len(".db"))
	if err := s.Put(edge, "k", coverPNG); err != nil {
		t.Fatalf("Put at the limit: %v", err)
	}
}

func TestStoreFailureWrapsCause(t *testing.T) {
	// A regular file where the data dir should be makes every open fail.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}
	s := NewStore(blocker, time.Second)

	err := s.Put("gallery", "k", coverPNG)
	if !errors.Is(err, fault.ErrStoreFailure) {
		t.Fatalf("Put: expected store failure, got %v", err)
	}
	if errors.Unwrap(err) == nil {
		t.Fatal("store failure should carry its cause")
	}

	if _, _, err := s.Get("gallery", "k"); !errors.Is(err, fault.ErrStoreFailure) {
		t.Fatalf("Get: expected store failure, got %v", err)
	}
}

func TestStoreVersionConflict(t *testing.T) {
	s := tempStore(t)
	db, err := Open(s.Path("gallery"), Options{Version: 2})
	if err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	err = s.Put("gallery", "k", coverPNG)
	if !errors.Is(err, fault.ErrStoreFailure) || !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected store failure wrapping a version conflict, got %v", err)
	}
}

func TestStorePathEscaping(t *testing.T) {
	s := tempStore(t)
	name := "../outside/gallery"
	if err := s.Put(name, "k", coverPNG); err != nil {
		t.Fatal(err)
	}
	p := s.Path(name)
	if filepath.Dir(p) != filepath.Clean(s.dir) {
		t.Fatalf("store file %q escaped data dir %q", p, s.dir)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("store file missing: %v", err)
	}
}

func TestStoreNoHandleHeldBetweenCalls(t *testing.T) {
	s := tempStore(t)
	if err := s.Put("gallery", "k", coverPNG); err != nil {
		t.Fatal(err)
	}

	// If Put had leaked its handle, this open would hit the lock timeout.
	db, err := Open(s.Path("gallery"), Options{LockTimeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("store should be closed after Put: %v", err)
	}
	_ = db.Close()
}

func TestStoreConcurrentWriters(t *testing.T) {
	s := tempStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Put("gallery", fmt.Sprintf("img-%d", i), []byte{byte(i)})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent put: %v", err)
		}
	}

	for i := 0; i < 8; i++ {
		got, found, err := s.Get("gallery", fmt.Sprintf("img-%d", i))
		if err != nil || !found || !bytes.Equal(got, []byte{byte(i)}) {
			t.Fatalf("img-%d: got %v found=%v err=%v", i, got, found, err)
		}
	}
}

func TestStoreLogsAtDebug(t *testing.T) {
	c := logging.CaptureForTest()
	defer c.Restore()

	s := tempStore(t)
	if err := s.Put("gallery", "cover", coverPNG); err != nil {
		t.Fatal(err)
	}
	if !c.Has(slog.LevelDebug, "stored value") {
		t.Error("Put should log the write at debug level")
	}
	if !c.HasAttr("component", "bytestore") {
		t.Error("records should carry the bytestore component")
	}
	if c.Count(slog.LevelWarn)+c.Count(slog.LevelError) != 0 {
		t.Error("a successful put should not warn")
	}
}

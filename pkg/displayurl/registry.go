package displayurl

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BlobPath is the path segment under the base URL where blobs are served.
const BlobPath = "blob"

// Blob is a buffer registered behind a blob URL.
type Blob struct {
	Data      []byte
	MediaType string
	Created   time.Time
}

// Registry mints <base>/blob/<uuid> URLs for buffers and keeps them until
// revoked. It is safe for concurrent use. A nil *Registry issues nothing
// and resolves nothing.
type Registry struct {
	base   *url.URL
	prefix string // path prefix of minted URLs, ending in "/"

	mu    sync.RWMutex
	blobs map[string]Blob
}

// NewRegistry returns a Registry minting URLs under baseURL, which must be
// absolute (scheme and host).
func NewRegistry(baseURL string) (*Registry, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	u.RawQuery, u.Fragment = "", ""
	return &Registry{
		base:   u,
		prefix: strings.TrimSuffix(u.Path, "/") + "/" + BlobPath + "/",
		blobs:  make(map[string]Blob),
	}, nil
}

// Issue stores a copy of data and returns its URL.
func (r *Registry) Issue(data []byte, mediaType string) (string, error) {
	if r == nil {
		return "", errors.New("blob registry is nil")
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating blob id: %w", err)
	}
	blob := Blob{
		Data:      append([]byte(nil), data...),
		MediaType: mediaType,
		Created:   time.Now(),
	}
	if blob.Data == nil {
		blob.Data = []byte{}
	}

	r.mu.Lock()
	r.blobs[id.String()] = blob
	r.mu.Unlock()

	return r.base.JoinPath(BlobPath, id.String()).String(), nil
}

// Lookup returns the blob registered under id.
func (r *Registry) Lookup(id string) (Blob, bool) {
	if r == nil {
		return Blob{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blobs[id]
	return b, ok
}

// ID extracts the blob id from a URL minted by this registry.
func (r *Registry) ID(rawURL string) (string, bool) {
	if r == nil {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if !strings.EqualFold(u.Scheme, r.base.Scheme) || !strings.EqualFold(u.Host, r.base.Host) {
		return "", false
	}
	id, ok := strings.CutPrefix(u.Path, r.prefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Resolve returns the blob behind a URL minted by this registry.
func (r *Registry) Resolve(rawURL string) (Blob, bool) {
	id, ok := r.ID(rawURL)
	if !ok {
		return Blob{}, false
	}
	return r.Lookup(id)
}

// Revoke drops the blob behind rawURL. It reports whether a blob was
// registered.
func (r *Registry) Revoke(rawURL string) bool {
	id, ok := r.ID(rawURL)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blobs[id]; !ok {
		return false
	}
	delete(r.blobs, id)
	logger.Debug("revoked blob url", "id", id)
	return true
}

// Len returns the number of live blobs.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

package displayurl

import (
	"errors"
	"fmt"
)

// ErrUnresolvable is returned by Resolve for URLs that are neither data:
// URLs nor live blob URLs of the given registry.
var ErrUnresolvable = errors.New("url cannot be resolved")

// Resolve dereferences a display URL back to its content. reg may be nil
// when only data: URLs are expected.
func Resolve(rawURL string, reg *Registry) ([]byte, string, error) {
	data, mediaType, err := DecodeDataURL(rawURL)
	if err == nil {
		return data, mediaType, nil
	}
	if !errors.Is(err, errNotDataURL) {
		return nil, "", err
	}

	if reg != nil {
		if b, ok := reg.Resolve(rawURL); ok {
			return append([]byte(nil), b.Data...), b.MediaType, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnresolvable, rawURL)
}

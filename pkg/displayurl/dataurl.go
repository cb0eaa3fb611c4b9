package displayurl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const dataScheme = "data:"

// defaultDataMediaType applies to data: URLs that omit a media type.
const defaultDataMediaType = "text/plain;charset=US-ASCII"

var errNotDataURL = errors.New("not a data: URL")

// DataURLIssuer mints self-contained data: URLs with a base64 payload.
// Nothing is allocated outside the URL string itself, so there is nothing
// to revoke.
type DataURLIssuer struct{}

func (DataURLIssuer) Issue(data []byte, mediaType string) (string, error) {
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	var b strings.Builder
	b.Grow(len(dataScheme) + len(mediaType) + len(";base64,") + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString(dataScheme)
	b.WriteString(mediaType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String(), nil
}

// DecodeDataURL returns the payload and media type of a data: URL.
func DecodeDataURL(raw string) ([]byte, string, error) {
	if len(raw) < len(dataScheme) || !strings.EqualFold(raw[:len(dataScheme)], dataScheme) {
		return nil, "", errNotDataURL
	}
	meta, payload, ok := strings.Cut(raw[len(dataScheme):], ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data: URL: missing comma")
	}

	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta, isBase64 = m, true
	}
	if meta == "" {
		meta = defaultDataMediaType
	}

	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("decoding base64 payload: %w", err)
		}
		return data, meta, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decoding percent-encoded payload: %w", err)
	}
	return []byte(s), meta, nil
}

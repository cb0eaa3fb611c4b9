// Package displayurl turns byte buffers into URLs a rendering surface can
// dereference: self-contained data: URLs, or blob URLs minted by a
// Registry and served over HTTP.
package displayurl

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"imagestash/internal/logging"
	"imagestash/pkg/fault"
)

var logger = logging.For("displayurl")

// Issuer mints a URL for data. mediaType is the sniffed content type.
type Issuer interface {
	Issue(data []byte, mediaType string) (string, error)
}

// Converter wraps byte buffers into display URLs through an Issuer.
type Converter struct {
	issuer Issuer
}

// NewConverter returns a Converter using iss.
func NewConverter(iss Issuer) *Converter {
	return &Converter{issuer: iss}
}

var std = NewConverter(DataURLIssuer{})

// ToDisplayURL converts data to a data: URL.
func ToDisplayURL(data []byte) (string, error) {
	return std.ToDisplayURL(data)
}

// ToDisplayURL returns a URL for data. A nil buffer fails with
// fault.InvalidArgument without calling the issuer; issuer errors are
// returned as fault.ConversionFailure. The URL stays valid until the caller
// revokes it with the issuer.
func (c *Converter) ToDisplayURL(data []byte) (string, error) {
	const op = "displayurl.ToDisplayURL"
	if data == nil {
		return "", fault.New(op, fault.InvalidArgument, "expected a byte buffer, got nil")
	}
	if c == nil || c.issuer == nil {
		return "", fault.New(op, fault.ConversionFailure, "no issuer configured")
	}

	mediaType := DetectMediaType(data)
	u, err := c.issuer.Issue(data, mediaType)
	if err != nil {
		return "", fault.Wrap(op, fault.ConversionFailure, err)
	}
	logger.Debug("issued display url", "media_type", mediaType, "bytes", len(data))
	return u, nil
}

// DetectMediaType sniffs the content type of data, e.g. "image/png".
// Parameters are kept without whitespace so the result can be embedded in
// a data: URL.
func DetectMediaType(data []byte) string {
	return strings.ReplaceAll(mimetype.Detect(data).String(), " ", "")
}

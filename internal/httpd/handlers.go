package httpd

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/blake2b"

	"imagestash/pkg/displayurl"
	"imagestash/pkg/fault"
)

// multipartMemory is how much of an upload is kept in memory before the
// multipart reader spills to temp files.
const multipartMemory = 8 << 20

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type urlBody struct {
	URL string `json:"url"`
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		http.NotFound(w, r)
		return
	}
	blob, ok := s.registry.Lookup(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	serveBytes(w, r, blob.Data, blob.MediaType, blob.Created)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	storeName, key, ok := pathParams(w, r)
	if !ok {
		return
	}

	// The form carries boundaries and headers on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds size limit")
			return
		}
		writeError(w, r, http.StatusBadRequest, "bad_form", "expected multipart form with a file field")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	_, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file_required", "file required")
		return
	}

	data, err := s.files.ReadMultipart(fh)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if err := s.store.Put(storeName, key, data); err != nil {
		writeFault(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	storeName, key, ok := pathParams(w, r)
	if !ok {
		return
	}
	data, found, err := s.store.Get(storeName, key)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if !found {
		writeError(w, r, http.StatusNotFound, "not_found", "no image under key")
		return
	}
	serveBytes(w, r, data, displayurl.DetectMediaType(data), time.Time{})
}

func (s *Server) handleDisplayURL(w http.ResponseWriter, r *http.Request) {
	storeName, key, ok := pathParams(w, r)
	if !ok {
		return
	}
	data, found, err := s.store.Get(storeName, key)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if !found {
		writeError(w, r, http.StatusNotFound, "not_found", "no image under key")
		return
	}
	u, err := s.converter.ToDisplayURL(data)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, urlBody{URL: u})
}

// pathParams returns {store} and {key} decoded exactly once. chi matches
// on RawPath when the request carried escapes the default encoding would
// not produce (an escaped slash, say), and on the already decoded Path
// otherwise.
func pathParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	storeName, key := chi.URLParam(r, "store"), chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return storeName, key, true
	}
	storeName, err1 := url.PathUnescape(storeName)
	key, err2 := url.PathUnescape(key)
	if err1 != nil || err2 != nil {
		writeError(w, r, http.StatusBadRequest, "bad_path", "malformed store or key")
		return "", "", false
	}
	return storeName, key, true
}

// serveBytes writes data with a content type the browser will not
// reinterpret. Only raster images render inline; anything else, SVG
// included, is sent as an opaque attachment.
func serveBytes(w http.ResponseWriter, r *http.Request, data []byte, mediaType string, modTime time.Time) {
	sum := blake2b.Sum256(data)
	h := w.Header()
	h.Set("ETag", `"`+hex.EncodeToString(sum[:])+`"`)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "private, max-age=0, must-revalidate")
	if inlineImage(mediaType) {
		h.Set("Content-Type", mediaType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Content-Disposition", "attachment")
	}
	http.ServeContent(w, r, "", modTime, bytes.NewReader(data))
}

func inlineImage(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") && !strings.HasPrefix(mediaType, "image/svg")
}

func writeFault(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch fault.KindOf(err) {
	case fault.InvalidArgument:
		status, code = http.StatusBadRequest, "invalid_argument"
	case fault.MissingParameter:
		status, code = http.StatusBadRequest, "missing_parameter"
	case fault.ReadFailure:
		status, code = http.StatusBadRequest, "read_failure"
	case fault.StoreFailure:
		code = "store_failure"
	case fault.ConversionFailure:
		code = "conversion_failure"
	}
	writeError(w, r, status, code, err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httplog.Warn("request failed",
		"request_id", middleware.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"code", code,
		"err", message,
	)
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

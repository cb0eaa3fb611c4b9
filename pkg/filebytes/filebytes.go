// Package filebytes reads a user-selected file into a single byte buffer.
package filebytes

import (
	"bytes"
	"io"
	"io/fs"
	"mime/multipart"
	"os"
	"reflect"

	"imagestash/pkg/fault"
)

// File is a readable handle that can describe itself. *os.File, fs.File
// and the handles returned by fs.FS implementations all satisfy it.
type File interface {
	io.Reader
	Stat() (fs.FileInfo, error)
}

// Reader converts file handles to byte buffers. The zero value reads
// without a size limit.
type Reader struct {
	// MaxBytes caps the number of bytes read. Zero or negative means no cap.
	MaxBytes int64
}

var std Reader

// Read reads the entire content of f.
func Read(f File) ([]byte, error) { return std.Read(f) }

// ReadPath opens path and reads it.
func ReadPath(path string) ([]byte, error) { return std.ReadPath(path) }

// ReadMultipart reads an uploaded file from a multipart form.
func ReadMultipart(fh *multipart.FileHeader) ([]byte, error) { return std.ReadMultipart(fh) }

// Read reads the entire content of f. It fails with fault.InvalidArgument
// before reading if f is nil or describes a directory, and with
// fault.ReadFailure if stat or read fail.
func (r Reader) Read(f File) ([]byte, error) {
	const op = "filebytes.Read"
	if isNil(f) {
		return nil, fault.New(op, fault.InvalidArgument, "expected a file handle, got nil")
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, fault.Wrap(op, fault.ReadFailure, err)
	}
	if fi.IsDir() {
		return nil, fault.Newf(op, fault.InvalidArgument, "%s is a directory", fi.Name())
	}
	return r.read(op, f, fi.Size(), fi.Mode().IsRegular())
}

// ReadPath opens path and reads it. A path that cannot be opened is a
// read failure.
func (r Reader) ReadPath(path string) ([]byte, error) {
	const op = "filebytes.ReadPath"
	if path == "" {
		return nil, fault.New(op, fault.MissingParameter, "path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(op, fault.ReadFailure, err)
	}
	defer func() { _ = f.Close() }()
	return r.Read(f)
}

// ReadMultipart reads an uploaded file. The header's declared size is
// checked against the bytes actually read.
func (r Reader) ReadMultipart(fh *multipart.FileHeader) ([]byte, error) {
	const op = "filebytes.ReadMultipart"
	if fh == nil {
		return nil, fault.New(op, fault.InvalidArgument, "expected a file header, got nil")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fault.Wrap(op, fault.ReadFailure, err)
	}
	defer func() { _ = f.Close() }()
	return r.read(op, f, fh.Size, true)
}

func (r Reader) read(op string, src io.Reader, size int64, exact bool) ([]byte, error) {
	if r.MaxBytes > 0 {
		if size > r.MaxBytes {
			return nil, fault.Newf(op, fault.ReadFailure, "file is %d bytes, limit is %d", size, r.MaxBytes)
		}
		src = io.LimitReader(src, r.MaxBytes+1)
	}

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	n, err := buf.ReadFrom(src)
	if err != nil {
		return nil, fault.Wrap(op, fault.ReadFailure, err)
	}
	if r.MaxBytes > 0 && n > r.MaxBytes {
		return nil, fault.Newf(op, fault.ReadFailure, "file exceeds %d bytes", r.MaxBytes)
	}
	if exact && n != size {
		return nil, fault.Newf(op, fault.ReadFailure, "read %d bytes, expected %d", n, size)
	}

	// bytes.Buffer returns nil for an empty read; callers distinguish
	// an empty buffer from an absent one.
	if n == 0 {
		return []byte{}, nil
	}
	return buf.Bytes(), nil
}

// isNil catches both a nil interface and a typed nil pointer inside it.
func isNil(f File) bool {
	if f == nil {
		return true
	}
	v := reflect.ValueOf(f)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

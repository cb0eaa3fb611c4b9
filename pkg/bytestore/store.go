// Package bytestore persists byte buffers under string keys in named,
// versioned stores. Each store holds a single collection, "images".
package bytestore

import "imagestash/pkg/fault"

const (
	// SchemaVersion is the version every store is opened at.
	SchemaVersion = 1
	// Collection is the only collection a store carries.
	Collection = "images"
)

// Store puts and gets byte buffers by key. Implementations open the named
// store, run exactly one transaction and release it before returning.
type Store interface {
	// Put writes data under key, overwriting any previous value.
	Put(storeName, key string, data []byte) error
	// Get returns the value under key. A missing key is (nil, false, nil).
	Get(storeName, key string) ([]byte, bool, error)
}

// CheckPut validates Put arguments before any store access.
func CheckPut(op, storeName, key string, data []byte) error {
	if err := CheckGet(op, storeName, key); err != nil {
		return err
	}
	if data == nil {
		return fault.New(op, fault.MissingParameter, "data is nil")
	}
	return nil
}

// CheckGet validates Get arguments before any store access.
func CheckGet(op, storeName, key string) error {
	switch {
	case storeName == "":
		return fault.New(op, fault.MissingParameter, "store name is empty")
	case key == "":
		return fault.New(op, fault.MissingParameter, "key is empty")
	}
	return nil
}

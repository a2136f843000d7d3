package storage

import "errors"

var (
	// ErrNotFound is returned by Retrieve when the named object does not exist
	ErrNotFound = errors.New("object not found")
	// ErrPreconditionFailed is returned by StoreIfVersion when the object changed since it was read
	ErrPreconditionFailed = errors.New("object changed since it was read")
)

// StorageInterface defines the contract for storage operations
type StorageInterface interface {
	Store(filename string, data []byte) error
	Retrieve(filename string) ([]byte, error)
	List(prefix string) ([]string, error)
	Delete(filename string) error
}

// ConditionalStorage is implemented by backends that support optimistic
// concurrency. The empty version stands for an object that does not exist.
type ConditionalStorage interface {
	StorageInterface
	RetrieveVersion(filename string) ([]byte, string, error)
	StoreIfVersion(filename string, data []byte, version string) error
}

// Package driver defines the key/value storage abstraction the object
// store and repo persistence layer are built on. Paths are
// slash-separated keys, not filesystem paths: a filesystem.Driver maps
// them onto a root directory, an inmemory.Driver keeps them in a map.
package driver

import "fmt"

// StorageDriver is a minimal filesystem-like key/value store. Every
// implementation must make PutContent and Move atomic with respect to a
// concurrent GetContent/Stat: a reader never
// observes a partially written value.
type StorageDriver interface {
	GetContent(path string) ([]byte, error)
	PutContent(path string, content []byte) error
	Stat(path string) (bool, error)
	List(path string) ([]string, error)
	Move(sourcePath string, destPath string) error
	Delete(path string) error
}

// PathNotFoundError is returned when operating on a nonexistent path.
type PathNotFoundError struct {
	Path string
}

func (e PathNotFoundError) Error() string {
	return fmt.Sprintf("driver: path not found: %s", e.Path)
}

// IsNotExist reports whether err denotes a missing path.
func IsNotExist(err error) bool {
	_, ok := err.(PathNotFoundError)
	return ok
}

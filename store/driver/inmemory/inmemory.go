// Package inmemory implements driver.StorageDriver backed by a map: a
// driver for tests and single-process throwaway repos, never production
// data.
package inmemory

import (
	"strings"
	"sync"

	"github.com/converge-vcs/converge/store/driver"
)

// Driver is a driver.StorageDriver backed by an in-process map.
type Driver struct {
	mu      sync.RWMutex
	storage map[string][]byte
}

// New returns an empty in-memory driver.
func New() *Driver {
	return &Driver{storage: make(map[string][]byte)}
}

func (d *Driver) GetContent(path string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	content, ok := d.storage[path]
	if !ok {
		return nil, driver.PathNotFoundError{Path: path}
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

func (d *Driver) PutContent(path string, content []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(content))
	copy(cp, content)
	d.storage[path] = cp
	return nil
}

func (d *Driver) Stat(path string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.storage[path]
	return ok, nil
}

func (d *Driver) List(path string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	prefix := path + "/"
	seen := make(map[string]struct{})
	for k := range d.storage {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		seen[prefix+rest] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out, nil
}

func (d *Driver) Move(sourcePath, destPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	content, ok := d.storage[sourcePath]
	if !ok {
		return driver.PathNotFoundError{Path: sourcePath}
	}
	d.storage[destPath] = content
	delete(d.storage, sourcePath)
	return nil
}

func (d *Driver) Delete(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := path + "/"
	deleted := false
	if _, ok := d.storage[path]; ok {
		delete(d.storage, path)
		deleted = true
	}
	for k := range d.storage {
		if strings.HasPrefix(k, prefix) {
			delete(d.storage, k)
			deleted = true
		}
	}
	if !deleted {
		return driver.PathNotFoundError{Path: path}
	}
	return nil
}

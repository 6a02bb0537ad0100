// Package filesystem implements driver.StorageDriver backed by a local
// directory tree. PutContent writes to a uuid-suffixed temp file in the
// same directory, then renames it over the target so a concurrent reader
// never observes a partial write.
package filesystem

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/converge-vcs/converge/store/driver"
)

// Driver stores every path as a file under its root directory.
type Driver struct {
	root string
}

// New returns a Driver rooted at root. The directory is created if absent.
func New(root string) (*Driver, error) {
	if err := os.MkdirAll(root, 0o777); err != nil {
		return nil, err
	}
	return &Driver{root: root}, nil
}

func (d *Driver) fullPath(p string) string {
	return filepath.Join(d.root, filepath.FromSlash(p))
}

func (d *Driver) GetContent(p string) ([]byte, error) {
	b, err := os.ReadFile(d.fullPath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, driver.PathNotFoundError{Path: p}
		}
		return nil, err
	}
	return b, nil
}

// PutContent writes content to a temp file beside the target and renames
// it into place, so a crash or concurrent reader never sees a partial
// write.
func (d *Driver) PutContent(p string, content []byte) error {
	full := d.fullPath(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
		return err
	}

	tmp := fmt.Sprintf("%s.%s.tmp", full, uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, bytes.NewReader(content)); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (d *Driver) Stat(p string) (bool, error) {
	if _, err := os.Stat(d.fullPath(p)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *Driver) List(p string) ([]string, error) {
	full := d.fullPath(p)
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, driver.PathNotFoundError{Path: p}
		}
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, filepath.ToSlash(filepath.Join(p, e.Name())))
	}
	return out, nil
}

func (d *Driver) Move(sourcePath, destPath string) error {
	full := d.fullPath(destPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o777); err != nil {
		return err
	}
	if err := os.Rename(d.fullPath(sourcePath), full); err != nil {
		if os.IsNotExist(err) {
			return driver.PathNotFoundError{Path: sourcePath}
		}
		return err
	}
	return nil
}

func (d *Driver) Delete(p string) error {
	if err := os.RemoveAll(d.fullPath(p)); err != nil {
		return err
	}
	return nil
}

// Package store is the content-addressed object store: blobs, manifests,
// and file recipes are written once under their hash and never modified
// ("write if absent"); snaps are written once under their derived id the
// same way. Every blob, manifest, and recipe read verifies the object's
// bytes hash to the id it was requested under; a snap read checks only
// that the stored snap carries the requested id.
package store

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/store/driver"
)

// Kind names the three content-addressed object namespaces. Each gets its
// own subdirectory so a filesystem driver never mixes object types in one
// directory listing.
type Kind string

const (
	KindBlob     Kind = "blobs"
	KindManifest Kind = "manifests"
	KindRecipe   Kind = "recipes"
)

// Store is the object store: a driver.StorageDriver plus the
// hash-verification and path-layout rules layered on top of it.
type Store struct {
	d driver.StorageDriver
}

// New wraps d as an object store.
func New(d driver.StorageDriver) *Store {
	return &Store{d: d}
}

// objectPath follows the persisted on-disk layout: blobs have no
// extension, manifests/recipes/snaps are ".json". The passed-in driver is
// expected to already be rooted at one repo's data directory.
func objectPath(kind Kind, id objectid.ID) string {
	if kind == KindBlob {
		return path.Join("objects", string(kind), string(id))
	}
	return path.Join("objects", string(kind), string(id)+".json")
}

func snapPath(id objectid.ID) string {
	return path.Join("objects", "snaps", string(id)+".json")
}

// Has reports whether an object of the given kind and id is present.
func (s *Store) Has(kind Kind, id objectid.ID) (bool, error) {
	ok, err := s.d.Stat(objectPath(kind, id))
	if err != nil {
		return false, cerr.New(cerr.Io, "stat %s %s: %v", kind, id, err)
	}
	return ok, nil
}

// GetBytes returns the raw canonical bytes of an object, verified against
// id before being returned.
func (s *Store) GetBytes(kind Kind, id objectid.ID) ([]byte, error) {
	b, err := s.d.GetContent(objectPath(kind, id))
	if err != nil {
		if driver.IsNotExist(err) {
			return nil, cerr.New(cerr.NotFound, "%s %s not found", kind, id)
		}
		return nil, cerr.New(cerr.Io, "read %s %s: %v", kind, id, err)
	}
	if err := objectid.Verify(id, b); err != nil {
		return nil, cerr.New(cerr.IntegrityError, "%s %s failed verification: %v", kind, id, err)
	}
	return b, nil
}

// PutBytes writes canonical bytes under their computed id, if not already
// present ("write if absent" —). Returns the id.
func (s *Store) PutBytes(kind Kind, canonical []byte) (objectid.ID, error) {
	id := objectid.Of(canonical)
	present, err := s.Has(kind, id)
	if err != nil {
		return "", err
	}
	if present {
		return id, nil
	}
	if err := s.d.PutContent(objectPath(kind, id), canonical); err != nil {
		return "", cerr.New(cerr.Io, "write %s %s: %v", kind, id, err)
	}
	return id, nil
}

// PutBytesWithID writes canonical bytes under a caller-supplied id,
// verifying the bytes hash to it before writing. Used when a client
// uploads an object it already claims an id for.
func (s *Store) PutBytesWithID(kind Kind, id objectid.ID, canonical []byte) error {
	if err := objectid.Verify(id, canonical); err != nil {
		return cerr.New(cerr.IntegrityError, "%s %s failed verification: %v", kind, id, err)
	}
	present, err := s.Has(kind, id)
	if err != nil {
		return err
	}
	if present {
		return nil
	}
	if err := s.d.PutContent(objectPath(kind, id), canonical); err != nil {
		return cerr.New(cerr.Io, "write %s %s: %v", kind, id, err)
	}
	return nil
}

// PutBlob stores a raw blob and returns its id.
func (s *Store) PutBlob(content []byte) (objectid.ID, error) {
	return s.PutBytes(KindBlob, content)
}

// GetBlob returns a blob's verified bytes.
func (s *Store) GetBlob(id objectid.ID) ([]byte, error) {
	return s.GetBytes(KindBlob, id)
}

// PutManifest canonicalizes and stores m, returning its id.
func (s *Store) PutManifest(m model.Manifest) (objectid.ID, error) {
	b, err := m.Canonical()
	if err != nil {
		return "", cerr.New(cerr.InvalidInput, "encode manifest: %v", err)
	}
	return s.PutBytes(KindManifest, b)
}

// GetManifest loads and verifies the manifest stored under id.
func (s *Store) GetManifest(id objectid.ID) (model.Manifest, error) {
	b, err := s.GetBytes(KindManifest, id)
	if err != nil {
		return model.Manifest{}, err
	}
	var m model.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return model.Manifest{}, cerr.New(cerr.IntegrityError, "decode manifest %s: %v", id, err)
	}
	return m, nil
}

// PutRecipe canonicalizes and stores a file recipe, returning its id.
func (s *Store) PutRecipe(r model.FileRecipe) (objectid.ID, error) {
	b, err := r.Canonical()
	if err != nil {
		return "", cerr.New(cerr.InvalidInput, "encode recipe: %v", err)
	}
	return s.PutBytes(KindRecipe, b)
}

// GetRecipe loads and verifies the recipe stored under id.
func (s *Store) GetRecipe(id objectid.ID) (model.FileRecipe, error) {
	b, err := s.GetBytes(KindRecipe, id)
	if err != nil {
		return model.FileRecipe{}, err
	}
	var r model.FileRecipe
	if err := json.Unmarshal(b, &r); err != nil {
		return model.FileRecipe{}, cerr.New(cerr.IntegrityError, "decode recipe %s: %v", id, err)
	}
	return r, nil
}

// PutSnap stores a snap under its derived id ("write if absent"); the
// caller computes createdAt before calling so replays are idempotent.
func (s *Store) PutSnap(snap model.Snap) (objectid.ID, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return "", cerr.New(cerr.InvalidInput, "encode snap: %v", err)
	}
	present, err := s.d.Stat(snapPath(snap.ID))
	if err != nil {
		return "", cerr.New(cerr.Io, "stat snap %s: %v", snap.ID, err)
	}
	if !present {
		if err := s.d.PutContent(snapPath(snap.ID), b); err != nil {
			return "", cerr.New(cerr.Io, "write snap %s: %v", snap.ID, err)
		}
	}
	return snap.ID, nil
}

// GetSnap loads a snap by id.
func (s *Store) GetSnap(id objectid.ID) (model.Snap, error) {
	b, err := s.d.GetContent(snapPath(id))
	if err != nil {
		if driver.IsNotExist(err) {
			return model.Snap{}, cerr.New(cerr.NotFound, "snap %s not found", id)
		}
		return model.Snap{}, cerr.New(cerr.Io, "read snap %s: %v", id, err)
	}
	var snap model.Snap
	if err := json.Unmarshal(b, &snap); err != nil {
		return model.Snap{}, cerr.New(cerr.IntegrityError, "decode snap %s: %v", id, err)
	}
	if snap.ID != id {
		return model.Snap{}, cerr.New(cerr.IntegrityError, "snap %s has mismatched id %s", id, snap.ID)
	}
	return snap, nil
}

// Delete removes an object. Used only by GC sweep.
func (s *Store) Delete(kind Kind, id objectid.ID) error {
	if err := s.d.Delete(objectPath(kind, id)); err != nil && !driver.IsNotExist(err) {
		return cerr.New(cerr.Io, "delete %s %s: %v", kind, id, err)
	}
	return nil
}

// DeleteSnap removes a snap. Used only by GC sweep.
func (s *Store) DeleteSnap(id objectid.ID) error {
	if err := s.d.Delete(snapPath(id)); err != nil && !driver.IsNotExist(err) {
		return cerr.New(cerr.Io, "delete snap %s: %v", id, err)
	}
	return nil
}

// WalkKind lists every object id currently stored under kind, for GC's
// sweep phase.
func (s *Store) WalkKind(kind Kind) ([]objectid.ID, error) {
	return s.walkTree(path.Join("objects", string(kind)), kind != KindBlob)
}

// WalkSnaps lists every snap id currently stored, for GC's sweep phase.
func (s *Store) WalkSnaps() ([]objectid.ID, error) {
	return s.walkTree(path.Join("objects", "snaps"), true)
}

func (s *Store) walkTree(root string, stripJSON bool) ([]objectid.ID, error) {
	leaves, err := s.d.List(root)
	if err != nil {
		if driver.IsNotExist(err) {
			return nil, nil
		}
		return nil, cerr.New(cerr.Io, "list %s: %v", root, err)
	}
	ids := make([]objectid.ID, 0, len(leaves))
	for _, leaf := range leaves {
		name := path.Base(leaf)
		if stripJSON {
			name = strings.TrimSuffix(name, ".json")
		}
		ids = append(ids, objectid.ID(name))
	}
	return ids, nil
}

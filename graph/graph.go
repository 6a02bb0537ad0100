// Package graph walks the manifest/recipe object tree rooted at a
// manifest id: collecting every reachable object id, checking whether any
// reachable manifest still holds an unresolved superposition, and
// validating that every referenced object is actually present. Content
// addressing makes the object graph acyclic, so a visited set on manifest
// ids is enough to walk shared subtrees exactly once.
package graph

import (
	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/store"
)

// Reachable is the full set of object ids referenced, directly or
// transitively, from one manifest tree.
type Reachable struct {
	Manifests map[objectid.ID]struct{}
	Blobs     map[objectid.ID]struct{}
	Recipes   map[objectid.ID]struct{}
}

func newReachable() Reachable {
	return Reachable{
		Manifests: map[objectid.ID]struct{}{},
		Blobs:     map[objectid.ID]struct{}{},
		Recipes:   map[objectid.ID]struct{}{},
	}
}

// Collect walks the manifest tree rooted at root and returns every
// reachable manifest, blob, and recipe id. A manifest entry in
// Superposition state contributes every one of its variants' references,
// since an unresolved bundle keeps every variant alive.
func Collect(s *store.Store, root objectid.ID) (Reachable, error) {
	r := newReachable()
	if err := collect(s, root, r); err != nil {
		return Reachable{}, err
	}
	return r, nil
}

func collect(s *store.Store, manifestID objectid.ID, into Reachable) error {
	if _, seen := into.Manifests[manifestID]; seen {
		return nil
	}
	into.Manifests[manifestID] = struct{}{}

	m, err := s.GetManifest(manifestID)
	if err != nil {
		return err
	}
	for _, e := range m.Entries {
		if err := collectKind(s, e.Kind, into); err != nil {
			return err
		}
	}
	return nil
}

func collectKind(s *store.Store, kind model.EntryKind, into Reachable) error {
	switch v := kind.(type) {
	case model.File:
		into.Blobs[v.Blob] = struct{}{}
	case model.FileChunks:
		return collectRecipe(s, v.Recipe, into)
	case model.Dir:
		return collect(s, v.Manifest, into)
	case model.Symlink, model.Tombstone:
		// no referenced objects
	case model.Superposition:
		for _, variant := range v.Variants {
			if err := collectKind(s, variant.Kind, into); err != nil {
				return err
			}
		}
	}
	return nil
}

func collectRecipe(s *store.Store, recipeID objectid.ID, into Reachable) error {
	if _, seen := into.Recipes[recipeID]; seen {
		return nil
	}
	into.Recipes[recipeID] = struct{}{}

	recipe, err := s.GetRecipe(recipeID)
	if err != nil {
		return err
	}
	for _, c := range recipe.Chunks {
		into.Blobs[c.Blob] = struct{}{}
	}
	return nil
}

// HasSuperposition reports whether any manifest reachable from root still
// contains a Superposition entry.
func HasSuperposition(s *store.Store, root objectid.ID) (bool, error) {
	return hasSuperposition(s, root, map[objectid.ID]struct{}{})
}

func hasSuperposition(s *store.Store, manifestID objectid.ID, visited map[objectid.ID]struct{}) (bool, error) {
	if _, seen := visited[manifestID]; seen {
		return false, nil
	}
	visited[manifestID] = struct{}{}

	m, err := s.GetManifest(manifestID)
	if err != nil {
		return false, err
	}
	for _, e := range m.Entries {
		switch v := e.Kind.(type) {
		case model.Superposition:
			return true, nil
		case model.Dir:
			found, err := hasSuperposition(s, v.Manifest, visited)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
	}
	return false, nil
}

// ValidateAvailability confirms every manifest and recipe reachable from
// root is present, and, when requireBlobs is set, that every blob is too.
// Manifests and recipes must always be present; requireBlobs is false for
// metadata-only publications and true for anything that must be
// promotable into a release-enabled gate.
func ValidateAvailability(s *store.Store, root objectid.ID, requireBlobs bool) error {
	reach, err := Collect(s, root)
	if err != nil {
		return err
	}
	for id := range reach.Manifests {
		ok, err := s.Has(store.KindManifest, id)
		if err != nil {
			return err
		}
		if !ok {
			return cerr.New(cerr.IntegrityError, "manifest %s unreachable in store", id)
		}
	}
	for id := range reach.Recipes {
		ok, err := s.Has(store.KindRecipe, id)
		if err != nil {
			return err
		}
		if !ok {
			return cerr.New(cerr.IntegrityError, "recipe %s unreachable in store", id)
		}
	}
	if requireBlobs {
		for id := range reach.Blobs {
			ok, err := s.Has(store.KindBlob, id)
			if err != nil {
				return err
			}
			if !ok {
				return cerr.New(cerr.IntegrityError, "blob %s unreachable in store", id)
			}
		}
	}
	return nil
}

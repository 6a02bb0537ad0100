package workspace

import (
	"path"
	"sort"

	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/store"
)

// ChangeKind classifies one status line.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeModified ChangeKind = "modified"
	ChangeRenamed  ChangeKind = "renamed"
)

// Change is one difference between two manifest trees. Renamed changes
// carry both ends of the move.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Path string     `json:"path"`
	From string     `json:"from,omitempty"`
}

// identityKey is the content identity of a leaf entry: the blob id,
// recipe id, or symlink target. Two paths with equal identity keys hold
// identical content.
type identityKey struct {
	kind  string
	value string
}

func leafIdentity(kind model.EntryKind) (identityKey, bool) {
	switch v := kind.(type) {
	case model.File:
		return identityKey{kind: "blob", value: string(v.Blob)}, true
	case model.FileChunks:
		return identityKey{kind: "recipe", value: string(v.Recipe)}, true
	case model.Symlink:
		return identityKey{kind: "symlink", value: v.Target}, true
	default:
		return identityKey{}, false
	}
}

// collectIdentities walks a manifest tree recording path → identity for
// every leaf entry. Dir entries recurse; superpositions are skipped
// (status is a workspace-side view, merged trees are not diffed here).
func collectIdentities(s *store.Store, prefix string, manifestID objectid.ID, out map[string]identityKey) error {
	m, err := s.GetManifest(manifestID)
	if err != nil {
		return err
	}
	for _, e := range m.Entries {
		p := e.Name
		if prefix != "" {
			p = path.Join(prefix, e.Name)
		}
		if dir, ok := e.Kind.(model.Dir); ok {
			if err := collectIdentities(s, p, dir.Manifest, out); err != nil {
				return err
			}
			continue
		}
		if key, ok := leafIdentity(e.Kind); ok {
			out[p] = key
		}
	}
	return nil
}

// DiffTrees compares two manifest trees and reports changes, pairing an
// added and a deleted path with the same content identity into a single
// rename.
func DiffTrees(s *store.Store, baseRoot, currentRoot objectid.ID) ([]Change, error) {
	base := map[string]identityKey{}
	if baseRoot != "" {
		if err := collectIdentities(s, "", baseRoot, base); err != nil {
			return nil, err
		}
	}
	current := map[string]identityKey{}
	if currentRoot != "" {
		if err := collectIdentities(s, "", currentRoot, current); err != nil {
			return nil, err
		}
	}

	var added, deleted []string
	var changes []Change
	for p, cur := range current {
		prev, ok := base[p]
		if !ok {
			added = append(added, p)
			continue
		}
		if prev != cur {
			changes = append(changes, Change{Kind: ChangeModified, Path: p})
		}
	}
	for p := range base {
		if _, ok := current[p]; !ok {
			deleted = append(deleted, p)
		}
	}
	sort.Strings(added)
	sort.Strings(deleted)

	// Rename pairing: a deleted path whose identity reappears at exactly
	// one added path is reported as a move rather than delete+add.
	addedByIdentity := map[identityKey][]string{}
	for _, p := range added {
		k := current[p]
		addedByIdentity[k] = append(addedByIdentity[k], p)
	}
	renamedFrom := map[string]string{} // added path -> deleted path
	usedDeleted := map[string]bool{}
	for _, p := range deleted {
		candidates := addedByIdentity[base[p]]
		if len(candidates) != 1 {
			continue
		}
		if _, taken := renamedFrom[candidates[0]]; !taken {
			renamedFrom[candidates[0]] = p
			usedDeleted[p] = true
		}
	}

	for _, p := range added {
		if from, ok := renamedFrom[p]; ok {
			changes = append(changes, Change{Kind: ChangeRenamed, Path: p, From: from})
		} else {
			changes = append(changes, Change{Kind: ChangeAdded, Path: p})
		}
	}
	for _, p := range deleted {
		if !usedDeleted[p] {
			changes = append(changes, Change{Kind: ChangeDeleted, Path: p})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// Package merge implements the merge engine: coalescing N input
// manifests into a single root manifest with explicit Superposition
// entries wherever inputs diverge. The per-directory algorithm runs
// top-down: inputs sorted by publication id, entries grouped by name, and
// a case analysis (identical / all-Dir / divergent) at every name.
package merge

import (
	"sort"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/store"
)

// Input is one publication's contribution to a merge: its id (used both
// to sort inputs and to tag superposition variants) and its root
// manifest id.
type Input struct {
	PublicationID string
	ManifestID    objectid.ID
}

// Coalesce merges inputs' directory manifests into one root manifest,
// writing every newly produced manifest to s, and returns the resulting
// root manifest id. Inputs are sorted by PublicationID first so the
// result depends only on the input multiset, not caller order.
func Coalesce(s *store.Store, inputs []Input) (objectid.ID, error) {
	sorted := make([]Input, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PublicationID < sorted[j].PublicationID })
	return mergeDir(s, sorted)
}

func mergeDir(s *store.Store, inputs []Input) (objectid.ID, error) {
	type slot struct {
		kind    model.EntryKind
		present bool
	}
	byName := map[string]map[string]slot{} // name -> publication id -> slot

	for _, in := range inputs {
		m, err := s.GetManifest(in.ManifestID)
		if err != nil {
			return "", err
		}
		for _, e := range m.Entries {
			if byName[e.Name] == nil {
				byName[e.Name] = map[string]slot{}
			}
			byName[e.Name][in.PublicationID] = slot{kind: e.Kind, present: true}
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]model.ManifestEntry, 0, len(names))
	for _, name := range names {
		slots := byName[name]

		kinds := make([]struct {
			pubID string
			kind  model.EntryKind // nil when absent
		}, len(inputs))
		for i, in := range inputs {
			sl, ok := slots[in.PublicationID]
			if ok {
				kinds[i].kind = sl.kind
			}
			kinds[i].pubID = in.PublicationID
		}

		entry, err := mergeName(s, name, kinds)
		if err != nil {
			return "", err
		}
		entries = append(entries, entry)
	}

	manifest := model.Manifest{Version: 1, Entries: entries}
	return s.PutManifest(manifest)
}

func mergeName(s *store.Store, name string, kinds []struct {
	pubID string
	kind  model.EntryKind
}) (model.ManifestEntry, error) {
	allPresent := true
	allDir := true
	var first model.EntryKind
	firstSet := false
	allIdentical := true

	for _, k := range kinds {
		if k.kind == nil {
			allPresent = false
			allDir = false
			allIdentical = false
			continue
		}
		if _, ok := k.kind.(model.Dir); !ok {
			allDir = false
		}
		if !firstSet {
			first = k.kind
			firstSet = true
		} else if !kindEqual(first, k.kind) {
			allIdentical = false
		}
	}

	// step 3: identical content and no source absent.
	if allPresent && allIdentical {
		return model.ManifestEntry{Name: name, Kind: first}, nil
	}

	// step 4: all present and all Dir -> recursively merge.
	if allPresent && allDir {
		subInputs := make([]Input, len(kinds))
		for i, k := range kinds {
			subInputs[i] = Input{PublicationID: k.pubID, ManifestID: k.kind.(model.Dir).Manifest}
		}
		mergedID, err := mergeDir(s, subInputs)
		if err != nil {
			return model.ManifestEntry{}, err
		}
		return model.ManifestEntry{Name: name, Kind: model.Dir{Manifest: mergedID}}, nil
	}

	// step 5: superposition.
	variants := make([]model.SuperpositionVariant, len(kinds))
	for i, k := range kinds {
		variants[i] = model.SuperpositionVariant{SourceTag: k.pubID, Kind: flattenVariantKind(k.kind)}
	}
	return model.ManifestEntry{Name: name, Kind: model.Superposition{Variants: variants}}, nil
}

// flattenVariantKind maps a manifest entry kind to its superposition
// variant form: an absent source (nil) or a nested Superposition both
// become Tombstone, since nested superpositions are not allowed in merge
// outputs.
func flattenVariantKind(kind model.EntryKind) model.EntryKind {
	switch kind.(type) {
	case nil:
		return model.Tombstone{}
	case model.Superposition:
		return model.Tombstone{}
	default:
		return kind
	}
}

// kindEqual reports whether two entry kinds are identical content: same
// blob/recipe/sub-manifest id/symlink target and matching mode/size.
// File, FileChunks, Dir, and Symlink are comparable structs, so a plain ==
// suffices for them. Absent sources never reach here, but a Superposition
// present in an input does: it falls to the default case and never
// compares equal, not even to an identical Superposition.
func kindEqual(a, b model.EntryKind) bool {
	switch av := a.(type) {
	case model.File:
		bv, ok := b.(model.File)
		return ok && av == bv
	case model.FileChunks:
		bv, ok := b.(model.FileChunks)
		return ok && av == bv
	case model.Dir:
		bv, ok := b.(model.Dir)
		return ok && av == bv
	case model.Symlink:
		bv, ok := b.(model.Symlink)
		return ok && av == bv
	default:
		return false
	}
}

// ValidateInputsShareRoot is a defensive check used by bundle creation: a
// merge with zero inputs is invalid input, never an empty manifest.
func ValidateInputsShareRoot(inputs []Input) error {
	if len(inputs) == 0 {
		return cerr.New(cerr.InvalidInput, "merge requires at least one input")
	}
	return nil
}

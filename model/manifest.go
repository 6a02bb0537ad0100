// Package model defines the wire types of the object graph: manifests,
// snaps, publications, bundles, gates, promotions, releases, lane heads,
// and resolutions. The entry-kind and variant-kind sum types are modeled
// as a small interface plus an externally-tagged JSON envelope driven by
// a "type" discriminator field.
package model

import (
	"encoding/json"
	"fmt"

	"github.com/converge-vcs/converge/objectid"
)

// EntryKind is the sum type shared by a manifest entry's payload, a
// superposition variant's payload, and a variant key's payload. Which of
// File/FileChunks/Dir/Symlink/Superposition/Tombstone is legal depends on
// context:
//   - ManifestEntry.Kind: File, FileChunks, Dir, Symlink, Superposition.
//   - SuperpositionVariant.Kind / VariantKey.Kind: File, FileChunks, Dir,
//     Symlink, Tombstone.
type EntryKind interface {
	entryKindType() string
}

// File is a regular file stored as a single blob.
type File struct {
	Blob objectid.ID
	Mode uint32
	Size uint64
}

func (File) entryKindType() string { return "File" }

// FileChunks is a large file reconstructed from an ordered recipe of blobs.
type FileChunks struct {
	Recipe objectid.ID
	Mode   uint32
	Size   uint64
}

func (FileChunks) entryKindType() string { return "FileChunks" }

// Dir is a subtree reference to another manifest.
type Dir struct {
	Manifest objectid.ID
}

func (Dir) entryKindType() string { return "Dir" }

// Symlink is a symbolic link entry.
type Symlink struct {
	Target string
}

func (Symlink) entryKindType() string { return "Symlink" }

// Tombstone marks the explicit absence of a name in one merge source.
type Tombstone struct{}

func (Tombstone) entryKindType() string { return "Tombstone" }

// Superposition is a manifest entry representing unresolved divergence
// across merge inputs. It only ever appears as a ManifestEntry.Kind, never
// nested inside a SuperpositionVariant (merge flattens any nested
// superposition found in an input to a Tombstone variant).
type Superposition struct {
	Variants []SuperpositionVariant
}

func (Superposition) entryKindType() string { return "Superposition" }

// SuperpositionVariant is one source's contribution to a Superposition
// entry: a source tag plus the entry kind that source held at this path
// (or Tombstone if the source lacked the name).
type SuperpositionVariant struct {
	SourceTag string
	Kind      EntryKind // File, FileChunks, Dir, Symlink, or Tombstone
}

// Key derives this variant's content-stable VariantKey.
func (v SuperpositionVariant) Key() VariantKey {
	return VariantKey{SourceTag: v.SourceTag, Kind: v.Kind}
}

// ManifestEntry is one named entry in a Manifest.
type ManifestEntry struct {
	Name string
	Kind EntryKind
}

// Manifest is an ordered, by-name list of directory entries.
// Entries must be kept strictly sorted by Name with no duplicates; callers
// constructing manifests (merge, resolve) are responsible for this
// invariant; nothing checks it when a manifest is read.
type Manifest struct {
	Version uint32          `json:"version"`
	Entries []ManifestEntry `json:"entries"`
}

// --- canonical JSON envelope ---

type entryKindWire struct {
	Type     string        `json:"type"`
	Blob     *objectid.ID  `json:"blob,omitempty"`
	Recipe   *objectid.ID  `json:"recipe,omitempty"`
	Mode     *uint32       `json:"mode,omitempty"`
	Size     *uint64       `json:"size,omitempty"`
	Manifest *objectid.ID  `json:"manifest,omitempty"`
	Target   *string       `json:"target,omitempty"`
	Variants []wireVariant `json:"variants,omitempty"`
}

func wireFromEntryKind(k EntryKind) entryKindWire {
	switch v := k.(type) {
	case File:
		return entryKindWire{Type: "File", Blob: &v.Blob, Mode: &v.Mode, Size: &v.Size}
	case FileChunks:
		return entryKindWire{Type: "FileChunks", Recipe: &v.Recipe, Mode: &v.Mode, Size: &v.Size}
	case Dir:
		return entryKindWire{Type: "Dir", Manifest: &v.Manifest}
	case Symlink:
		return entryKindWire{Type: "Symlink", Target: &v.Target}
	case Tombstone:
		return entryKindWire{Type: "Tombstone"}
	case Superposition:
		variants := make([]wireVariant, len(v.Variants))
		for i, vv := range v.Variants {
			variants[i] = wireVariant{Source: vv.SourceTag, entryKindWire: wireFromEntryKind(vv.Kind)}
		}
		return entryKindWire{Type: "Superposition", Variants: variants}
	default:
		panic(fmt.Sprintf("model: unknown EntryKind %T", k))
	}
}

func (w entryKindWire) toEntryKind() (EntryKind, error) {
	switch w.Type {
	case "File":
		if w.Blob == nil || w.Mode == nil || w.Size == nil {
			return nil, fmt.Errorf("model: File entry missing fields")
		}
		return File{Blob: *w.Blob, Mode: *w.Mode, Size: *w.Size}, nil
	case "FileChunks":
		if w.Recipe == nil || w.Mode == nil || w.Size == nil {
			return nil, fmt.Errorf("model: FileChunks entry missing fields")
		}
		return FileChunks{Recipe: *w.Recipe, Mode: *w.Mode, Size: *w.Size}, nil
	case "Dir":
		if w.Manifest == nil {
			return nil, fmt.Errorf("model: Dir entry missing manifest field")
		}
		return Dir{Manifest: *w.Manifest}, nil
	case "Symlink":
		if w.Target == nil {
			return nil, fmt.Errorf("model: Symlink entry missing target field")
		}
		return Symlink{Target: *w.Target}, nil
	case "Tombstone":
		return Tombstone{}, nil
	case "Superposition":
		variants := make([]SuperpositionVariant, len(w.Variants))
		for i, wv := range w.Variants {
			kind, err := wv.entryKindWire.toEntryKind()
			if err != nil {
				return nil, err
			}
			variants[i] = SuperpositionVariant{SourceTag: wv.Source, Kind: kind}
		}
		return Superposition{Variants: variants}, nil
	default:
		return nil, fmt.Errorf("model: unknown entry type %q", w.Type)
	}
}

type wireVariant struct {
	Source string `json:"source"`
	entryKindWire
}

type wireManifestEntry struct {
	Name string `json:"name"`
	entryKindWire
}

func (e ManifestEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireManifestEntry{Name: e.Name, entryKindWire: wireFromEntryKind(e.Kind)})
}

func (e *ManifestEntry) UnmarshalJSON(b []byte) error {
	var w wireManifestEntry
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	kind, err := w.entryKindWire.toEntryKind()
	if err != nil {
		return err
	}
	e.Name = w.Name
	e.Kind = kind
	return nil
}

func (v SuperpositionVariant) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireVariant{Source: v.SourceTag, entryKindWire: wireFromEntryKind(v.Kind)})
}

func (v *SuperpositionVariant) UnmarshalJSON(b []byte) error {
	var w wireVariant
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	kind, err := w.entryKindWire.toEntryKind()
	if err != nil {
		return err
	}
	v.SourceTag = w.Source
	v.Kind = kind
	return nil
}

// Canonical returns the deterministic JSON bytes of m whose hash is m's
// object id ()").
// Manifest entries must already be sorted by Name; Canonical does not sort.
func (m Manifest) Canonical() ([]byte, error) {
	return json.Marshal(m)
}

// ID computes the content-addressed id of m.
func (m Manifest) ID() (objectid.ID, error) {
	b, err := m.Canonical()
	if err != nil {
		return "", err
	}
	return objectid.Of(b), nil
}

// HasSuperposition reports whether any entry at this level (not recursing
// into Dir/Superposition/Dir) is itself a Superposition.
func (m Manifest) HasSuperposition() bool {
	for _, e := range m.Entries {
		if _, ok := e.Kind.(Superposition); ok {
			return true
		}
	}
	return false
}

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/converge-vcs/converge/objectid"
)

// VariantKey is the content-stable identity of a superposition variant:
// the source tag plus the variant's kind-specific data. Equal variants
// (including across a reordered variant list) have equal keys.
type VariantKey struct {
	SourceTag string
	Kind      EntryKind // File, FileChunks, Dir, Symlink, or Tombstone
}

func (k VariantKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireVariant{Source: k.SourceTag, entryKindWire: wireFromEntryKind(k.Kind)})
}

func (k *VariantKey) UnmarshalJSON(b []byte) error {
	var w wireVariant
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	kind, err := w.entryKindWire.toEntryKind()
	if err != nil {
		return err
	}
	k.SourceTag = w.Source
	k.Kind = kind
	return nil
}

// Equal reports whether two variant keys denote the same variant content.
// Comparison goes through the wire representation rather than a bare `==`
// so a future non-comparable EntryKind (e.g. Superposition) can never
// panic here.
func (k VariantKey) Equal(other VariantKey) bool {
	if k.SourceTag != other.SourceTag {
		return false
	}
	return reflect.DeepEqual(wireFromEntryKind(k.Kind), wireFromEntryKind(other.Kind))
}

// ResolutionDecisionKind distinguishes the two forms a ResolutionDecision
// wire value may take.
type ResolutionDecisionKind int

const (
	// DecisionIndex is the legacy 0-based index into a variant list.
	DecisionIndex ResolutionDecisionKind = iota
	// DecisionKey is the current, content-stable decision form.
	DecisionKey
)

// ResolutionDecision is an untagged union on the wire: a bare JSON
// integer is a legacy Index, an object with a "source" field is a Key.
type ResolutionDecision struct {
	Kind  ResolutionDecisionKind
	Index uint32
	Key   VariantKey
}

// IndexDecision constructs a legacy index-based decision.
func IndexDecision(i uint32) ResolutionDecision {
	return ResolutionDecision{Kind: DecisionIndex, Index: i}
}

// KeyDecision constructs a content-key decision.
func KeyDecision(k VariantKey) ResolutionDecision {
	return ResolutionDecision{Kind: DecisionKey, Key: k}
}

func (d ResolutionDecision) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case DecisionIndex:
		return json.Marshal(d.Index)
	case DecisionKey:
		return json.Marshal(d.Key)
	default:
		return nil, fmt.Errorf("model: unknown ResolutionDecision kind %d", d.Kind)
	}
}

func (d *ResolutionDecision) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && (trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9')) {
		var idx uint32
		if err := json.Unmarshal(trimmed, &idx); err != nil {
			return err
		}
		d.Kind = DecisionIndex
		d.Index = idx
		return nil
	}

	var key VariantKey
	if err := json.Unmarshal(trimmed, &key); err != nil {
		return err
	}
	d.Kind = DecisionKey
	d.Key = key
	return nil
}

// Resolution is a client's map from conflict path to chosen variant.
type Resolution struct {
	Version      uint32                         `json:"version"`
	BundleID     string                         `json:"bundle_id"`
	RootManifest objectid.ID                    `json:"root_manifest"`
	CreatedAt    string                         `json:"created_at"`
	Decisions    map[string]ResolutionDecision  `json:"decisions"`
}

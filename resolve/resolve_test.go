package resolve

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/store"
	"github.com/converge-vcs/converge/store/driver/inmemory"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(inmemory.New())
}

func putManifest(t *testing.T, s *store.Store, entries...model.ManifestEntry) objectid.ID {
	t.Helper()
	id, err := s.PutManifest(model.Manifest{Version: 1, Entries: entries})
	require.NoError(t, err)
	return id
}

func putFile(t *testing.T, s *store.Store, content string) model.File {
	t.Helper()
	blob, err := s.PutBlob([]byte(content))
	require.NoError(t, err)
	return model.File{Blob: blob, Mode: 0o100644, Size: uint64(len(content))}
}

// TestOrderIndependentVariantKeys: two manifests carry the same
// superposition variants in opposite order; a key-based
// decision resolves to the same content regardless of order.
func TestOrderIndependentVariantKeys(t *testing.T) {
	s := newTestStore(t)
	v1 := putFile(t, s, "one\n")
	v2 := putFile(t, s, "two\n")

	variant1 := model.SuperpositionVariant{SourceTag: "pub-1", Kind: v1}
	variant2 := model.SuperpositionVariant{SourceTag: "pub-2", Kind: v2}

	rootA := putManifest(t, s, model.ManifestEntry{
		Name: "a.txt",
		Kind: model.Superposition{Variants: []model.SuperpositionVariant{variant1, variant2}},
	})
	rootB := putManifest(t, s, model.ManifestEntry{
		Name: "a.txt",
		Kind: model.Superposition{Variants: []model.SuperpositionVariant{variant2, variant1}},
	})

	decisions := map[string]model.ResolutionDecision{"a.txt": model.KeyDecision(variant2.Key())}

	resolvedA, err := Apply(s, rootA, decisions)
	require.NoError(t, err)
	resolvedB, err := Apply(s, rootB, decisions)
	require.NoError(t, err)

	require.Equal(t, resolvedA, resolvedB)

	m, err := s.GetManifest(resolvedA)
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	require.Equal(t, "a.txt", m.Entries[0].Name)
	require.Equal(t, v2, m.Entries[0].Kind)
}

// TestValidateReportsExtraneousMissingInvalid checks that one report
// carries extraneous and invalid-key paths together, and that an empty
// decision map reports the superposition path as missing.
func TestValidateReportsExtraneousMissingInvalid(t *testing.T) {
	s := newTestStore(t)
	v1 := model.SuperpositionVariant{SourceTag: "pub-1", Kind: putFile(t, s, "one\n")}
	v2 := model.SuperpositionVariant{SourceTag: "pub-2", Kind: putFile(t, s, "two\n")}
	root := putManifest(t, s, model.ManifestEntry{
		Name: "a.txt",
		Kind: model.Superposition{Variants: []model.SuperpositionVariant{v1, v2}},
	})

	wrongKey := model.VariantKey{SourceTag: "pub-3", Kind: model.Tombstone{}}
	report, err := Validate(s, root, map[string]model.ResolutionDecision{
		"extra.txt": model.IndexDecision(0),
		"a.txt":     model.KeyDecision(wrongKey),
	})
	require.NoError(t, err)
	require.False(t, report.OK)
	require.Empty(t, report.Missing)
	require.Equal(t, []string{"extra.txt"}, report.Extraneous)
	require.Equal(t, []string{"a.txt"}, report.InvalidKeys)

	emptyReport, err := Validate(s, root, map[string]model.ResolutionDecision{})
	require.NoError(t, err)
	require.False(t, emptyReport.OK)
	require.Equal(t, []string{"a.txt"}, emptyReport.Missing)
}

func TestValidateOutOfRangeIndex(t *testing.T) {
	s := newTestStore(t)
	v1 := model.SuperpositionVariant{SourceTag: "pub-1", Kind: putFile(t, s, "one\n")}
	root := putManifest(t, s, model.ManifestEntry{
		Name: "a.txt",
		Kind: model.Superposition{Variants: []model.SuperpositionVariant{v1}},
	})

	report, err := Validate(s, root, map[string]model.ResolutionDecision{"a.txt": model.IndexDecision(5)})
	require.NoError(t, err)
	require.False(t, report.OK)
	require.Equal(t, []string{"a.txt"}, report.OutOfRange)
}

func TestApplyRejectsInvalidResolution(t *testing.T) {
	s := newTestStore(t)
	v1 := model.SuperpositionVariant{SourceTag: "pub-1", Kind: putFile(t, s, "one\n")}
	root := putManifest(t, s, model.ManifestEntry{
		Name: "a.txt",
		Kind: model.Superposition{Variants: []model.SuperpositionVariant{v1}},
	})

	_, err := Apply(s, root, map[string]model.ResolutionDecision{})
	require.Error(t, err)
}

func TestApplyResolvedTreeHasNoSuperpositions(t *testing.T) {
	s := newTestStore(t)
	v1 := model.SuperpositionVariant{SourceTag: "pub-1", Kind: putFile(t, s, "one\n")}
	v2 := model.SuperpositionVariant{SourceTag: "pub-2", Kind: putFile(t, s, "two\n")}
	root := putManifest(t, s, model.ManifestEntry{
		Name: "a.txt",
		Kind: model.Superposition{Variants: []model.SuperpositionVariant{v1, v2}},
	})

	resolved, err := Apply(s, root, map[string]model.ResolutionDecision{"a.txt": model.KeyDecision(v1.Key())})
	require.NoError(t, err)

	report, err := Validate(s, resolved, map[string]model.ResolutionDecision{})
	require.NoError(t, err)
	require.True(t, report.OK)
}

func TestApplyTombstoneDropsEntry(t *testing.T) {
	s := newTestStore(t)
	present := model.SuperpositionVariant{SourceTag: "pub-1", Kind: putFile(t, s, "present\n")}
	absent := model.SuperpositionVariant{SourceTag: "pub-2", Kind: model.Tombstone{}}
	root := putManifest(t, s, model.ManifestEntry{
		Name: "a.txt",
		Kind: model.Superposition{Variants: []model.SuperpositionVariant{present, absent}},
	})

	resolved, err := Apply(s, root, map[string]model.ResolutionDecision{"a.txt": model.KeyDecision(absent.Key())})
	require.NoError(t, err)

	m, err := s.GetManifest(resolved)
	require.NoError(t, err)
	require.Empty(t, m.Entries)
}

func TestUpgradeLegacyDecisions(t *testing.T) {
	s := newTestStore(t)
	v1 := model.SuperpositionVariant{SourceTag: "pub-1", Kind: putFile(t, s, "one\n")}
	v2 := model.SuperpositionVariant{SourceTag: "pub-2", Kind: putFile(t, s, "two\n")}
	root := putManifest(t, s, model.ManifestEntry{
		Name: "a.txt",
		Kind: model.Superposition{Variants: []model.SuperpositionVariant{v1, v2}},
	})

	legacy := map[string]model.ResolutionDecision{"a.txt": model.IndexDecision(1)}
	upgraded, err := UpgradeLegacyDecisions(s, root, legacy)
	require.NoError(t, err)
	require.Equal(t, model.DecisionKey, upgraded["a.txt"].Kind)
	require.True(t, upgraded["a.txt"].Key.Equal(v2.Key()))

	resolved, err := Apply(s, root, upgraded)
	require.NoError(t, err)
	m, err := s.GetManifest(resolved)
	require.NoError(t, err)
	require.Equal(t, v2.Kind, m.Entries[0].Kind)
}

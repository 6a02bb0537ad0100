package merge

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

func TestCoalesceIdenticalEntryCollapses(t *testing.T) {
	s := newTestStore(t)
	f := putFile(t, s, "same\n")
	m1 := putManifest(t, s, model.ManifestEntry{Name: "a.txt", Kind: f})
	m2 := putManifest(t, s, model.ManifestEntry{Name: "a.txt", Kind: f})

	root, err := Coalesce(s, []Input{{PublicationID: "p1", ManifestID: m1}, {PublicationID: "p2", ManifestID: m2}})
	require.NoError(t, err)

	merged, err := s.GetManifest(root)
	require.NoError(t, err)
	require.Len(t, merged.Entries, 1)
	require.Equal(t, f, merged.Entries[0].Kind)
}

func TestCoalesceDivergentEntryProducesSuperposition(t *testing.T) {
	s := newTestStore(t)
	f1 := putFile(t, s, "one\n")
	f2 := putFile(t, s, "two\n")
	m1 := putManifest(t, s, model.ManifestEntry{Name: "a.txt", Kind: f1})
	m2 := putManifest(t, s, model.ManifestEntry{Name: "a.txt", Kind: f2})

	root, err := Coalesce(s, []Input{{PublicationID: "pub-1", ManifestID: m1}, {PublicationID: "pub-2", ManifestID: m2}})
	require.NoError(t, err)

	merged, err := s.GetManifest(root)
	require.NoError(t, err)
	require.Len(t, merged.Entries, 1)

	sp, ok := merged.Entries[0].Kind.(model.Superposition)
	require.True(t, ok)
	require.Len(t, sp.Variants, 2)
	require.Equal(t, "pub-1", sp.Variants[0].SourceTag)
	require.Equal(t, f1, sp.Variants[0].Kind)
	require.Equal(t, "pub-2", sp.Variants[1].SourceTag)
	require.Equal(t, f2, sp.Variants[1].Kind)
}

func TestCoalesceAbsentSourceBecomesTombstoneVariant(t *testing.T) {
	s := newTestStore(t)
	f := putFile(t, s, "only-in-one\n")
	m1 := putManifest(t, s, model.ManifestEntry{Name: "a.txt", Kind: f})
	m2 := putManifest(t, s) // no entries: "a.txt" absent from this source

	root, err := Coalesce(s, []Input{{PublicationID: "pub-1", ManifestID: m1}, {PublicationID: "pub-2", ManifestID: m2}})
	require.NoError(t, err)

	merged, err := s.GetManifest(root)
	require.NoError(t, err)
	require.Len(t, merged.Entries, 1)
	sp := merged.Entries[0].Kind.(model.Superposition)
	require.Equal(t, model.Tombstone{}, sp.Variants[1].Kind)
}

func TestCoalesceRecursesIntoSharedDirs(t *testing.T) {
	s := newTestStore(t)
	fa := putFile(t, s, "a\n")
	fb := putFile(t, s, "b\n")
	sub1 := putManifest(t, s, model.ManifestEntry{Name: "inner.txt", Kind: fa})
	sub2 := putManifest(t, s, model.ManifestEntry{Name: "inner.txt", Kind: fb})

	m1 := putManifest(t, s, model.ManifestEntry{Name: "dir", Kind: model.Dir{Manifest: sub1}})
	m2 := putManifest(t, s, model.ManifestEntry{Name: "dir", Kind: model.Dir{Manifest: sub2}})

	root, err := Coalesce(s, []Input{{PublicationID: "pub-1", ManifestID: m1}, {PublicationID: "pub-2", ManifestID: m2}})
	require.NoError(t, err)

	merged, err := s.GetManifest(root)
	require.NoError(t, err)
	require.Len(t, merged.Entries, 1)
	dirEntry := merged.Entries[0].Kind.(model.Dir)

	subMerged, err := s.GetManifest(dirEntry.Manifest)
	require.NoError(t, err)
	require.Len(t, subMerged.Entries, 1)
	_, ok := subMerged.Entries[0].Kind.(model.Superposition)
	require.True(t, ok, "divergent inner file should itself become a superposition")
}

func TestCoalesceIsInputOrderIndependent(t *testing.T) {
	s := newTestStore(t)
	f1 := putFile(t, s, "one\n")
	f2 := putFile(t, s, "two\n")
	m1 := putManifest(t, s, model.ManifestEntry{Name: "a.txt", Kind: f1})
	m2 := putManifest(t, s, model.ManifestEntry{Name: "a.txt", Kind: f2})

	rootAB, err := Coalesce(s, []Input{{PublicationID: "p1", ManifestID: m1}, {PublicationID: "p2", ManifestID: m2}})
	require.NoError(t, err)
	rootBA, err := Coalesce(s, []Input{{PublicationID: "p2", ManifestID: m2}, {PublicationID: "p1", ManifestID: m1}})
	require.NoError(t, err)

	require.Equal(t, rootAB, rootBA)
}

func TestCoalesceSingleInputNoSuperpositionsReturnsEquivalentTree(t *testing.T) {
	s := newTestStore(t)
	f := putFile(t, s, "solo\n")
	m := putManifest(t, s, model.ManifestEntry{Name: "solo.txt", Kind: f})

	root, err := Coalesce(s, []Input{{PublicationID: "only", ManifestID: m}})
	require.NoError(t, err)

	merged, err := s.GetManifest(root)
	require.NoError(t, err)
	require.Len(t, merged.Entries, 1)
	require.Equal(t, f, merged.Entries[0].Kind)
}

func TestCoalesceIsIdempotentAcrossCalls(t *testing.T) {
	s := newTestStore(t)
	f1 := putFile(t, s, "one\n")
	f2 := putFile(t, s, "two\n")
	m1 := putManifest(t, s, model.ManifestEntry{Name: "a.txt", Kind: f1})
	m2 := putManifest(t, s, model.ManifestEntry{Name: "a.txt", Kind: f2})

	inputs := []Input{{PublicationID: "p1", ManifestID: m1}, {PublicationID: "p2", ManifestID: m2}}
	first, err := Coalesce(s, inputs)
	require.NoError(t, err)
	second, err := Coalesce(s, inputs)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestValidateInputsShareRootRejectsEmpty(t *testing.T) {
	require.Error(t, ValidateInputsShareRoot(nil))
}

package graph

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

func TestCollectWalksDirsAndRecipes(t *testing.T) {
	s := newTestStore(t)
	blob, err := s.PutBlob([]byte("chunk"))
	require.NoError(t, err)
	recipe, err := s.PutRecipe(model.FileRecipe{Version: 1, Chunks: []model.FileRecipeChunk{{Blob: blob, Size: 5}}})
	require.NoError(t, err)

	subID, err := s.PutManifest(model.Manifest{Entries: []model.ManifestEntry{
		{Name: "chunked.bin", Kind: model.FileChunks{Recipe: recipe, Mode: 0o644, Size: 5}},
	}})
	require.NoError(t, err)

	rootID, err := s.PutManifest(model.Manifest{Entries: []model.ManifestEntry{
		{Name: "sub", Kind: model.Dir{Manifest: subID}},
	}})
	require.NoError(t, err)

	reach, err := Collect(s, rootID)
	require.NoError(t, err)
	require.Contains(t, reach.Manifests, rootID)
	require.Contains(t, reach.Manifests, subID)
	require.Contains(t, reach.Recipes, recipe)
	require.Contains(t, reach.Blobs, blob)
}

func TestCollectSharedManifestVisitedOnce(t *testing.T) {
	s := newTestStore(t)
	shared, err := s.PutManifest(model.Manifest{Entries: []model.ManifestEntry{
		{Name: "leaf", Kind: model.Symlink{Target: "x"}},
	}})
	require.NoError(t, err)

	root, err := s.PutManifest(model.Manifest{Entries: []model.ManifestEntry{
		{Name: "a", Kind: model.Dir{Manifest: shared}},
		{Name: "b", Kind: model.Dir{Manifest: shared}},
	}})
	require.NoError(t, err)

	reach, err := Collect(s, root)
	require.NoError(t, err)
	require.Len(t, reach.Manifests, 2) // root + shared, not visited twice
}

func TestHasSuperposition(t *testing.T) {
	s := newTestStore(t)
	plain, err := s.PutManifest(model.Manifest{Entries: []model.ManifestEntry{
		{Name: "a", Kind: model.Symlink{Target: "x"}},
	}})
	require.NoError(t, err)
	ok, err := HasSuperposition(s, plain)
	require.NoError(t, err)
	require.False(t, ok)

	withSuper, err := s.PutManifest(model.Manifest{Entries: []model.ManifestEntry{
		{Name: "a", Kind: model.Superposition{Variants: []model.SuperpositionVariant{
			{SourceTag: "p1", Kind: model.Tombstone{}},
		}}},
	}})
	require.NoError(t, err)
	ok, err = HasSuperposition(s, withSuper)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHasSuperpositionNested(t *testing.T) {
	s := newTestStore(t)
	sub, err := s.PutManifest(model.Manifest{Entries: []model.ManifestEntry{
		{Name: "a", Kind: model.Superposition{Variants: []model.SuperpositionVariant{
			{SourceTag: "p1", Kind: model.Tombstone{}},
		}}},
	}})
	require.NoError(t, err)
	root, err := s.PutManifest(model.Manifest{Entries: []model.ManifestEntry{
		{Name: "sub", Kind: model.Dir{Manifest: sub}},
	}})
	require.NoError(t, err)

	ok, err := HasSuperposition(s, root)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestValidateAvailabilityMissingManifest(t *testing.T) {
	s := newTestStore(t)
	err := ValidateAvailability(s, objectid.Of([]byte("never-written")), true)
	require.Error(t, err)
}

func TestValidateAvailabilityMetadataOnlyToleratesMissingBlobs(t *testing.T) {
	s := newTestStore(t)
	missingBlob := objectid.Of([]byte("not-uploaded"))
	root, err := s.PutManifest(model.Manifest{Entries: []model.ManifestEntry{
		{Name: "a.txt", Kind: model.File{Blob: missingBlob, Mode: 0o644, Size: 1}},
	}})
	require.NoError(t, err)

	require.NoError(t, ValidateAvailability(s, root, false))
	require.Error(t, ValidateAvailability(s, root, true))
}

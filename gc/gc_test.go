package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/repo"
	"github.com/converge-vcs/converge/store"
)

func manifestWithFile(blobID objectid.ID, size int) model.Manifest {
	return model.Manifest{Version: 1, Entries: []model.ManifestEntry{
		{Name: "a.txt", Kind: model.File{Blob: blobID, Mode: 0o100644, Size: uint64(size)}},
	}}
}

func newSnap(createdAt string, rootManifest objectid.ID) model.Snap {
	return model.NewSnap(createdAt, rootManifest, "", model.SnapStats{})
}

func newTestHandle(t *testing.T) *repo.Handle {
	t.Helper()
	mgr := repo.NewManager(t.TempDir())
	h, err := mgr.Create("r1", "alice", "u-alice")
	require.NoError(t, err)
	return h
}

// putPublishedBundle writes a blob+manifest+snap, publishes it on "main"
// at "dev-intake", and bundles it alone (no divergence to merge). It
// returns the bundle and the blob id backing its one file, so tests can
// assert on object survival directly.
func putPublishedBundle(t *testing.T, h *repo.Handle, content string) (model.Bundle, objectid.ID) {
	t.Helper()
	blobID, err := h.Store.PutBlob([]byte(content))
	require.NoError(t, err)

	rootID, err := h.Store.PutManifest(manifestWithFile(blobID, len(content)))
	require.NoError(t, err)

	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	snap := newSnap(createdAt, rootID)
	_, err = h.Store.PutSnap(snap)
	require.NoError(t, err)
	h.Repo.Snaps = append(h.Repo.Snaps, snap.ID)

	pub, err := h.CreatePublication(repo.CreatePublicationInput{SnapID: snap.ID, Scope: "main", Gate: "dev-intake"}, repo.Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)

	bundle, err := h.CreateBundle(repo.CreateBundleInput{Scope: "main", Gate: "dev-intake", InputPublications: []string{pub.ID}}, repo.Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)

	return bundle, blobID
}

// TestGCRespectsPinnedBundles checks that pinning a bundle keeps its
// whole tree reachable through a GC pass, while an unpinned,
// unreleased, unpromoted bundle's objects and metadata file are swept.
func TestGCRespectsPinnedBundles(t *testing.T) {
	h := newTestHandle(t)

	kept, keptBlob := putPublishedBundle(t, h, "keep me\n")
	require.NoError(t, h.Pin(kept.ID))

	dropped, droppedBlob := putPublishedBundle(t, h, "drop me\n")

	keptBundleIDs, err := repo.ListBundleFileIDs(h.DataDir(), h.Repo.ID)
	require.NoError(t, err)
	require.Contains(t, keptBundleIDs, kept.ID)
	require.Contains(t, keptBundleIDs, dropped.ID)

	result, err := Run(context.Background(), h, Params{PruneMetadata: true})
	require.NoError(t, err)
	require.False(t, result.DryRun)

	ok, err := h.Store.Has(store.KindBlob, keptBlob)
	require.NoError(t, err)
	require.True(t, ok, "pinned bundle's blob must survive GC")

	ok, err = h.Store.Has(store.KindBlob, droppedBlob)
	require.NoError(t, err)
	require.False(t, ok, "unpinned, unreleased, unpromoted bundle's blob must be swept")

	ok, err = h.Store.Has(store.KindManifest, kept.RootManifest)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.Store.Has(store.KindManifest, dropped.RootManifest)
	require.NoError(t, err)
	require.False(t, ok)

	remaining, err := repo.ListBundleFileIDs(h.DataDir(), h.Repo.ID)
	require.NoError(t, err)
	require.Contains(t, remaining, kept.ID)
	require.NotContains(t, remaining, dropped.ID)

	require.Len(t, h.Repo.Bundles, 1)
	require.Equal(t, kept.ID, h.Repo.Bundles[0].ID)
	require.Len(t, h.Repo.Publications, 1)

	require.Equal(t, 1, result.DeletedBundles)
	require.Equal(t, 1, result.DeletedPublications)
}

// TestGCDryRunChangesNothing checks that a dry-run pass leaves every
// object and metadata file in place.
func TestGCDryRunChangesNothing(t *testing.T) {
	h := newTestHandle(t)
	_, droppedBlob := putPublishedBundle(t, h, "ephemeral\n")

	before, err := repo.ListBundleFileIDs(h.DataDir(), h.Repo.ID)
	require.NoError(t, err)
	beforePubCount := len(h.Repo.Publications)

	result, err := Run(context.Background(), h, Params{DryRun: true, PruneMetadata: true})
	require.NoError(t, err)
	require.True(t, result.DryRun)
	require.Equal(t, 1, result.DeletedBundles) // reported, not applied

	ok, err := h.Store.Has(store.KindBlob, droppedBlob)
	require.NoError(t, err)
	require.True(t, ok, "dry run must not delete objects")

	after, err := repo.ListBundleFileIDs(h.DataDir(), h.Repo.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, before, after, "dry run must not delete metadata files")
	require.Equal(t, beforePubCount, len(h.Repo.Publications), "dry run must not prune in-memory state")
}

// TestGCRetainsLaneHeadSnapEvenWithoutPublication covers the rule that
// lane heads are roots on their own, independent of any publication
// referencing them.
func TestGCRetainsLaneHeadSnapEvenWithoutPublication(t *testing.T) {
	h := newTestHandle(t)
	_, err := h.CreateLane("scratch", []string{"alice"})
	require.NoError(t, err)

	blobID, err := h.Store.PutBlob([]byte("lane only\n"))
	require.NoError(t, err)
	rootID, err := h.Store.PutManifest(manifestWithFile(blobID, len("lane only\n")))
	require.NoError(t, err)
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	laneSnap := newSnap(createdAt, rootID)
	_, err = h.Store.PutSnap(laneSnap)
	require.NoError(t, err)
	h.Repo.Snaps = append(h.Repo.Snaps, laneSnap.ID)

	_, err = h.SetLaneHead("scratch", "alice", laneSnap.ID, "client-1", time.Now())
	require.NoError(t, err)

	_, err = Run(context.Background(), h, Params{PruneMetadata: true})
	require.NoError(t, err)

	ok, err := h.Store.Has(store.KindBlob, blobID)
	require.NoError(t, err)
	require.True(t, ok, "lane-head snap's tree must survive even with no publication or bundle")

	_, err = h.Store.GetSnap(laneSnap.ID)
	require.NoError(t, err, "lane-head snap itself must survive sweepSnaps")
}

// TestGCReleasesKeepLastTrimsOldReleases covers the optional
// ReleasesKeepLast parameter.
func TestGCReleasesKeepLastTrimsOldReleases(t *testing.T) {
	h := newTestHandle(t)
	h.Repo.GateGraph.Gates[0].AllowReleases = true

	old, _ := putPublishedBundle(t, h, "old release\n")
	_, err := h.Release(old.ID, "stable", "old", repo.Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)

	newer, _ := putPublishedBundle(t, h, "new release\n")
	_, err = h.Release(newer.ID, "stable", "newer", repo.Subject{Handle: "alice"}, time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, h.Repo.Releases, 2)

	keepLast := 1
	_, err = Run(context.Background(), h, Params{PruneMetadata: true, ReleasesKeepLast: &keepLast})
	require.NoError(t, err)

	require.Len(t, h.Repo.Releases, 1)
	require.Equal(t, "newer", h.Repo.Releases[0].Notes)
}

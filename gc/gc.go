// Package gc implements the garbage collector: a mark phase that
// computes the reachable object closure from a repo's retention roots
// (pinned bundles, released bundles, promotion-state heads, and
// lane-head snaps), and a sweep phase that deletes every on-disk object
// or metadata file the mark phase did not visit. The per-root closure
// walk is parallelized with golang.org/x/sync/errgroup.
package gc

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/converge-vcs/converge/graph"
	"github.com/converge-vcs/converge/internal/dcontext"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/repo"
	"github.com/converge-vcs/converge/store"
)

// maxConcurrency bounds the number of manifest-tree walks run at once
// during the mark phase.
const maxConcurrency = 8

// Params configures one GC pass.
type Params struct {
	// DryRun reports what would be deleted without deleting it.
	DryRun bool
	// PruneMetadata additionally drops bundles/publications/releases/snaps
	// that fell out of the keep set from the in-memory repo and persists.
	PruneMetadata bool
	// ReleasesKeepLast, if non-nil, trims each channel's releases to its
	// last N (oldest first) before the keep set is computed.
	ReleasesKeepLast *int
}

// Result reports what one pass found, and — unless DryRun — removed.
type Result struct {
	DryRun bool

	KeptBundles, KeptPublications, KeptSnaps              int
	KeptManifests, KeptBlobs, KeptRecipes                 int
	DeletedBundles, DeletedPublications, DeletedReleases  int
	DeletedSnaps, DeletedManifests, DeletedBlobs, DeletedRecipes int
}

// Run executes one GC pass against h. Callers must hold h's lock.
func Run(ctx context.Context, h *repo.Handle, p Params) (Result, error) {
	log := dcontext.GetLogger(ctx)
	r := h.Repo

	if p.ReleasesKeepLast != nil {
		if p.DryRun {
			// Trim a copy so a dry run leaves the repo's release list untouched.
			copied := *r
			copied.Releases = append([]model.Release(nil), r.Releases...)
			r = &copied
		}
		trimReleases(r, *p.ReleasesKeepLast)
	}

	keepBundleIDs := keepBundles(r)
	keepPubIDs := keepPublications(r, keepBundleIDs)
	keepSnapIDs := keepSnaps(r, keepPubIDs)

	manifests, blobs, recipes, err := closure(ctx, h.Store, r, keepBundleIDs, keepSnapIDs)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		DryRun:           p.DryRun,
		KeptBundles:      len(keepBundleIDs),
		KeptPublications: len(keepPubIDs),
		KeptSnaps:        len(keepSnapIDs),
		KeptManifests:    len(manifests),
		KeptBlobs:        len(blobs),
		KeptRecipes:      len(recipes),
	}

	if result.DeletedManifests, err = sweepKind(h.Store, store.KindManifest, manifests, p.DryRun); err != nil {
		return Result{}, err
	}
	if result.DeletedBlobs, err = sweepKind(h.Store, store.KindBlob, blobs, p.DryRun); err != nil {
		return Result{}, err
	}
	if result.DeletedRecipes, err = sweepKind(h.Store, store.KindRecipe, recipes, p.DryRun); err != nil {
		return Result{}, err
	}
	if result.DeletedSnaps, err = sweepSnaps(h.Store, keepSnapIDs, p.DryRun); err != nil {
		return Result{}, err
	}

	if p.PruneMetadata {
		deletedBundles, err := sweepMetadataFiles(h.DataDir(), r.ID, repo.ListBundleFileIDs, repo.DeleteBundleFile, keepBundleIDs, p.DryRun)
		if err != nil {
			return Result{}, err
		}
		result.DeletedBundles = deletedBundles

		keepReleaseIDs := map[string]struct{}{}
		for _, rel := range r.Releases {
			keepReleaseIDs[rel.ID] = struct{}{}
		}
		deletedReleases, err := sweepMetadataFiles(h.DataDir(), r.ID, repo.ListReleaseFileIDs, repo.DeleteReleaseFile, keepReleaseIDs, p.DryRun)
		if err != nil {
			return Result{}, err
		}
		result.DeletedReleases = deletedReleases

		if !p.DryRun {
			result.DeletedPublications = pruneInMemoryMetadata(r, keepBundleIDs, keepPubIDs, keepSnapIDs)
			if err := h.Persist(); err != nil {
				return Result{}, err
			}
		} else {
			result.DeletedPublications = len(r.Publications) - len(keepPubIDs)
		}
	}

	log.Infof("gc: repo %s kept %d bundles, %d publications, %d snaps, %d manifests, %d blobs, %d recipes (dry_run=%v)",
		r.ID, result.KeptBundles, result.KeptPublications, result.KeptSnaps, result.KeptManifests, result.KeptBlobs, result.KeptRecipes, p.DryRun)

	return result, nil
}

// keepBundles returns the retained bundle set: pinned bundles, bundles
// referenced by releases, and bundles referenced by the promotion state.
func keepBundles(r *model.Repo) map[string]struct{} {
	keep := map[string]struct{}{}
	for _, id := range r.PinnedBundles {
		keep[id] = struct{}{}
	}
	for _, rel := range r.Releases {
		keep[rel.BundleID] = struct{}{}
	}
	for _, gates := range r.PromotionState {
		for _, bundleID := range gates {
			keep[bundleID] = struct{}{}
		}
	}
	return keep
}

// keepPublications returns the input publications of every kept bundle.
func keepPublications(r *model.Repo, keepBundleIDs map[string]struct{}) map[string]struct{} {
	keep := map[string]struct{}{}
	for _, b := range r.Bundles {
		if _, ok := keepBundleIDs[b.ID]; !ok {
			continue
		}
		for _, pubID := range b.InputPublications {
			keep[pubID] = struct{}{}
		}
	}
	return keep
}

// keepSnaps returns the snaps referenced by kept publications plus all
// lane-head snaps (current + history).
func keepSnaps(r *model.Repo, keepPubIDs map[string]struct{}) map[objectid.ID]struct{} {
	keep := map[objectid.ID]struct{}{}
	for _, p := range r.Publications {
		if _, ok := keepPubIDs[p.ID]; ok {
			keep[p.SnapID] = struct{}{}
		}
	}
	for _, id := range repo.AllLaneHeadSnaps(r) {
		keep[id] = struct{}{}
	}
	return keep
}

// trimReleases drops releases beyond the last keepLast per channel,
// oldest first.
func trimReleases(r *model.Repo, keepLast int) {
	byChannel := map[string][]model.Release{}
	for _, rel := range r.Releases {
		byChannel[rel.Channel] = append(byChannel[rel.Channel], rel)
	}

	keep := map[string]struct{}{}
	for _, releases := range byChannel {
		sort.Slice(releases, func(i, j int) bool { return releases[i].TS < releases[j].TS })
		if keepLast >= 0 && len(releases) > keepLast {
			releases = releases[len(releases)-keepLast:]
		}
		for _, rel := range releases {
			keep[rel.ID] = struct{}{}
		}
	}

	out := r.Releases[:0]
	for _, rel := range r.Releases {
		if _, ok := keep[rel.ID]; ok {
			out = append(out, rel)
		}
	}
	r.Releases = out
}

// closure walks graph.Collect from each kept bundle's root manifest and
// each kept snap's root manifest, merging into a single
// (manifests, blobs, recipes) id set. Each root's walk runs as its own
// errgroup task, bounded to maxConcurrency in flight at once.
func closure(ctx context.Context, s *store.Store, r *model.Repo, keepBundleIDs map[string]struct{}, keepSnapIDs map[objectid.ID]struct{}) (map[objectid.ID]struct{}, map[objectid.ID]struct{}, map[objectid.ID]struct{}, error) {
	var roots []objectid.ID
	for _, b := range r.Bundles {
		if _, ok := keepBundleIDs[b.ID]; ok {
			roots = append(roots, b.RootManifest)
		}
	}

	g, _ := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxConcurrency)

	bundleReach := make([]graph.Reachable, len(roots))
	for i, root := range roots {
		i, root := i, root
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			reach, err := graph.Collect(s, root)
			if err != nil {
				return err
			}
			bundleReach[i] = reach
			return nil
		})
	}

	snapIDs := make([]objectid.ID, 0, len(keepSnapIDs))
	for id := range keepSnapIDs {
		snapIDs = append(snapIDs, id)
	}
	snapReach := make([]graph.Reachable, len(snapIDs))
	for i, snapID := range snapIDs {
		i, snapID := i, snapID
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			snap, err := s.GetSnap(snapID)
			if err != nil {
				return err
			}
			reach, err := graph.Collect(s, snap.RootManifest)
			if err != nil {
				return err
			}
			snapReach[i] = reach
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	manifests := map[objectid.ID]struct{}{}
	blobs := map[objectid.ID]struct{}{}
	recipes := map[objectid.ID]struct{}{}
	absorb := func(reach graph.Reachable) {
		for id := range reach.Manifests {
			manifests[id] = struct{}{}
		}
		for id := range reach.Blobs {
			blobs[id] = struct{}{}
		}
		for id := range reach.Recipes {
			recipes[id] = struct{}{}
		}
	}
	for _, reach := range bundleReach {
		absorb(reach)
	}
	for _, reach := range snapReach {
		absorb(reach)
	}

	return manifests, blobs, recipes, nil
}

// sweepKind deletes every object of kind not in keep, unless dryRun.
// The enumeration (WalkKind) happens once at the start of the pass, so
// sweep never deletes an object that was written after the pass began
// but wasn't seen.
func sweepKind(s *store.Store, kind store.Kind, keep map[objectid.ID]struct{}, dryRun bool) (int, error) {
	ids, err := s.WalkKind(kind)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		if _, ok := keep[id]; ok {
			continue
		}
		deleted++
		if dryRun {
			continue
		}
		if err := s.Delete(kind, id); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func sweepSnaps(s *store.Store, keep map[objectid.ID]struct{}, dryRun bool) (int, error) {
	ids, err := s.WalkSnaps()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		if _, ok := keep[id]; ok {
			continue
		}
		deleted++
		if dryRun {
			continue
		}
		if err := s.DeleteSnap(id); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func sweepMetadataFiles(dataDir, repoID string, list func(string, string) ([]string, error), del func(string, string, string) error, keep map[string]struct{}, dryRun bool) (int, error) {
	ids, err := list(dataDir, repoID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		if _, ok := keep[id]; ok {
			continue
		}
		deleted++
		if dryRun {
			continue
		}
		if err := del(dataDir, repoID, id); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// pruneInMemoryMetadata drops the bundles/publications not in the keep
// sets from the in-memory repo and narrows its snap list to the kept
// snaps. Releases are not pruned further here — ReleasesKeepLast
// already trimmed r.Releases to its final form before the keep sets were
// computed. Returns the number of publications dropped.
func pruneInMemoryMetadata(r *model.Repo, keepBundleIDs, keepPubIDs map[string]struct{}, keepSnapIDs map[objectid.ID]struct{}) int {
	keptBundles := r.Bundles[:0]
	for _, b := range r.Bundles {
		if _, ok := keepBundleIDs[b.ID]; ok {
			keptBundles = append(keptBundles, b)
		}
	}
	r.Bundles = keptBundles

	droppedPubs := 0
	keptPubs := r.Publications[:0]
	for _, p := range r.Publications {
		if _, ok := keepPubIDs[p.ID]; ok {
			keptPubs = append(keptPubs, p)
		} else {
			droppedPubs++
		}
	}
	r.Publications = keptPubs

	snaps := make([]objectid.ID, 0, len(keepSnapIDs))
	for id := range keepSnapIDs {
		snaps = append(snaps, id)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i] < snaps[j] })
	r.Snaps = snaps

	return droppedPubs
}

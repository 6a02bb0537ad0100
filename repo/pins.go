package repo

// Pin adds bundleID to the repo's pinned set, loading the bundle from
// disk first if it is not already known in memory. Pinned bundles are
// GC roots regardless of their position in the
// gate graph or promotion state. Callers must hold h's lock.
func (h *Handle) Pin(bundleID string) error {
	if _, ok := bundleIndexByID(h.Repo, bundleID); !ok {
		bundle, err := readBundleFile(h.dataDir, h.Repo.ID, bundleID)
		if err != nil {
			return err
		}
		h.Repo.Bundles = append(h.Repo.Bundles, bundle)
	}
	if !contains(h.Repo.PinnedBundles, bundleID) {
		h.Repo.PinnedBundles = append(h.Repo.PinnedBundles, bundleID)
	}
	return nil
}

// Unpin removes bundleID from the repo's pinned set. It is not an error
// to unpin a bundle that was never pinned.
func (h *Handle) Unpin(bundleID string) {
	out := h.Repo.PinnedBundles[:0]
	for _, id := range h.Repo.PinnedBundles {
		if id != bundleID {
			out = append(out, id)
		}
	}
	h.Repo.PinnedBundles = out
}

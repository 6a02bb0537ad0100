package repo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
)

func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	h, err := newHandle(t.TempDir(), "r1", defaultRepo("r1", "alice", "u-alice"))
	require.NoError(t, err)
	return h
}

func putSnap(t *testing.T, h *Handle, content string) objectid.ID {
	t.Helper()
	blob, err := h.Store.PutBlob([]byte(content))
	require.NoError(t, err)
	rootID, err := h.Store.PutManifest(model.Manifest{Entries: []model.ManifestEntry{
		{Name: "a.txt", Kind: model.File{Blob: blob, Mode: 0o100644, Size: uint64(len(content))}},
	}})
	require.NoError(t, err)
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	snap := model.NewSnap(createdAt, rootID, "", model.SnapStats{})
	_, err = h.Store.PutSnap(snap)
	require.NoError(t, err)
	h.Repo.Snaps = append(h.Repo.Snaps, snap.ID)
	return snap.ID
}

func TestCreateBundleEmptyInputsRejected(t *testing.T) {
	h := newTestHandle(t)
	_, err := h.CreateBundle(CreateBundleInput{Scope: "main", Gate: "dev-intake"}, Subject{Handle: "alice"}, time.Now())
	require.Error(t, err)
}

func TestPublicationUnknownScopeOrGateRejected(t *testing.T) {
	h := newTestHandle(t)
	snapID := putSnap(t, h, "hello\n")
	_, err := h.CreatePublication(CreatePublicationInput{SnapID: snapID, Scope: "nope", Gate: "dev-intake"}, Subject{Handle: "alice"}, time.Now())
	require.Error(t, err)

	_, err = h.CreatePublication(CreatePublicationInput{SnapID: snapID, Scope: "main", Gate: "nope"}, Subject{Handle: "alice"}, time.Now())
	require.Error(t, err)
}

func TestPublicationDuplicateConflict(t *testing.T) {
	h := newTestHandle(t)
	snapID := putSnap(t, h, "hello\n")
	_, err := h.CreatePublication(CreatePublicationInput{SnapID: snapID, Scope: "main", Gate: "dev-intake"}, Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)

	_, err = h.CreatePublication(CreatePublicationInput{SnapID: snapID, Scope: "main", Gate: "dev-intake"}, Subject{Handle: "alice"}, time.Now())
	require.Error(t, err)
}

func TestBundleLifecycleThroughPromoteAndRelease(t *testing.T) {
	h := newTestHandle(t)
	// dev-intake tolerates superpositions but requires one approval;
	// stable forbids superpositions and allows releases.
	h.Repo.GateGraph = model.GateGraph{Version: 1, Gates: []model.GateDef{
		{ID: "dev-intake", Name: "Dev Intake", AllowSuperpositions: true, RequiredApprovals: 1},
		{ID: "stable", Name: "Stable", Upstream: []string{"dev-intake"}, AllowReleases: true},
	}}

	snapA := putSnap(t, h, "one\n")
	snapB := putSnap(t, h, "two\n")

	pubA, err := h.CreatePublication(CreatePublicationInput{SnapID: snapA, Scope: "main", Gate: "dev-intake"}, Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)
	pubB, err := h.CreatePublication(CreatePublicationInput{SnapID: snapB, Scope: "main", Gate: "dev-intake"}, Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)

	bundle, err := h.CreateBundle(CreateBundleInput{Scope: "main", Gate: "dev-intake", InputPublications: []string{pubB.ID, pubA.ID}}, Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, []string{pubA.ID, pubB.ID}, bundle.InputPublications)
	require.False(t, bundle.Promotable)
	require.Equal(t, []string{"approvals_missing"}, bundle.Reasons)

	// promote blocked: bundle is not yet promotable under dev-intake's
	// own rules (approval still missing).
	_, err = h.Promote(bundle.ID, "stable", Subject{Handle: "alice"}, time.Now())
	require.Error(t, err)

	approved, err := h.ApproveBundle(bundle.ID, Subject{Handle: "alice"})
	require.NoError(t, err)
	require.True(t, approved.Promotable)

	// still blocked: destination gate forbids superpositions and the tree
	// still has one.
	_, err = h.Promote(bundle.ID, "stable", Subject{Handle: "alice"}, time.Now())
	require.Error(t, err)

	// bundling just one publication leaves no divergence to merge.
	soloBundle, err := h.CreateBundle(CreateBundleInput{Scope: "main", Gate: "dev-intake", InputPublications: []string{pubA.ID}}, Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)
	require.False(t, soloBundle.Promotable) // still needs dev-intake's approval
	_, err = h.ApproveBundle(soloBundle.ID, Subject{Handle: "alice"})
	require.NoError(t, err)

	promotion, err := h.Promote(soloBundle.ID, "stable", Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, "dev-intake", promotion.FromGate)
	require.Equal(t, "stable", promotion.ToGate)
	require.Equal(t, soloBundle.ID, h.Repo.PromotionState["main"]["stable"])

	release, err := h.Release(soloBundle.ID, "beta", "first cut", Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, "beta", release.Channel)
}

func TestPromoteRejectsNonAdjacentGate(t *testing.T) {
	h := newTestHandle(t)
	h.Repo.GateGraph = model.GateGraph{Version: 1, Gates: []model.GateDef{
		{ID: "a"},
		{ID: "b", Upstream: []string{"a"}},
		{ID: "c", Upstream: []string{"b"}},
	}}
	h.Repo.Scopes = []string{"main"}
	snapID := putSnap(t, h, "x\n")
	pub, err := h.CreatePublication(CreatePublicationInput{SnapID: snapID, Scope: "main", Gate: "a"}, Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)
	bundle, err := h.CreateBundle(CreateBundleInput{Scope: "main", Gate: "a", InputPublications: []string{pub.ID}}, Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)

	_, err = h.Promote(bundle.ID, "c", Subject{Handle: "alice"}, time.Now())
	require.Error(t, err)
}

func TestReleaseRequiresAllowReleasesGate(t *testing.T) {
	h := newTestHandle(t)
	h.Repo.GateGraph.Gates[0].AllowReleases = false
	snapID := putSnap(t, h, "x\n")
	pub, err := h.CreatePublication(CreatePublicationInput{SnapID: snapID, Scope: "main", Gate: "dev-intake"}, Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)
	bundle, err := h.CreateBundle(CreateBundleInput{Scope: "main", Gate: "dev-intake", InputPublications: []string{pub.ID}}, Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)

	_, err = h.Release(bundle.ID, "stable", "", Subject{Handle: "alice"}, time.Now())
	require.Error(t, err)
}

func TestPinUnpinRoundTrip(t *testing.T) {
	h := newTestHandle(t)
	snapID := putSnap(t, h, "x\n")
	pub, err := h.CreatePublication(CreatePublicationInput{SnapID: snapID, Scope: "main", Gate: "dev-intake"}, Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)
	bundle, err := h.CreateBundle(CreateBundleInput{Scope: "main", Gate: "dev-intake", InputPublications: []string{pub.ID}}, Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)

	before := append([]string{}, h.Repo.PinnedBundles...)
	require.NoError(t, h.Pin(bundle.ID))
	require.Contains(t, h.Repo.PinnedBundles, bundle.ID)
	h.Unpin(bundle.ID)
	require.Equal(t, before, h.Repo.PinnedBundles)
}

func TestBundleDeterministicAcrossInputOrder(t *testing.T) {
	h := newTestHandle(t)
	snapA := putSnap(t, h, "one\n")
	snapB := putSnap(t, h, "two\n")
	pubA, err := h.CreatePublication(CreatePublicationInput{SnapID: snapA, Scope: "main", Gate: "dev-intake"}, Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)
	pubB, err := h.CreatePublication(CreatePublicationInput{SnapID: snapB, Scope: "main", Gate: "dev-intake"}, Subject{Handle: "alice"}, time.Now())
	require.NoError(t, err)

	now := time.Now()
	bundle1, err := h.CreateBundle(CreateBundleInput{Scope: "main", Gate: "dev-intake", InputPublications: []string{pubA.ID, pubB.ID}}, Subject{Handle: "alice", UserID: ""}, now)
	require.NoError(t, err)

	// A second bundle creation call with reversed input order, same
	// subject/time, must derive the same root manifest.
	h2 := newTestHandle(t)
	h2.Repo.Snaps = h.Repo.Snaps
	h2.Repo.Publications = h.Repo.Publications
	h2.Store = h.Store
	bundle2, err := h2.CreateBundle(CreateBundleInput{Scope: "main", Gate: "dev-intake", InputPublications: []string{pubB.ID, pubA.ID}}, Subject{Handle: "alice"}, now)
	require.NoError(t, err)

	require.Equal(t, bundle1.RootManifest, bundle2.RootManifest)
}

func TestACLPredicates(t *testing.T) {
	r := defaultRepo("r1", "alice", "u-alice")
	r.Readers = append(r.Readers, "bob")
	r.Publishers = append(r.Publishers, "carol")

	require.True(t, CanRead(r, Subject{Handle: "alice"}))
	require.True(t, CanRead(r, Subject{Handle: "bob"}))
	require.False(t, CanRead(r, Subject{Handle: "mallory"}))
	require.True(t, CanRead(r, Subject{Handle: "mallory", Admin: true}))

	require.True(t, CanPublish(r, Subject{Handle: "alice"}))
	require.True(t, CanPublish(r, Subject{Handle: "carol"}))
	require.False(t, CanPublish(r, Subject{Handle: "bob"}))
}

func TestGateGraphValidation(t *testing.T) {
	acyclic := model.GateGraph{Gates: []model.GateDef{
		{ID: "a"}, {ID: "b", Upstream: []string{"a"}},
	}}
	require.NoError(t, ValidateGateGraph(acyclic))

	cyclic := model.GateGraph{Gates: []model.GateDef{
		{ID: "a", Upstream: []string{"b"}}, {ID: "b", Upstream: []string{"a"}},
	}}
	err := ValidateGateGraph(cyclic)
	require.Error(t, err)

	dangling := model.GateGraph{Gates: []model.GateDef{
		{ID: "a", Upstream: []string{"ghost"}},
	}}
	require.Error(t, ValidateGateGraph(dangling))
}

// TestPromotabilityReasonsAccumulateInOrder checks both blocking reasons
// surface together, superpositions first.
func TestPromotabilityReasonsAccumulateInOrder(t *testing.T) {
	gate := model.GateDef{AllowSuperpositions: false, RequiredApprovals: 3}
	ok, reasons := ComputePromotability(gate, true, 1)
	require.False(t, ok)
	require.Equal(t, []string{"superpositions_present", "approvals_missing"}, reasons)
}

func TestLaneHeadHistoryBounded(t *testing.T) {
	h := newTestHandle(t)
	_, err := h.CreateLane("scratch", []string{"alice"})
	require.NoError(t, err)

	var last objectid.ID
	for i := 0; i < model.LaneHeadHistoryKeepLast+5; i++ {
		snap := putSnap(t, h, "content")
		_, err := h.SetLaneHead("scratch", "alice", snap, "client-1", time.Now())
		require.NoError(t, err)
		last = snap
	}

	head, ok := h.LaneHead("scratch", "alice")
	require.True(t, ok)
	require.Equal(t, last, head.SnapID)
	require.LessOrEqual(t, len(h.LaneHeadHistory("scratch", "alice")), model.LaneHeadHistoryKeepLast)
}

func TestSetLaneHeadRejectsNonMember(t *testing.T) {
	h := newTestHandle(t)
	_, err := h.CreateLane("scratch", []string{"alice"})
	require.NoError(t, err)
	snap := putSnap(t, h, "content")
	_, err = h.SetLaneHead("scratch", "mallory", snap, "", time.Now())
	require.Error(t, err)
}

package repo

import (
	"time"

	"github.com/google/uuid"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/graph"
	"github.com/converge-vcs/converge/model"
)

// Promote moves a bundle one edge along the gate graph: the destination
// gate must be an immediate downstream of the bundle's current gate, the
// bundle must
// be promotable under its current gate's rules, and — re-checked at the
// destination — the destination gate must not disallow superpositions
// still present in the tree. Callers must hold h's lock.
func (h *Handle) Promote(bundleID, toGate string, subject Subject, now time.Time) (model.Promotion, error) {
	idx, ok := bundleIndexByID(h.Repo, bundleID)
	if !ok {
		return model.Promotion{}, cerr.New(cerr.NotFound, "bundle %s not found", bundleID)
	}
	if !CanPublish(h.Repo, subject) {
		return model.Promotion{}, cerr.New(cerr.Forbidden, "subject cannot promote bundles in this repo")
	}
	b := &h.Repo.Bundles[idx]

	if !isImmediateDownstream(h.Repo, b.Gate, toGate) {
		return model.Promotion{}, cerr.New(cerr.InvalidInput, "gate %q is not an immediate downstream of %q", toGate, b.Gate)
	}

	currentGate, ok := gateByID(h.Repo, b.Gate)
	if !ok {
		return model.Promotion{}, cerr.New(cerr.IntegrityError, "bundle %s references unknown gate %q", b.ID, b.Gate)
	}
	hasSuperpositions, err := graph.HasSuperposition(h.Store, b.RootManifest)
	if err != nil {
		return model.Promotion{}, err
	}
	promotable, reasons := ComputePromotability(currentGate, hasSuperpositions, len(b.Approvals))
	if !promotable {
		return model.Promotion{}, cerr.New(cerr.Conflict, "bundle not promotable under its current gate").WithDetail(reasons)
	}

	destGate, _ := gateByID(h.Repo, toGate)
	if hasSuperpositions && !destGate.AllowSuperpositions {
		return model.Promotion{}, cerr.New(cerr.Conflict, "destination gate does not allow superpositions")
	}

	promotion := model.Promotion{
		ID:       uuid.NewString(),
		BundleID: b.ID,
		FromGate: b.Gate,
		ToGate:   toGate,
		User:     subject.Handle,
		TS:       now.UTC().Format(time.RFC3339),
	}
	h.Repo.Promotions = append(h.Repo.Promotions, promotion)

	if h.Repo.PromotionState == nil {
		h.Repo.PromotionState = map[string]map[string]string{}
	}
	if h.Repo.PromotionState[b.Scope] == nil {
		h.Repo.PromotionState[b.Scope] = map[string]string{}
	}
	h.Repo.PromotionState[b.Scope][toGate] = b.ID
	b.Gate = toGate

	return promotion, nil
}

// Release issues a bundle to a channel: the bundle's current gate must
// allow releases and the channel id must be well-formed. Callers
// must hold h's lock.
func (h *Handle) Release(bundleID, channel, notes string, subject Subject, now time.Time) (model.Release, error) {
	if !validChannelID(channel) {
		return model.Release{}, cerr.New(cerr.InvalidInput, "invalid channel id %q", channel)
	}
	idx, ok := bundleIndexByID(h.Repo, bundleID)
	if !ok {
		return model.Release{}, cerr.New(cerr.NotFound, "bundle %s not found", bundleID)
	}
	if !CanPublish(h.Repo, subject) {
		return model.Release{}, cerr.New(cerr.Forbidden, "subject cannot release bundles in this repo")
	}
	b := h.Repo.Bundles[idx]
	gate, ok := gateByID(h.Repo, b.Gate)
	if !ok {
		return model.Release{}, cerr.New(cerr.IntegrityError, "bundle %s references unknown gate %q", b.ID, b.Gate)
	}
	if !gate.AllowReleases {
		return model.Release{}, cerr.New(cerr.Conflict, "gate %q does not allow releases", b.Gate)
	}

	rel := model.Release{
		ID:       uuid.NewString(),
		Channel:  channel,
		BundleID: b.ID,
		TS:       now.UTC().Format(time.RFC3339),
		User:     subject.Handle,
		Notes:    notes,
	}
	h.Repo.Releases = append(h.Repo.Releases, rel)
	if err := writeReleaseFile(h.dataDir, h.Repo.ID, rel); err != nil {
		return model.Release{}, err
	}
	return rel, nil
}

func validChannelID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' {
			return false
		}
	}
	return true
}

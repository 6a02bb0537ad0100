package repo

import (
	"fmt"
	"sort"
	"time"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/graph"
	"github.com/converge-vcs/converge/merge"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
)

// computeBundleID derives a bundle's id from its scope, gate, merged
// root, sorted inputs, creator, and timestamp.
func computeBundleID(repoID, scope, gate string, rootManifest objectid.ID, inputPublications []string, user, createdAt string) string {
	s := fmt.Sprintf("%s\n%s\n%s\n%s\n", repoID, scope, gate, rootManifest)
	for _, pid := range inputPublications {
		s += pid + "\n"
	}
	s += user + "\n" + createdAt
	return string(objectid.Of([]byte(s)))
}

// CreateBundleInput is the validated request to coalesce publications
// into a bundle.
type CreateBundleInput struct {
	Scope             string
	Gate              string
	InputPublications []string
}

// CreateBundle coalesces publications into a bundle: dedupe+sort input
// publication ids, verify they exist and share scope/gate, merge their
// root manifests, and record a bundle with derived id and computed
// promotability. Callers must hold h's lock.
func (h *Handle) CreateBundle(in CreateBundleInput, subject Subject, now time.Time) (model.Bundle, error) {
	if !CanPublish(h.Repo, subject) {
		return model.Bundle{}, cerr.New(cerr.Forbidden, "subject cannot create bundles in this repo")
	}
	if len(in.InputPublications) == 0 {
		return model.Bundle{}, cerr.New(cerr.InvalidInput, "bundle must include at least one input publication")
	}
	gate, ok := gateByID(h.Repo, in.Gate)
	if !ok {
		return model.Bundle{}, cerr.New(cerr.InvalidInput, "unknown gate %q", in.Gate)
	}
	if !contains(h.Repo.Scopes, in.Scope) {
		return model.Bundle{}, cerr.New(cerr.InvalidInput, "unknown scope %q", in.Scope)
	}

	ids := normalizeInputPublications(in.InputPublications)

	inputs := make([]merge.Input, 0, len(ids))
	for _, pid := range ids {
		pub, ok := publicationByID(h.Repo, pid)
		if !ok {
			return model.Bundle{}, cerr.New(cerr.InvalidInput, "unknown publication %q", pid)
		}
		if pub.Scope != in.Scope || pub.Gate != in.Gate {
			return model.Bundle{}, cerr.New(cerr.InvalidInput, "publication %q does not match bundle scope/gate", pid)
		}
		snap, err := h.Store.GetSnap(pub.SnapID)
		if err != nil {
			return model.Bundle{}, err
		}
		inputs = append(inputs, merge.Input{PublicationID: pid, ManifestID: snap.RootManifest})
	}

	rootManifest, err := merge.Coalesce(h.Store, inputs)
	if err != nil {
		return model.Bundle{}, err
	}

	hasSuperpositions, err := graph.HasSuperposition(h.Store, rootManifest)
	if err != nil {
		return model.Bundle{}, err
	}
	promotable, reasons := ComputePromotability(gate, hasSuperpositions, 0)

	createdAt := now.UTC().Format(time.RFC3339)
	id := computeBundleID(h.Repo.ID, in.Scope, in.Gate, rootManifest, ids, subject.Handle, createdAt)

	bundle := model.Bundle{
		ID:                id,
		Scope:             in.Scope,
		Gate:              in.Gate,
		InputPublications: ids,
		RootManifest:      rootManifest,
		CreatedBy:         subject.Handle,
		CreatedAt:         createdAt,
		Promotable:        promotable,
		Reasons:           reasons,
	}
	h.Repo.Bundles = append(h.Repo.Bundles, bundle)
	if err := writeBundleFile(h.dataDir, h.Repo.ID, bundle); err != nil {
		return model.Bundle{}, err
	}
	return bundle, nil
}

func normalizeInputPublications(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	deduped := out[:0]
	var prev string
	for i, id := range out {
		if i == 0 || id != prev {
			deduped = append(deduped, id)
		}
		prev = id
	}
	return deduped
}

func bundleIndexByID(r *model.Repo, id string) (int, bool) {
	for i, b := range r.Bundles {
		if b.ID == id {
			return i, true
		}
	}
	return 0, false
}

// ApproveBundle appends subject to the bundle's approvals (deduplicated)
// and recomputes promotability against the bundle's current gate.
// Callers must hold h's lock.
func (h *Handle) ApproveBundle(bundleID string, subject Subject) (model.Bundle, error) {
	idx, ok := bundleIndexByID(h.Repo, bundleID)
	if !ok {
		return model.Bundle{}, cerr.New(cerr.NotFound, "bundle %s not found", bundleID)
	}
	if !CanPublish(h.Repo, subject) {
		return model.Bundle{}, cerr.New(cerr.Forbidden, "subject cannot approve bundles in this repo")
	}
	b := &h.Repo.Bundles[idx]
	b.Approvals = appendUnique(b.Approvals, subject.Handle)

	gate, ok := gateByID(h.Repo, b.Gate)
	if !ok {
		return model.Bundle{}, cerr.New(cerr.IntegrityError, "bundle %s references unknown gate %q", b.ID, b.Gate)
	}
	hasSuperpositions, err := graph.HasSuperposition(h.Store, b.RootManifest)
	if err != nil {
		return model.Bundle{}, err
	}
	b.Promotable, b.Reasons = ComputePromotability(gate, hasSuperpositions, len(b.Approvals))
	return *b, nil
}

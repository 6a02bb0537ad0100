package repo

import (
	"fmt"
	"time"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/graph"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
)

// computePublicationID derives a publication's id from every field that
// defines its identity: repo, snap, scope, gate, user, and created_at.
func computePublicationID(repoID string, snapID objectid.ID, scope, gate, user, createdAt string) string {
	s := fmt.Sprintf("%s\n%s\n%s\n%s\n%s\n%s", repoID, snapID, scope, gate, user, createdAt)
	return string(objectid.Of([]byte(s)))
}

// CreatePublicationInput is the validated request to admit a snap into a
// (scope, gate) pair.
type CreatePublicationInput struct {
	SnapID       objectid.ID
	Scope        string
	Gate         string
	MetadataOnly bool
	Resolution   *model.Resolution
}

// CreatePublication admits a snap into a (scope, gate) pair: it checks
// can-publish, scope/gate existence, duplicate (snap,scope,gate),
// metadata-only gate permission, snap membership, and manifest-tree
// availability, then appends the new publication to h.Repo. It does not
// write repo.json. Callers must hold h's lock.
func (h *Handle) CreatePublication(in CreatePublicationInput, subject Subject, now time.Time) (model.Publication, error) {
	if !CanPublish(h.Repo, subject) {
		return model.Publication{}, cerr.New(cerr.Forbidden, "subject cannot publish to this repo")
	}
	if !contains(h.Repo.Scopes, in.Scope) {
		return model.Publication{}, cerr.New(cerr.InvalidInput, "unknown scope %q", in.Scope)
	}
	gate, ok := gateByID(h.Repo, in.Gate)
	if !ok {
		return model.Publication{}, cerr.New(cerr.InvalidInput, "unknown gate %q", in.Gate)
	}
	for _, p := range h.Repo.Publications {
		if p.SnapID == in.SnapID && p.Scope == in.Scope && p.Gate == in.Gate {
			return model.Publication{}, cerr.New(cerr.Conflict, "snap already published to this scope/gate")
		}
	}
	if in.MetadataOnly && !gate.AllowMetadataOnlyPublications {
		return model.Publication{}, cerr.New(cerr.InvalidInput, "metadata-only publications not allowed in gate %q", in.Gate)
	}
	if !containsSnap(h.Repo.Snaps, in.SnapID) {
		return model.Publication{}, cerr.New(cerr.InvalidInput, "unknown snap %s (upload snap first)", in.SnapID)
	}

	snap, err := h.Store.GetSnap(in.SnapID)
	if err != nil {
		return model.Publication{}, err
	}
	if err := graph.ValidateAvailability(h.Store, snap.RootManifest, !in.MetadataOnly); err != nil {
		return model.Publication{}, err
	}

	createdAt := now.UTC().Format(time.RFC3339)
	id := computePublicationID(h.Repo.ID, in.SnapID, in.Scope, in.Gate, subject.Handle, createdAt)

	pub := model.Publication{
		ID:              id,
		SnapID:          in.SnapID,
		Scope:           in.Scope,
		Gate:            in.Gate,
		Publisher:       subject.Handle,
		PublisherUserID: subject.UserID,
		CreatedAt:       createdAt,
		MetadataOnly:    in.MetadataOnly,
		Resolution:      in.Resolution,
	}
	h.Repo.Publications = append(h.Repo.Publications, pub)
	return pub, nil
}

func containsSnap(list []objectid.ID, id objectid.ID) bool {
	for _, s := range list {
		if s == id {
			return true
		}
	}
	return false
}

func publicationByID(r *model.Repo, id string) (model.Publication, bool) {
	for _, p := range r.Publications {
		if p.ID == id {
			return p, true
		}
	}
	return model.Publication{}, false
}

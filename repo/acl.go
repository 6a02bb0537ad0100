package repo

import (
	"github.com/converge-vcs/converge/model"
)

// Subject is an authenticated identity consulted by the authorization
// predicates below.
type Subject struct {
	UserID string
	Handle string
	Admin  bool
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// CanRead grants the owner, any reader, and any subject whose user id
// appears in the owner/reader user-id mirror.
func CanRead(r *model.Repo, s Subject) bool {
	if s.Admin {
		return true
	}
	if s.Handle == r.Owner || contains(r.Readers, s.Handle) {
		return true
	}
	if s.UserID != "" && (s.UserID == r.OwnerUserID || contains(r.ReaderUserIDs, s.UserID)) {
		return true
	}
	return false
}

// CanPublish grants the owner, any publisher, and any subject whose user
// id appears in the owner/publisher user-id mirror.
func CanPublish(r *model.Repo, s Subject) bool {
	if s.Admin {
		return true
	}
	if s.Handle == r.Owner || contains(r.Publishers, s.Handle) {
		return true
	}
	if s.UserID != "" && (s.UserID == r.OwnerUserID || contains(r.PublisherUserIDs, s.UserID)) {
		return true
	}
	return false
}

// BackfillACLUserIDs mirrors every handle-keyed ACL set (owner, readers,
// publishers, lane members) into its parallel user-id set, using
// handleToID, so state written before user ids existed gains the
// mirrors. No code path in this module calls it; repos loaded from disk
// are not backfilled automatically. It is a no-op for a set whose
// user-id mirror is already populated.
func BackfillACLUserIDs(r *model.Repo, handleToID map[string]string) {
	if r.OwnerUserID == "" {
		if id, ok := handleToID[r.Owner]; ok {
			r.OwnerUserID = id
		}
	}
	if len(r.ReaderUserIDs) == 0 && len(r.Readers) > 0 {
		for _, h := range r.Readers {
			if id, ok := handleToID[h]; ok {
				r.ReaderUserIDs = appendUnique(r.ReaderUserIDs, id)
			}
		}
	}
	if len(r.PublisherUserIDs) == 0 && len(r.Publishers) > 0 {
		for _, h := range r.Publishers {
			if id, ok := handleToID[h]; ok {
				r.PublisherUserIDs = appendUnique(r.PublisherUserIDs, id)
			}
		}
	}
	for _, lane := range r.Lanes {
		if len(lane.MemberUserIDs) == 0 && len(lane.Members) > 0 {
			for _, h := range lane.Members {
				if id, ok := handleToID[h]; ok {
					lane.MemberUserIDs = appendUnique(lane.MemberUserIDs, id)
				}
			}
		}
	}
}

func appendUnique(list []string, v string) []string {
	if contains(list, v) {
		return list
	}
	return append(list, v)
}

package repo

import (
	"time"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
)

// CreateLane registers a new lane with the given members. Callers must hold h's lock.
func (h *Handle) CreateLane(laneID string, members []string) (*model.Lane, error) {
	if laneID == "" {
		return nil, cerr.New(cerr.InvalidInput, "lane id must not be empty")
	}
	if h.Repo.Lanes == nil {
		h.Repo.Lanes = map[string]*model.Lane{}
	}
	if _, exists := h.Repo.Lanes[laneID]; exists {
		return nil, cerr.New(cerr.Conflict, "lane %q already exists", laneID)
	}
	lane := &model.Lane{
		ID:          laneID,
		Members:     append([]string{}, members...),
		Heads:       map[string]model.LaneHeadRecord{},
		HeadHistory: map[string][]model.LaneHeadRecord{},
	}
	h.Repo.Lanes[laneID] = lane
	return lane, nil
}

// SetLaneHead records a new head snap for (laneID, user), pushing the
// prior head onto a bounded history
// (model.LaneHeadHistoryKeepLast entries retained, oldest dropped first).
// Callers must hold h's lock.
func (h *Handle) SetLaneHead(laneID, user string, snapID objectid.ID, clientID string, now time.Time) (model.LaneHeadRecord, error) {
	lane, ok := h.Repo.Lanes[laneID]
	if !ok {
		return model.LaneHeadRecord{}, cerr.New(cerr.InvalidInput, "unknown lane %q", laneID)
	}
	if !contains(lane.Members, user) {
		return model.LaneHeadRecord{}, cerr.New(cerr.Forbidden, "user %q is not a member of lane %q", user, laneID)
	}
	if !containsSnap(h.Repo.Snaps, snapID) {
		return model.LaneHeadRecord{}, cerr.New(cerr.InvalidInput, "unknown snap %s (upload snap first)", snapID)
	}

	rec := model.LaneHeadRecord{SnapID: snapID, UpdatedAt: now.UTC().Format(time.RFC3339), ClientID: clientID}

	if lane.Heads == nil {
		lane.Heads = map[string]model.LaneHeadRecord{}
	}
	if lane.HeadHistory == nil {
		lane.HeadHistory = map[string][]model.LaneHeadRecord{}
	}
	if prev, had := lane.Heads[user]; had {
		hist := append(lane.HeadHistory[user], prev)
		if len(hist) > model.LaneHeadHistoryKeepLast {
			hist = hist[len(hist)-model.LaneHeadHistoryKeepLast:]
		}
		lane.HeadHistory[user] = hist
	}
	lane.Heads[user] = rec
	return rec, nil
}

// LaneHead returns the current head for (laneID, user), or false if the
// lane or user has none yet.
func (h *Handle) LaneHead(laneID, user string) (model.LaneHeadRecord, bool) {
	lane, ok := h.Repo.Lanes[laneID]
	if !ok {
		return model.LaneHeadRecord{}, false
	}
	rec, ok := lane.Heads[user]
	return rec, ok
}

// LaneHeadHistory returns the bounded prior-head history for (laneID,
// user), oldest first, in the order the history entries were pushed.
func (h *Handle) LaneHeadHistory(laneID, user string) []model.LaneHeadRecord {
	lane, ok := h.Repo.Lanes[laneID]
	if !ok {
		return nil
	}
	return lane.HeadHistory[user]
}

// AllLaneHeadSnaps returns every snap id referenced by a lane head or its
// history, across every lane and member. All of them are unconditional
// GC roots.
func AllLaneHeadSnaps(r *model.Repo) []objectid.ID {
	seen := map[objectid.ID]struct{}{}
	var out []objectid.ID
	add := func(id objectid.ID) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, lane := range r.Lanes {
		for _, rec := range lane.Heads {
			add(rec.SnapID)
		}
		for _, hist := range lane.HeadHistory {
			for _, rec := range hist {
				add(rec.SnapID)
			}
		}
	}
	return out
}

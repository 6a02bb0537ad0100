package workspace

import (
	"context"
	"encoding/json"
	"time"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/graph"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/store"
)

// Push uploads a snap and every object reachable from its root manifest
// that the server does not hold yet. Uploads go leaves-first (blobs,
// recipes, then manifests, then the snap) so the server's availability
// validation never observes a manifest before its references.
func (ws *Workspace) Push(ctx context.Context, rm *Remote, repoID string, snapID objectid.ID) error {
	snap, err := ws.Store.GetSnap(snapID)
	if err != nil {
		return err
	}
	reach, err := graph.Collect(ws.Store, snap.RootManifest)
	if err != nil {
		return err
	}

	blobs := idsOf(reach.Blobs)
	manifests := idsOf(reach.Manifests)
	recipes := idsOf(reach.Recipes)

	missingBlobs, missingManifests, missingRecipes, missingSnaps, err := rm.MissingObjects(ctx, repoID, blobs, manifests, recipes, []objectid.ID{snapID})
	if err != nil {
		return err
	}

	for _, id := range missingBlobs {
		b, err := ws.Store.GetBlob(id)
		if err != nil {
			return err
		}
		if err := rm.PutBlob(ctx, repoID, id, b); err != nil {
			return err
		}
	}
	for _, id := range missingRecipes {
		b, err := ws.Store.GetBytes(store.KindRecipe, id)
		if err != nil {
			return err
		}
		if err := rm.PutRecipe(ctx, repoID, id, b); err != nil {
			return err
		}
	}
	for _, id := range missingManifests {
		b, err := ws.Store.GetBytes(store.KindManifest, id)
		if err != nil {
			return err
		}
		if err := rm.PutManifest(ctx, repoID, id, b); err != nil {
			return err
		}
	}
	for _, id := range missingSnaps {
		s, err := ws.Store.GetSnap(id)
		if err != nil {
			return err
		}
		if err := rm.PutSnap(ctx, repoID, s); err != nil {
			return err
		}
	}
	return nil
}

// Pull fetches a snap and its full manifest tree from the server into the
// local store. Manifests are fetched top-down; blobs and recipes follow
// once the local tree is complete.
func (ws *Workspace) Pull(ctx context.Context, rm *Remote, repoID string, snapID objectid.ID) (model.Snap, error) {
	snap, err := rm.GetSnap(ctx, repoID, snapID)
	if err != nil {
		return model.Snap{}, err
	}

	if err := ws.PullManifestTree(ctx, rm, repoID, snap.RootManifest); err != nil {
		return model.Snap{}, err
	}

	reach, err := graph.Collect(ws.Store, snap.RootManifest)
	if err != nil {
		return model.Snap{}, err
	}
	for id := range reach.Recipes {
		if ok, err := ws.Store.Has(store.KindRecipe, id); err != nil {
			return model.Snap{}, err
		} else if ok {
			continue
		}
		b, err := rm.GetRecipe(ctx, repoID, id)
		if err != nil {
			return model.Snap{}, err
		}
		if err := ws.Store.PutBytesWithID(store.KindRecipe, id, b); err != nil {
			return model.Snap{}, err
		}
	}
	for id := range reach.Blobs {
		if ok, err := ws.Store.Has(store.KindBlob, id); err != nil {
			return model.Snap{}, err
		} else if ok {
			continue
		}
		b, err := rm.GetBlob(ctx, repoID, id)
		if err != nil {
			return model.Snap{}, err
		}
		if err := ws.Store.PutBytesWithID(store.KindBlob, id, b); err != nil {
			return model.Snap{}, err
		}
	}

	if _, err := ws.Store.PutSnap(snap); err != nil {
		return model.Snap{}, err
	}
	return snap, nil
}

// PullManifestTree fetches one manifest tree (manifests only, no blobs)
// from the server into the local store, recursing through Dir entries and
// Dir-kinded superposition variants.
func (ws *Workspace) PullManifestTree(ctx context.Context, rm *Remote, repoID string, manifestID objectid.ID) error {
	if ok, err := ws.Store.Has(store.KindManifest, manifestID); err != nil {
		return err
	} else if ok {
		return nil
	}
	b, err := rm.GetManifest(ctx, repoID, manifestID)
	if err != nil {
		return err
	}
	if err := ws.Store.PutBytesWithID(store.KindManifest, manifestID, b); err != nil {
		return err
	}
	var m model.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return cerr.New(cerr.IntegrityError, "decode manifest %s: %v", manifestID, err)
	}
	for _, e := range m.Entries {
		switch v := e.Kind.(type) {
		case model.Dir:
			if err := ws.PullManifestTree(ctx, rm, repoID, v.Manifest); err != nil {
				return err
			}
		case model.Superposition:
			for _, variant := range v.Variants {
				if dir, ok := variant.Kind.(model.Dir); ok {
					if err := ws.PullManifestTree(ctx, rm, repoID, dir.Manifest); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// Publish pushes snapID and admits it into the remote's (scope, gate),
// recording the publication in workspace state.
func (ws *Workspace) Publish(ctx context.Context, rm *Remote, remote RemoteConfig, snapID objectid.ID, metadataOnly bool, resolution *model.Resolution) (model.Publication, error) {
	if err := ws.Push(ctx, rm, remote.RepoID, snapID); err != nil {
		return model.Publication{}, err
	}
	pub, err := rm.CreatePublication(ctx, remote.RepoID, snapID, remote.Scope, remote.Gate, metadataOnly, resolution)
	if err != nil {
		return model.Publication{}, err
	}

	s, err := ws.LoadState()
	if err != nil {
		return model.Publication{}, err
	}
	if s.LastPublished == nil {
		s.LastPublished = map[string]string{}
	}
	s.LastPublished[remote.BaseURL+"#"+remote.RepoID+"#"+remote.Scope+"#"+remote.Gate] = string(snapID)
	if err := ws.SaveState(s); err != nil {
		return model.Publication{}, err
	}
	return pub, nil
}

// LaneStatus compares the local sync record for laneID against the
// server's current head for user.
type LaneStatus struct {
	LaneID     string      `json:"lane_id"`
	LocalSnap  objectid.ID `json:"local_snap,omitempty"`
	RemoteSnap objectid.ID `json:"remote_snap,omitempty"`
	InSync     bool        `json:"in_sync"`
}

// SyncLane pushes snapID, sets it as the caller's lane head, and records
// the sync locally.
func (ws *Workspace) SyncLane(ctx context.Context, rm *Remote, repoID, laneID, user string, snapID objectid.ID, clientID string) (model.LaneHeadRecord, error) {
	if err := ws.Push(ctx, rm, repoID, snapID); err != nil {
		return model.LaneHeadRecord{}, err
	}
	rec, err := rm.SetLaneHead(ctx, repoID, laneID, user, snapID, clientID)
	if err != nil {
		return model.LaneHeadRecord{}, err
	}
	if err := ws.RecordLaneSync(laneID, string(snapID), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return model.LaneHeadRecord{}, err
	}
	return rec, nil
}

// CheckLane reports whether the local sync record matches the server's
// current head.
func (ws *Workspace) CheckLane(ctx context.Context, rm *Remote, repoID, laneID, user string) (LaneStatus, error) {
	status := LaneStatus{LaneID: laneID}

	s, err := ws.LoadState()
	if err != nil {
		return status, err
	}
	if rec, ok := s.LaneSync[laneID]; ok {
		status.LocalSnap = objectid.ID(rec.SnapID)
	}

	head, err := rm.GetLaneHead(ctx, repoID, laneID, user)
	if err != nil {
		return status, err
	}
	if head.Head != nil {
		status.RemoteSnap = head.Head.SnapID
	}
	status.InSync = status.LocalSnap != "" && status.LocalSnap == status.RemoteSnap
	return status, nil
}

func idsOf(set map[objectid.ID]struct{}) []objectid.ID {
	out := make([]objectid.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

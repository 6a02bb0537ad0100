package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
)

// Remote is an HTTP client for one server, carrying its base URL and
// bearer token.
type Remote struct {
	BaseURL string
	Token   string

	client *http.Client
}

// NewRemote builds a Remote with a bounded default timeout.
func NewRemote(baseURL, token string) *Remote {
	return &Remote{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (rm *Remote) do(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rm.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, cerr.New(cerr.InvalidInput, "build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if rm.Token != "" {
		req.Header.Set("Authorization", "Bearer "+rm.Token)
	}
	resp, err := rm.client.Do(req)
	if err != nil {
		return nil, 0, cerr.New(cerr.Io, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, cerr.New(cerr.Io, "read response: %v", err)
	}
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, remoteError(resp.StatusCode, b)
	}
	return b, resp.StatusCode, nil
}

// remoteError rebuilds a typed error from the server's error envelope so
// callers can branch on the code the same way they do locally.
func remoteError(status int, body []byte) error {
	var env struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Code != "" {
		return cerr.New(cerr.Code(env.Code), "%s", env.Error)
	}
	return cerr.New(cerr.Io, "remote returned status %d", status)
}

func (rm *Remote) getJSON(ctx context.Context, path string, out any) error {
	b, _, err := rm.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return cerr.New(cerr.Io, "decode response: %v", err)
	}
	return nil
}

func (rm *Remote) postJSON(ctx context.Context, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return cerr.New(cerr.InvalidInput, "encode request: %v", err)
		}
	}
	b, _, err := rm.do(ctx, http.MethodPost, path, body, "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return cerr.New(cerr.Io, "decode response: %v", err)
	}
	return nil
}

// GetJSON issues a GET and decodes the response into out.
func (rm *Remote) GetJSON(ctx context.Context, path string, out any) error {
	return rm.getJSON(ctx, path, out)
}

// PostJSON issues a POST with a JSON body and decodes the response into
// out (which may be nil).
func (rm *Remote) PostJSON(ctx context.Context, path string, in, out any) error {
	return rm.postJSON(ctx, path, in, out)
}

// Delete issues a DELETE.
func (rm *Remote) Delete(ctx context.Context, path string) error {
	_, _, err := rm.do(ctx, http.MethodDelete, path, nil, "")
	return err
}

// WhoamiResponse mirrors the server's identity echo.
type WhoamiResponse struct {
	User   string `json:"user"`
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin"`
}

func (rm *Remote) Whoami(ctx context.Context) (WhoamiResponse, error) {
	var out WhoamiResponse
	err := rm.getJSON(ctx, "/whoami", &out)
	return out, err
}

// Bootstrap performs the one-time admin bootstrap and returns the minted
// token secret.
func (rm *Remote) Bootstrap(ctx context.Context, bootstrapToken, handle, displayName string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := rm.postJSON(ctx, "/bootstrap", map[string]string{
		"token": bootstrapToken, "handle": handle, "display_name": displayName,
	}, &out)
	return out.Token, err
}

func (rm *Remote) CreateRepo(ctx context.Context, repoID string) error {
	return rm.postJSON(ctx, "/repos", map[string]string{"id": repoID}, nil)
}

func (rm *Remote) GetRepo(ctx context.Context, repoID string) (model.Repo, error) {
	var out model.Repo
	err := rm.getJSON(ctx, "/repos/"+url.PathEscape(repoID), &out)
	return out, err
}

func (rm *Remote) PurgeRepo(ctx context.Context, repoID string) error {
	_, _, err := rm.do(ctx, http.MethodDelete, "/repos/"+url.PathEscape(repoID), nil, "")
	return err
}

// MissingObjects asks the server which of the given ids it lacks.
func (rm *Remote) MissingObjects(ctx context.Context, repoID string, blobs, manifests, recipes, snaps []objectid.ID) (missingBlobs, missingManifests, missingRecipes, missingSnaps []objectid.ID, err error) {
	req := map[string][]objectid.ID{
		"blobs": emptyIfNil(blobs), "manifests": emptyIfNil(manifests),
		"recipes": emptyIfNil(recipes), "snaps": emptyIfNil(snaps),
	}
	var out struct {
		MissingBlobs     []objectid.ID `json:"missing_blobs"`
		MissingManifests []objectid.ID `json:"missing_manifests"`
		MissingRecipes   []objectid.ID `json:"missing_recipes"`
		MissingSnaps     []objectid.ID `json:"missing_snaps"`
	}
	if err := rm.postJSON(ctx, fmt.Sprintf("/repos/%s/objects/missing", url.PathEscape(repoID)), req, &out); err != nil {
		return nil, nil, nil, nil, err
	}
	return out.MissingBlobs, out.MissingManifests, out.MissingRecipes, out.MissingSnaps, nil
}

func emptyIfNil(ids []objectid.ID) []objectid.ID {
	if ids == nil {
		return []objectid.ID{}
	}
	return ids
}

func (rm *Remote) PutBlob(ctx context.Context, repoID string, id objectid.ID, content []byte) error {
	_, _, err := rm.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/objects/blobs/%s", url.PathEscape(repoID), id), content, "application/octet-stream")
	return err
}

func (rm *Remote) GetBlob(ctx context.Context, repoID string, id objectid.ID) ([]byte, error) {
	b, _, err := rm.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/objects/blobs/%s", url.PathEscape(repoID), id), nil, "")
	return b, err
}

func (rm *Remote) PutManifest(ctx context.Context, repoID string, id objectid.ID, canonical []byte) error {
	_, _, err := rm.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/objects/manifests/%s", url.PathEscape(repoID), id), canonical, "application/json")
	return err
}

func (rm *Remote) GetManifest(ctx context.Context, repoID string, id objectid.ID) ([]byte, error) {
	b, _, err := rm.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/objects/manifests/%s", url.PathEscape(repoID), id), nil, "")
	return b, err
}

func (rm *Remote) PutRecipe(ctx context.Context, repoID string, id objectid.ID, canonical []byte) error {
	_, _, err := rm.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/objects/recipes/%s", url.PathEscape(repoID), id), canonical, "application/json")
	return err
}

func (rm *Remote) GetRecipe(ctx context.Context, repoID string, id objectid.ID) ([]byte, error) {
	b, _, err := rm.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/objects/recipes/%s", url.PathEscape(repoID), id), nil, "")
	return b, err
}

func (rm *Remote) PutSnap(ctx context.Context, repoID string, snap model.Snap) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return cerr.New(cerr.InvalidInput, "encode snap: %v", err)
	}
	_, _, err = rm.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/objects/snaps/%s", url.PathEscape(repoID), snap.ID), b, "application/json")
	return err
}

func (rm *Remote) GetSnap(ctx context.Context, repoID string, id objectid.ID) (model.Snap, error) {
	var out model.Snap
	err := rm.getJSON(ctx, fmt.Sprintf("/repos/%s/objects/snaps/%s", url.PathEscape(repoID), id), &out)
	return out, err
}

func (rm *Remote) CreatePublication(ctx context.Context, repoID string, snapID objectid.ID, scope, gate string, metadataOnly bool, resolution *model.Resolution) (model.Publication, error) {
	var out model.Publication
	err := rm.postJSON(ctx, fmt.Sprintf("/repos/%s/publications", url.PathEscape(repoID)), map[string]any{
		"snap_id": snapID, "scope": scope, "gate": gate,
		"metadata_only": metadataOnly, "resolution": resolution,
	}, &out)
	return out, err
}

func (rm *Remote) ListPublications(ctx context.Context, repoID string) ([]model.Publication, error) {
	var out []model.Publication
	err := rm.getJSON(ctx, fmt.Sprintf("/repos/%s/publications", url.PathEscape(repoID)), &out)
	return out, err
}

func (rm *Remote) CreateBundle(ctx context.Context, repoID, scope, gate string, inputPublications []string) (model.Bundle, error) {
	var out model.Bundle
	err := rm.postJSON(ctx, fmt.Sprintf("/repos/%s/bundles", url.PathEscape(repoID)), map[string]any{
		"scope": scope, "gate": gate, "input_publications": inputPublications,
	}, &out)
	return out, err
}

func (rm *Remote) ListBundles(ctx context.Context, repoID string) ([]model.Bundle, error) {
	var out []model.Bundle
	err := rm.getJSON(ctx, fmt.Sprintf("/repos/%s/bundles", url.PathEscape(repoID)), &out)
	return out, err
}

func (rm *Remote) GetBundle(ctx context.Context, repoID, bundleID string) (model.Bundle, error) {
	var out model.Bundle
	err := rm.getJSON(ctx, fmt.Sprintf("/repos/%s/bundles/%s", url.PathEscape(repoID), url.PathEscape(bundleID)), &out)
	return out, err
}

func (rm *Remote) ApproveBundle(ctx context.Context, repoID, bundleID string) (model.Bundle, error) {
	var out model.Bundle
	err := rm.postJSON(ctx, fmt.Sprintf("/repos/%s/bundles/%s/approve", url.PathEscape(repoID), url.PathEscape(bundleID)), nil, &out)
	return out, err
}

func (rm *Remote) Promote(ctx context.Context, repoID, bundleID, toGate string) (model.Promotion, error) {
	var out model.Promotion
	err := rm.postJSON(ctx, fmt.Sprintf("/repos/%s/promotions", url.PathEscape(repoID)), map[string]string{
		"bundle_id": bundleID, "to_gate": toGate,
	}, &out)
	return out, err
}

func (rm *Remote) Release(ctx context.Context, repoID, bundleID, channel, notes string) (model.Release, error) {
	var out model.Release
	err := rm.postJSON(ctx, fmt.Sprintf("/repos/%s/releases", url.PathEscape(repoID)), map[string]string{
		"bundle_id": bundleID, "channel": channel, "notes": notes,
	}, &out)
	return out, err
}

func (rm *Remote) ListPins(ctx context.Context, repoID string) ([]string, error) {
	var out struct {
		PinnedBundles []string `json:"pinned_bundles"`
	}
	err := rm.getJSON(ctx, fmt.Sprintf("/repos/%s/pins", url.PathEscape(repoID)), &out)
	return out.PinnedBundles, err
}

func (rm *Remote) PinBundle(ctx context.Context, repoID, bundleID string) error {
	return rm.postJSON(ctx, fmt.Sprintf("/repos/%s/bundles/%s/pin", url.PathEscape(repoID), url.PathEscape(bundleID)), nil, nil)
}

func (rm *Remote) UnpinBundle(ctx context.Context, repoID, bundleID string) error {
	return rm.postJSON(ctx, fmt.Sprintf("/repos/%s/bundles/%s/unpin", url.PathEscape(repoID), url.PathEscape(bundleID)), nil, nil)
}

// LaneHead is the server's view of one member's rolling head.
type LaneHead struct {
	Head    *model.LaneHeadRecord  `json:"head,omitempty"`
	History []model.LaneHeadRecord `json:"history"`
}

func (rm *Remote) GetLaneHead(ctx context.Context, repoID, laneID, user string) (LaneHead, error) {
	var out LaneHead
	err := rm.getJSON(ctx, fmt.Sprintf("/repos/%s/lanes/%s/heads/%s", url.PathEscape(repoID), url.PathEscape(laneID), url.PathEscape(user)), &out)
	return out, err
}

func (rm *Remote) SetLaneHead(ctx context.Context, repoID, laneID, user string, snapID objectid.ID, clientID string) (model.LaneHeadRecord, error) {
	body, err := json.Marshal(map[string]any{"snap_id": snapID, "client_id": clientID})
	if err != nil {
		return model.LaneHeadRecord{}, cerr.New(cerr.InvalidInput, "encode request: %v", err)
	}
	b, _, err := rm.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/lanes/%s/heads/%s", url.PathEscape(repoID), url.PathEscape(laneID), url.PathEscape(user)), body, "application/json")
	if err != nil {
		return model.LaneHeadRecord{}, err
	}
	var out model.LaneHeadRecord
	if err := json.Unmarshal(b, &out); err != nil {
		return model.LaneHeadRecord{}, cerr.New(cerr.Io, "decode response: %v", err)
	}
	return out, nil
}

// RunGC triggers a collector pass on the server.
func (rm *Remote) RunGC(ctx context.Context, repoID string, dryRun, pruneMetadata bool, releasesKeepLast *int) (map[string]any, error) {
	path := fmt.Sprintf("/repos/%s/gc?dry_run=%t&prune_metadata=%t", url.PathEscape(repoID), dryRun, pruneMetadata)
	if releasesKeepLast != nil {
		path += fmt.Sprintf("&prune_releases_keep_last=%d", *releasesKeepLast)
	}
	var out map[string]any
	err := rm.postJSON(ctx, path, nil, &out)
	return out, err
}

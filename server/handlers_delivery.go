package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/gc"
	"github.com/converge-vcs/converge/internal/metrics"
	"github.com/converge-vcs/converge/store"
)

func (app *App) listPromotions(w http.ResponseWriter, r *http.Request) {
	h, _, err := app.repoForRead(r)
	if err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, h.Repo.Promotions)
}

type createPromotionRequest struct {
	BundleID string `json:"bundle_id"`
	ToGate   string `json:"to_gate"`
}

func (app *App) createPromotion(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	h, err := app.repos.Get(mux.Vars(r)["repo"])
	if err != nil {
		serveError(w, err)
		return
	}
	var req createPromotionRequest
	if err := decodeJSON(r, &req); err != nil {
		serveError(w, err)
		return
	}

	h.Lock()
	defer h.Unlock()
	promotion, err := h.Promote(req.BundleID, req.ToGate, subject, time.Now())
	if err != nil {
		serveError(w, err)
		return
	}
	if err := h.Persist(); err != nil {
		serveError(w, err)
		return
	}
	metrics.Promotions.Inc()
	serveJSON(w, http.StatusCreated, promotion)
}

func (app *App) getPromotionState(w http.ResponseWriter, r *http.Request) {
	h, _, err := app.repoForRead(r)
	if err != nil {
		serveError(w, err)
		return
	}
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		serveJSON(w, http.StatusOK, h.Repo.PromotionState)
		return
	}
	state := h.Repo.PromotionState[scope]
	if state == nil {
		state = map[string]string{}
	}
	serveJSON(w, http.StatusOK, state)
}

func (app *App) listReleases(w http.ResponseWriter, r *http.Request) {
	h, _, err := app.repoForRead(r)
	if err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, h.Repo.Releases)
}

type createReleaseRequest struct {
	BundleID string `json:"bundle_id"`
	Channel  string `json:"channel"`
	Notes    string `json:"notes,omitempty"`
}

func (app *App) createRelease(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	h, err := app.repos.Get(mux.Vars(r)["repo"])
	if err != nil {
		serveError(w, err)
		return
	}
	var req createReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		serveError(w, err)
		return
	}

	h.Lock()
	defer h.Unlock()
	release, err := h.Release(req.BundleID, req.Channel, req.Notes, subject, time.Now())
	if err != nil {
		serveError(w, err)
		return
	}
	if err := h.Persist(); err != nil {
		serveError(w, err)
		return
	}
	metrics.Releases.Inc()
	serveJSON(w, http.StatusCreated, release)
}

func (app *App) getRelease(w http.ResponseWriter, r *http.Request) {
	h, _, err := app.repoForRead(r)
	if err != nil {
		serveError(w, err)
		return
	}
	releaseID := mux.Vars(r)["release"]
	for _, rel := range h.Repo.Releases {
		if rel.ID == releaseID {
			serveJSON(w, http.StatusOK, rel)
			return
		}
	}
	serveError(w, cerr.New(cerr.NotFound, "release %s not found", releaseID))
}

// runGC triggers one collector pass. Admin-only: a sweep is destructive
// for every publisher of the repo, not just the caller.
func (app *App) runGC(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	if !subject.Admin {
		serveError(w, cerr.New(cerr.Forbidden, "admin required"))
		return
	}
	h, err := app.repos.Get(mux.Vars(r)["repo"])
	if err != nil {
		serveError(w, err)
		return
	}

	q := r.URL.Query()
	params := gc.Params{
		DryRun:        q.Get("dry_run") == "true",
		PruneMetadata: q.Get("prune_metadata") == "true",
	}
	if v := q.Get("prune_releases_keep_last"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			serveError(w, cerr.New(cerr.InvalidInput, "invalid prune_releases_keep_last %q", v))
			return
		}
		params.ReleasesKeepLast = &n
	}

	h.Lock()
	defer h.Unlock()
	result, err := gc.Run(r.Context(), h, params)
	if err != nil {
		serveError(w, err)
		return
	}
	if !result.DryRun {
		metrics.SweptObjects.WithValues(string(store.KindBlob)).Inc(float64(result.DeletedBlobs))
		metrics.SweptObjects.WithValues(string(store.KindManifest)).Inc(float64(result.DeletedManifests))
		metrics.SweptObjects.WithValues(string(store.KindRecipe)).Inc(float64(result.DeletedRecipes))
	}
	serveJSON(w, http.StatusOK, result)
}

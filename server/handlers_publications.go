package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/internal/metrics"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/repo"
)

func (app *App) listPublications(w http.ResponseWriter, r *http.Request) {
	h, _, err := app.repoForRead(r)
	if err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, h.Repo.Publications)
}

type createPublicationRequest struct {
	SnapID       objectid.ID       `json:"snap_id"`
	Scope        string            `json:"scope"`
	Gate         string            `json:"gate"`
	MetadataOnly bool              `json:"metadata_only"`
	Resolution   *model.Resolution `json:"resolution,omitempty"`
}

func (app *App) createPublication(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	h, err := app.repos.Get(mux.Vars(r)["repo"])
	if err != nil {
		serveError(w, err)
		return
	}
	var req createPublicationRequest
	if err := decodeJSON(r, &req); err != nil {
		serveError(w, err)
		return
	}

	h.Lock()
	defer h.Unlock()
	pub, err := h.CreatePublication(repo.CreatePublicationInput{
		SnapID:       req.SnapID,
		Scope:        req.Scope,
		Gate:         req.Gate,
		MetadataOnly: req.MetadataOnly,
		Resolution:   req.Resolution,
	}, subject, time.Now())
	if err != nil {
		serveError(w, err)
		return
	}
	if err := h.Persist(); err != nil {
		serveError(w, err)
		return
	}
	metrics.Publications.Inc()
	serveJSON(w, http.StatusCreated, pub)
}

func (app *App) listBundles(w http.ResponseWriter, r *http.Request) {
	h, _, err := app.repoForRead(r)
	if err != nil {
		serveError(w, err)
		return
	}
	q := r.URL.Query()
	scope, gate := q.Get("scope"), q.Get("gate")
	if scope == "" && gate == "" {
		serveJSON(w, http.StatusOK, h.Repo.Bundles)
		return
	}
	out := make([]model.Bundle, 0, len(h.Repo.Bundles))
	for _, b := range h.Repo.Bundles {
		if (scope == "" || b.Scope == scope) && (gate == "" || b.Gate == gate) {
			out = append(out, b)
		}
	}
	serveJSON(w, http.StatusOK, out)
}

type createBundleRequest struct {
	Scope             string   `json:"scope"`
	Gate              string   `json:"gate"`
	InputPublications []string `json:"input_publications"`
}

func (app *App) createBundle(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	h, err := app.repos.Get(mux.Vars(r)["repo"])
	if err != nil {
		serveError(w, err)
		return
	}
	var req createBundleRequest
	if err := decodeJSON(r, &req); err != nil {
		serveError(w, err)
		return
	}

	h.Lock()
	defer h.Unlock()
	bundle, err := h.CreateBundle(repo.CreateBundleInput{
		Scope:             req.Scope,
		Gate:              req.Gate,
		InputPublications: req.InputPublications,
	}, subject, time.Now())
	if err != nil {
		serveError(w, err)
		return
	}
	if err := h.Persist(); err != nil {
		serveError(w, err)
		return
	}
	metrics.Bundles.Inc()
	serveJSON(w, http.StatusCreated, bundle)
}

func (app *App) bundleFromVars(r *http.Request) (*repo.Handle, model.Bundle, error) {
	h, _, err := app.repoForRead(r)
	if err != nil {
		return nil, model.Bundle{}, err
	}
	bundleID := mux.Vars(r)["bundle"]
	for _, b := range h.Repo.Bundles {
		if b.ID == bundleID {
			return h, b, nil
		}
	}
	return nil, model.Bundle{}, cerr.New(cerr.NotFound, "bundle %s not found", bundleID)
}

func (app *App) getBundle(w http.ResponseWriter, r *http.Request) {
	_, bundle, err := app.bundleFromVars(r)
	if err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, bundle)
}

func (app *App) approveBundle(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	h, err := app.repos.Get(mux.Vars(r)["repo"])
	if err != nil {
		serveError(w, err)
		return
	}

	h.Lock()
	defer h.Unlock()
	bundle, err := h.ApproveBundle(mux.Vars(r)["bundle"], subject)
	if err != nil {
		serveError(w, err)
		return
	}
	if err := h.Persist(); err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, bundle)
}

func (app *App) listPins(w http.ResponseWriter, r *http.Request) {
	h, _, err := app.repoForRead(r)
	if err != nil {
		serveError(w, err)
		return
	}
	pins := h.Repo.PinnedBundles
	if pins == nil {
		pins = []string{}
	}
	serveJSON(w, http.StatusOK, map[string][]string{"pinned_bundles": pins})
}

func (app *App) pinBundle(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	h, err := app.repos.Get(mux.Vars(r)["repo"])
	if err != nil {
		serveError(w, err)
		return
	}

	h.Lock()
	defer h.Unlock()
	if !repo.CanPublish(h.Repo, subject) {
		serveError(w, cerr.New(cerr.Forbidden, "subject cannot pin bundles in this repo"))
		return
	}
	if err := h.Pin(mux.Vars(r)["bundle"]); err != nil {
		serveError(w, err)
		return
	}
	if err := h.Persist(); err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, map[string][]string{"pinned_bundles": h.Repo.PinnedBundles})
}

func (app *App) unpinBundle(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	h, err := app.repos.Get(mux.Vars(r)["repo"])
	if err != nil {
		serveError(w, err)
		return
	}

	h.Lock()
	defer h.Unlock()
	if !repo.CanPublish(h.Repo, subject) {
		serveError(w, cerr.New(cerr.Forbidden, "subject cannot unpin bundles in this repo"))
		return
	}
	h.Unpin(mux.Vars(r)["bundle"])
	if err := h.Persist(); err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, map[string][]string{"pinned_bundles": h.Repo.PinnedBundles})
}

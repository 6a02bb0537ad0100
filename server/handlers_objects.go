package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/internal/metrics"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/repo"
	"github.com/converge-vcs/converge/store"
)

// objectVars resolves the {repo}/{id} path vars, requiring publish
// permission when write is set and read permission otherwise.
func (app *App) objectVars(r *http.Request, write bool) (*repo.Handle, objectid.ID, error) {
	subject := subjectFromRequest(r)
	vars := mux.Vars(r)
	h, err := app.repos.Get(vars["repo"])
	if err != nil {
		return nil, "", err
	}
	if write {
		if !repo.CanPublish(h.Repo, subject) {
			return nil, "", cerr.New(cerr.Forbidden, "subject cannot upload to this repo")
		}
	} else if !repo.CanRead(h.Repo, subject) {
		return nil, "", cerr.New(cerr.Forbidden, "subject cannot read this repo")
	}
	id := objectid.ID(vars["id"])
	if !id.Valid() {
		return nil, "", cerr.New(cerr.InvalidInput, "invalid object id %q", vars["id"])
	}
	return h, id, nil
}

func kindFromPath(r *http.Request) store.Kind {
	// The route pattern fixes the segment to one of the three kinds.
	switch {
	case strings.Contains(r.URL.Path, "/objects/manifests/"):
		return store.KindManifest
	case strings.Contains(r.URL.Path, "/objects/recipes/"):
		return store.KindRecipe
	default:
		return store.KindBlob
	}
}

func (app *App) putBlob(w http.ResponseWriter, r *http.Request) {
	h, id, err := app.objectVars(r, true)
	if err != nil {
		serveError(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		serveError(w, cerr.New(cerr.Io, "read request body: %v", err))
		return
	}
	if err := h.Store.PutBytesWithID(store.KindBlob, id, body); err != nil {
		serveError(w, err)
		return
	}
	metrics.ObjectWrites.WithValues("blobs").Inc()
	serveJSON(w, http.StatusCreated, map[string]string{"id": string(id)})
}

func (app *App) getBlob(w http.ResponseWriter, r *http.Request) {
	h, id, err := app.objectVars(r, false)
	if err != nil {
		serveError(w, err)
		return
	}
	if r.Method == http.MethodHead {
		ok, err := h.Store.Has(store.KindBlob, id)
		if err != nil {
			serveError(w, err)
			return
		}
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}
	b, err := h.Store.GetBlob(id)
	if err != nil {
		serveError(w, err)
		return
	}
	metrics.ObjectReads.WithValues("blobs").Inc()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (app *App) putManifest(w http.ResponseWriter, r *http.Request) {
	h, id, err := app.objectVars(r, true)
	if err != nil {
		serveError(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		serveError(w, cerr.New(cerr.Io, "read request body: %v", err))
		return
	}
	// Parse before write: a manifest that does not decode is rejected even
	// when its bytes hash correctly.
	var m model.Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		serveError(w, cerr.New(cerr.InvalidInput, "decode manifest: %v", err))
		return
	}
	if err := h.Store.PutBytesWithID(store.KindManifest, id, body); err != nil {
		serveError(w, err)
		return
	}
	metrics.ObjectWrites.WithValues("manifests").Inc()
	serveJSON(w, http.StatusCreated, map[string]string{"id": string(id)})
}

func (app *App) putRecipe(w http.ResponseWriter, r *http.Request) {
	h, id, err := app.objectVars(r, true)
	if err != nil {
		serveError(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		serveError(w, cerr.New(cerr.Io, "read request body: %v", err))
		return
	}
	var recipe model.FileRecipe
	if err := json.Unmarshal(body, &recipe); err != nil {
		serveError(w, cerr.New(cerr.InvalidInput, "decode recipe: %v", err))
		return
	}
	if err := h.Store.PutBytesWithID(store.KindRecipe, id, body); err != nil {
		serveError(w, err)
		return
	}
	metrics.ObjectWrites.WithValues("recipes").Inc()
	serveJSON(w, http.StatusCreated, map[string]string{"id": string(id)})
}

// getObjectJSON serves a manifest or recipe as its canonical JSON bytes.
func (app *App) getObjectJSON(w http.ResponseWriter, r *http.Request) {
	h, id, err := app.objectVars(r, false)
	if err != nil {
		serveError(w, err)
		return
	}
	kind := kindFromPath(r)
	b, err := h.Store.GetBytes(kind, id)
	if err != nil {
		serveError(w, err)
		return
	}
	metrics.ObjectReads.WithValues(string(kind)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (app *App) putSnap(w http.ResponseWriter, r *http.Request) {
	h, id, err := app.objectVars(r, true)
	if err != nil {
		serveError(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		serveError(w, cerr.New(cerr.Io, "read request body: %v", err))
		return
	}
	var snap model.Snap
	if err := json.Unmarshal(body, &snap); err != nil {
		serveError(w, cerr.New(cerr.InvalidInput, "decode snap: %v", err))
		return
	}
	if snap.ID != id {
		serveError(w, cerr.New(cerr.InvalidInput, "snap id %s does not match path id %s", snap.ID, id))
		return
	}
	if model.ComputeSnapID(snap.CreatedAt, snap.RootManifest) != snap.ID {
		serveError(w, cerr.New(cerr.IntegrityError, "snap %s does not hash to its id", snap.ID))
		return
	}

	h.Lock()
	defer h.Unlock()
	if _, err := h.Store.PutSnap(snap); err != nil {
		serveError(w, err)
		return
	}
	known := false
	for _, s := range h.Repo.Snaps {
		if s == snap.ID {
			known = true
			break
		}
	}
	if !known {
		h.Repo.Snaps = append(h.Repo.Snaps, snap.ID)
		if err := h.Persist(); err != nil {
			serveError(w, err)
			return
		}
	}
	serveJSON(w, http.StatusCreated, map[string]string{"id": string(id)})
}

func (app *App) getSnap(w http.ResponseWriter, r *http.Request) {
	h, id, err := app.objectVars(r, false)
	if err != nil {
		serveError(w, err)
		return
	}
	snap, err := h.Store.GetSnap(id)
	if err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, snap)
}

type missingObjectsRequest struct {
	Blobs     []objectid.ID `json:"blobs"`
	Manifests []objectid.ID `json:"manifests"`
	Recipes   []objectid.ID `json:"recipes"`
	Snaps     []objectid.ID `json:"snaps"`
}

type missingObjectsResponse struct {
	MissingBlobs     []objectid.ID `json:"missing_blobs"`
	MissingManifests []objectid.ID `json:"missing_manifests"`
	MissingRecipes   []objectid.ID `json:"missing_recipes"`
	MissingSnaps     []objectid.ID `json:"missing_snaps"`
}

// findMissingObjects reports which of the presented object ids the repo
// does not hold yet, so a publisher uploads only what is absent.
func (app *App) findMissingObjects(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	h, err := app.repos.Get(mux.Vars(r)["repo"])
	if err != nil {
		serveError(w, err)
		return
	}
	if !repo.CanPublish(h.Repo, subject) {
		serveError(w, cerr.New(cerr.Forbidden, "subject cannot upload to this repo"))
		return
	}
	var req missingObjectsRequest
	if err := decodeJSON(r, &req); err != nil {
		serveError(w, err)
		return
	}
	for _, group := range [][]objectid.ID{req.Blobs, req.Manifests, req.Recipes, req.Snaps} {
		for _, id := range group {
			if !id.Valid() {
				serveError(w, cerr.New(cerr.InvalidInput, "invalid object id %q", id))
				return
			}
		}
	}

	resp := missingObjectsResponse{
		MissingBlobs:     []objectid.ID{},
		MissingManifests: []objectid.ID{},
		MissingRecipes:   []objectid.ID{},
		MissingSnaps:     []objectid.ID{},
	}
	for _, id := range req.Blobs {
		if ok, err := h.Store.Has(store.KindBlob, id); err != nil {
			serveError(w, err)
			return
		} else if !ok {
			resp.MissingBlobs = append(resp.MissingBlobs, id)
		}
	}
	for _, id := range req.Manifests {
		if ok, err := h.Store.Has(store.KindManifest, id); err != nil {
			serveError(w, err)
			return
		} else if !ok {
			resp.MissingManifests = append(resp.MissingManifests, id)
		}
	}
	for _, id := range req.Recipes {
		if ok, err := h.Store.Has(store.KindRecipe, id); err != nil {
			serveError(w, err)
			return
		} else if !ok {
			resp.MissingRecipes = append(resp.MissingRecipes, id)
		}
	}
	for _, id := range req.Snaps {
		if _, err := h.Store.GetSnap(id); err != nil {
			if cerr.CodeOf(err) == cerr.NotFound {
				resp.MissingSnaps = append(resp.MissingSnaps, id)
				continue
			}
			serveError(w, err)
			return
		}
	}
	serveJSON(w, http.StatusOK, resp)
}

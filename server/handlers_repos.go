package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/repo"
)

func validRepoID(id string) bool {
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

// repoForRead resolves the {repo} path var to a handle the subject may
// read.
func (app *App) repoForRead(r *http.Request) (*repo.Handle, repo.Subject, error) {
	subject := subjectFromRequest(r)
	h, err := app.repos.Get(mux.Vars(r)["repo"])
	if err != nil {
		return nil, subject, err
	}
	if !repo.CanRead(h.Repo, subject) {
		return nil, subject, cerr.New(cerr.Forbidden, "subject cannot read this repo")
	}
	return h, subject, nil
}

func (app *App) listRepos(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	ids, err := app.repos.List()
	if err != nil {
		serveError(w, err)
		return
	}
	readable := make([]string, 0, len(ids))
	for _, id := range ids {
		h, err := app.repos.Get(id)
		if err != nil {
			continue
		}
		if repo.CanRead(h.Repo, subject) {
			readable = append(readable, id)
		}
	}
	serveJSON(w, http.StatusOK, map[string][]string{"repos": readable})
}

type createRepoRequest struct {
	ID string `json:"id"`
}

func (app *App) createRepo(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	var req createRepoRequest
	if err := decodeJSON(r, &req); err != nil {
		serveError(w, err)
		return
	}
	if !validRepoID(req.ID) {
		serveError(w, cerr.New(cerr.InvalidInput, "invalid repo id %q", req.ID))
		return
	}
	h, err := app.repos.Create(req.ID, subject.Handle, subject.UserID)
	if err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusCreated, h.Repo)
}

func (app *App) getRepo(w http.ResponseWriter, r *http.Request) {
	h, _, err := app.repoForRead(r)
	if err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, h.Repo)
}

func (app *App) purgeRepo(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	if !subject.Admin {
		serveError(w, cerr.New(cerr.Forbidden, "admin required"))
		return
	}
	if err := app.repos.Purge(mux.Vars(r)["repo"]); err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, map[string]bool{"purged": true})
}

type createScopeRequest struct {
	ID string `json:"id"`
}

func (app *App) createScope(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	h, err := app.repos.Get(mux.Vars(r)["repo"])
	if err != nil {
		serveError(w, err)
		return
	}
	var req createScopeRequest
	if err := decodeJSON(r, &req); err != nil {
		serveError(w, err)
		return
	}

	h.Lock()
	defer h.Unlock()
	if !repo.CanPublish(h.Repo, subject) {
		serveError(w, cerr.New(cerr.Forbidden, "subject cannot modify this repo"))
		return
	}
	if req.ID == "" {
		serveError(w, cerr.New(cerr.InvalidInput, "scope id cannot be empty"))
		return
	}
	for _, s := range h.Repo.Scopes {
		if s == req.ID {
			serveError(w, cerr.New(cerr.Conflict, "scope already exists"))
			return
		}
	}
	h.Repo.Scopes = append(h.Repo.Scopes, req.ID)
	if err := h.Persist(); err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusCreated, map[string][]string{"scopes": h.Repo.Scopes})
}

func (app *App) getGateGraph(w http.ResponseWriter, r *http.Request) {
	h, _, err := app.repoForRead(r)
	if err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, h.Repo.GateGraph)
}

func (app *App) setGateGraph(w http.ResponseWriter, r *http.Request) {
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
	var graph model.GateGraph
	if err := decodeJSON(r, &graph); err != nil {
		serveError(w, err)
		return
	}
	if err := repo.ValidateGateGraph(graph); err != nil {
		serveError(w, err)
		return
	}

	h.Lock()
	defer h.Unlock()
	h.Repo.GateGraph = graph
	if err := h.Persist(); err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, h.Repo.GateGraph)
}

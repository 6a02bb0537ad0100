package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/converge-vcs/converge/cerr"
	"github.com/converge-vcs/converge/model"
	"github.com/converge-vcs/converge/objectid"
	"github.com/converge-vcs/converge/repo"
)

func (app *App) listLanes(w http.ResponseWriter, r *http.Request) {
	h, _, err := app.repoForRead(r)
	if err != nil {
		serveError(w, err)
		return
	}
	lanes := h.Repo.Lanes
	if lanes == nil {
		lanes = map[string]*model.Lane{}
	}
	serveJSON(w, http.StatusOK, lanes)
}

type createLaneRequest struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
}

func (app *App) createLane(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	h, err := app.repos.Get(mux.Vars(r)["repo"])
	if err != nil {
		serveError(w, err)
		return
	}
	var req createLaneRequest
	if err := decodeJSON(r, &req); err != nil {
		serveError(w, err)
		return
	}

	h.Lock()
	defer h.Unlock()
	if !repo.CanPublish(h.Repo, subject) {
		serveError(w, cerr.New(cerr.Forbidden, "subject cannot create lanes in this repo"))
		return
	}
	lane, err := h.CreateLane(req.ID, req.Members)
	if err != nil {
		serveError(w, err)
		return
	}
	if err := h.Persist(); err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusCreated, lane)
}

type laneHeadResponse struct {
	Head    *model.LaneHeadRecord  `json:"head,omitempty"`
	History []model.LaneHeadRecord `json:"history"`
}

func (app *App) getLaneHead(w http.ResponseWriter, r *http.Request) {
	h, _, err := app.repoForRead(r)
	if err != nil {
		serveError(w, err)
		return
	}
	vars := mux.Vars(r)
	resp := laneHeadResponse{History: []model.LaneHeadRecord{}}
	if rec, ok := h.LaneHead(vars["lane"], vars["user"]); ok {
		resp.Head = &rec
	}
	if hist := h.LaneHeadHistory(vars["lane"], vars["user"]); hist != nil {
		resp.History = hist
	}
	serveJSON(w, http.StatusOK, resp)
}

type setLaneHeadRequest struct {
	SnapID   objectid.ID `json:"snap_id"`
	ClientID string      `json:"client_id,omitempty"`
}

// setLaneHead records a new rolling head for (lane, user). The path user
// must be the caller, unless the caller is an admin.
func (app *App) setLaneHead(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	h, err := app.repos.Get(mux.Vars(r)["repo"])
	if err != nil {
		serveError(w, err)
		return
	}
	vars := mux.Vars(r)
	if vars["user"] != subject.Handle && !subject.Admin {
		serveError(w, cerr.New(cerr.Forbidden, "cannot set another user's lane head"))
		return
	}
	var req setLaneHeadRequest
	if err := decodeJSON(r, &req); err != nil {
		serveError(w, err)
		return
	}

	h.Lock()
	defer h.Unlock()
	rec, err := h.SetLaneHead(vars["lane"], vars["user"], req.SnapID, req.ClientID, time.Now())
	if err != nil {
		serveError(w, err)
		return
	}
	if err := h.Persist(); err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, rec)
}

package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/converge-vcs/converge/cerr"
)

type whoamiResponse struct {
	User   string `json:"user"`
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin"`
}

func (app *App) whoami(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	serveJSON(w, http.StatusOK, whoamiResponse{User: subject.Handle, UserID: subject.UserID, Admin: subject.Admin})
}

type bootstrapRequest struct {
	Token       string `json:"token"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
}

type bootstrapResponse struct {
	UserID string `json:"user_id"`
	Handle string `json:"handle"`
	Token  string `json:"token"`
}

// bootstrap mints the one-time admin. Unauthenticated by design: the
// bootstrap token in the body is the credential.
func (app *App) bootstrap(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if err := decodeJSON(r, &req); err != nil {
		serveError(w, err)
		return
	}
	user, secret, err := app.identity.Bootstrap(req.Token, req.Handle, req.DisplayName)
	if err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusCreated, bootstrapResponse{UserID: user.ID, Handle: user.Handle, Token: secret})
}

func (app *App) listUsers(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, http.StatusOK, app.identity.ListUsers())
}

type createUserRequest struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
}

func (app *App) createUser(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	if !subject.Admin {
		serveError(w, cerr.New(cerr.Forbidden, "admin required"))
		return
	}
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		serveError(w, err)
		return
	}
	user, err := app.identity.CreateUser(req.Handle, req.DisplayName)
	if err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusCreated, user)
}

func (app *App) listTokens(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	userID := subject.UserID
	if subject.Admin {
		userID = r.URL.Query().Get("user_id")
	}
	serveJSON(w, http.StatusOK, app.identity.ListTokens(userID))
}

type mintTokenRequest struct {
	UserID string `json:"user_id,omitempty"`
	Label  string `json:"label,omitempty"`
}

type mintTokenResponse struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

func (app *App) mintToken(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	var req mintTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		serveError(w, err)
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = subject.UserID
	}
	if userID != subject.UserID && !subject.Admin {
		serveError(w, cerr.New(cerr.Forbidden, "cannot mint a token for another user"))
		return
	}
	token, secret, err := app.identity.MintToken(userID, req.Label)
	if err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusCreated, mintTokenResponse{ID: token.ID, UserID: token.UserID, Token: secret})
}

func (app *App) revokeToken(w http.ResponseWriter, r *http.Request) {
	subject := subjectFromRequest(r)
	if err := app.identity.RevokeToken(mux.Vars(r)["token"], subject); err != nil {
		serveError(w, err)
		return
	}
	serveJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// Package server wires the core engines to an HTTP surface: a gorilla/mux
// router, bearer-token authentication, and JSON request/response handling.
// Handlers validate and translate; every state decision is delegated to
// the repo, merge, resolve, gc, and identity packages.
package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"

	gorhandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/converge-vcs/converge/identity"
	"github.com/converge-vcs/converge/internal/dcontext"
	"github.com/converge-vcs/converge/repo"
)

// App is one server process: configuration, the repo manager, the
// identity service, and the composed handler chain.
type App struct {
	Config *Configuration

	repos    *repo.Manager
	identity *identity.Service

	handler http.Handler
}

// NewApp builds an App from config: loads identity, seeds the dev
// identity if configured, and assembles the router and middleware.
func NewApp(ctx context.Context, config *Configuration) (*App, error) {
	ids, err := identity.Load(config.Storage.DataDir, config.Bootstrap.Token)
	if err != nil {
		return nil, err
	}
	if config.Bootstrap.Token == "" && config.Bootstrap.DevUser != "" && config.Bootstrap.DevToken != "" {
		if err := ids.SeedDevIdentity(config.Bootstrap.DevUser, config.Bootstrap.DevToken); err != nil {
			return nil, err
		}
	}

	app := &App{
		Config:   config,
		repos:    repo.NewManager(config.Storage.DataDir),
		identity: ids,
	}
	app.handler = app.buildHandler(ctx)
	return app, nil
}

func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	app.handler.ServeHTTP(w, r)
}

func (app *App) buildHandler(ctx context.Context) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", app.healthz).Methods(http.MethodGet)
	router.HandleFunc("/bootstrap", app.bootstrap).Methods(http.MethodPost)
	if app.Config.HTTP.Debug.Prometheus.Enabled {
		router.Handle(app.Config.HTTP.Debug.Prometheus.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	authed := router.NewRoute().Subrouter()
	authed.Use(app.authMiddleware)

	authed.HandleFunc("/whoami", app.whoami).Methods(http.MethodGet)

	authed.HandleFunc("/users", app.listUsers).Methods(http.MethodGet)
	authed.HandleFunc("/users", app.createUser).Methods(http.MethodPost)
	authed.HandleFunc("/tokens", app.listTokens).Methods(http.MethodGet)
	authed.HandleFunc("/tokens", app.mintToken).Methods(http.MethodPost)
	authed.HandleFunc("/tokens/{token}", app.revokeToken).Methods(http.MethodDelete)

	authed.HandleFunc("/repos", app.listRepos).Methods(http.MethodGet)
	authed.HandleFunc("/repos", app.createRepo).Methods(http.MethodPost)
	authed.HandleFunc("/repos/{repo}", app.getRepo).Methods(http.MethodGet)
	authed.HandleFunc("/repos/{repo}", app.purgeRepo).Methods(http.MethodDelete)
	authed.HandleFunc("/repos/{repo}/scopes", app.createScope).Methods(http.MethodPost)
	authed.HandleFunc("/repos/{repo}/gate-graph", app.getGateGraph).Methods(http.MethodGet)
	authed.HandleFunc("/repos/{repo}/gate-graph", app.setGateGraph).Methods(http.MethodPut)

	authed.HandleFunc("/repos/{repo}/objects/missing", app.findMissingObjects).Methods(http.MethodPost)
	authed.HandleFunc("/repos/{repo}/objects/blobs/{id}", app.putBlob).Methods(http.MethodPut)
	authed.HandleFunc("/repos/{repo}/objects/blobs/{id}", app.getBlob).Methods(http.MethodGet, http.MethodHead)
	authed.HandleFunc("/repos/{repo}/objects/manifests/{id}", app.putManifest).Methods(http.MethodPut)
	authed.HandleFunc("/repos/{repo}/objects/manifests/{id}", app.getObjectJSON).Methods(http.MethodGet)
	authed.HandleFunc("/repos/{repo}/objects/recipes/{id}", app.putRecipe).Methods(http.MethodPut)
	authed.HandleFunc("/repos/{repo}/objects/recipes/{id}", app.getObjectJSON).Methods(http.MethodGet)
	authed.HandleFunc("/repos/{repo}/objects/snaps/{id}", app.putSnap).Methods(http.MethodPut)
	authed.HandleFunc("/repos/{repo}/objects/snaps/{id}", app.getSnap).Methods(http.MethodGet)

	authed.HandleFunc("/repos/{repo}/publications", app.listPublications).Methods(http.MethodGet)
	authed.HandleFunc("/repos/{repo}/publications", app.createPublication).Methods(http.MethodPost)
	authed.HandleFunc("/repos/{repo}/bundles", app.listBundles).Methods(http.MethodGet)
	authed.HandleFunc("/repos/{repo}/bundles", app.createBundle).Methods(http.MethodPost)
	authed.HandleFunc("/repos/{repo}/bundles/{bundle}", app.getBundle).Methods(http.MethodGet)
	authed.HandleFunc("/repos/{repo}/bundles/{bundle}/approve", app.approveBundle).Methods(http.MethodPost)
	authed.HandleFunc("/repos/{repo}/bundles/{bundle}/pin", app.pinBundle).Methods(http.MethodPost)
	authed.HandleFunc("/repos/{repo}/bundles/{bundle}/unpin", app.unpinBundle).Methods(http.MethodPost)
	authed.HandleFunc("/repos/{repo}/pins", app.listPins).Methods(http.MethodGet)

	authed.HandleFunc("/repos/{repo}/promotions", app.listPromotions).Methods(http.MethodGet)
	authed.HandleFunc("/repos/{repo}/promotions", app.createPromotion).Methods(http.MethodPost)
	authed.HandleFunc("/repos/{repo}/promotion-state", app.getPromotionState).Methods(http.MethodGet)
	authed.HandleFunc("/repos/{repo}/releases", app.listReleases).Methods(http.MethodGet)
	authed.HandleFunc("/repos/{repo}/releases", app.createRelease).Methods(http.MethodPost)
	authed.HandleFunc("/repos/{repo}/releases/{release}", app.getRelease).Methods(http.MethodGet)

	authed.HandleFunc("/repos/{repo}/lanes", app.listLanes).Methods(http.MethodGet)
	authed.HandleFunc("/repos/{repo}/lanes", app.createLane).Methods(http.MethodPost)
	authed.HandleFunc("/repos/{repo}/lanes/{lane}/heads/{user}", app.getLaneHead).Methods(http.MethodGet)
	authed.HandleFunc("/repos/{repo}/lanes/{lane}/heads/{user}", app.setLaneHead).Methods(http.MethodPut)

	authed.HandleFunc("/repos/{repo}/gc", app.runGC).Methods(http.MethodPost)

	var handler http.Handler = router
	handler = requestIDMiddleware(handler)
	handler = gorhandlers.CombinedLoggingHandler(os.Stdout, handler)
	handler = gorhandlers.RecoveryHandler()(handler)
	handler = contextMiddleware(ctx, handler)
	return handler
}

type subjectKey struct{}

// subjectFromRequest returns the Subject the auth middleware attached.
func subjectFromRequest(r *http.Request) repo.Subject {
	s, _ := r.Context().Value(subjectKey{}).(repo.Subject)
	return s
}

// authMiddleware resolves the Authorization bearer to a Subject, serving
// 401 when the header is missing or the token is unknown/revoked.
func (app *App) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			w.Header().Set("WWW-Authenticate", "Bearer")
			serveJSON(w, http.StatusUnauthorized, errorEnvelope{Error: "authorization required", Code: "UNAUTHORIZED"})
			return
		}
		subject, err := app.identity.Authenticate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			serveJSON(w, http.StatusUnauthorized, errorEnvelope{Error: "invalid token", Code: "UNAUTHORIZED"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	})
}

// requestIDMiddleware tags each request's context logger with a fresh id.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := dcontext.WithField(r.Context(), "request.id", uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// contextMiddleware roots every request context in the app context so the
// process logger and cancellation propagate.
func contextMiddleware(base context.Context, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := dcontext.WithLogger(r.Context(), dcontext.GetLogger(base))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (app *App) healthz(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/converge-vcs/converge/internal/dcontext"
)

// Server couples an App with an http.Server and signal-driven shutdown.
type Server struct {
	app    *App
	server *http.Server
}

// NewServer configures process logging from config and builds the App.
func NewServer(ctx context.Context, config *Configuration) (*Server, error) {
	logger, err := configureLogging(config)
	if err != nil {
		return nil, err
	}
	dcontext.SetDefaultLogger(logger)
	ctx = dcontext.WithLogger(ctx, logger)

	app, err := NewApp(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Server{
		app: app,
		server: &http.Server{
			Addr:    config.HTTP.Addr,
			Handler: app,
		},
	}, nil
}

// ListenAndServe runs the server until SIGTERM/SIGINT, then drains with a
// bounded grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	log := dcontext.GetLogger(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-quit:
		log.Infof("received %v, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func configureLogging(config *Configuration) (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(config.Log.Level)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)

	switch config.Log.Formatter {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		return nil, errors.New("unsupported log formatter: " + config.Log.Formatter)
	}

	return logrus.NewEntry(logrus.StandardLogger()), nil
}

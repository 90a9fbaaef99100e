package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"

	"github.com/acm19/squash/internal/logger"
	"github.com/acm19/squash/internal/squash"
)

const shutdownTimeout = 30 * time.Second

// Config holds the HTTP settings.
type Config struct {
	Addr          string
	IncomingDir   string
	OutgoingDir   string
	MaxBatchBytes int64
	// Debug prints stack traces of recovered panics.
	Debug bool
}

type Server struct {
	cfg       Config
	fs        afero.Fs
	pipeline  *squash.Pipeline
	codecName string
	router    *mux.Router
}

// New wires the routes over pipeline. Files are served from fs.
func New(cfg Config, fs afero.Fs, pipeline *squash.Pipeline, codecName string) *Server {
	s := &Server{
		cfg:       cfg,
		fs:        fs,
		pipeline:  pipeline,
		codecName: codecName,
	}

	router := mux.NewRouter().UseEncodedPath().SkipClean(true)
	router.HandleFunc("/api/images", s.handleUpload).Methods(http.MethodPost)
	router.HandleFunc("/download/{name}", s.handleDownload).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/uploads/{name}", s.handleUploaded).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router = router

	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = recovery(s.cfg.Debug)(h)
	h = accessLog(h)
	h = withRequestID(h)
	return cors()(h)
}

// Run serves until ctx is done and then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

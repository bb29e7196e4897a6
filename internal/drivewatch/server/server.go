package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/drivewatch/internal/drivewatch/session"
	"github.com/autopeer-io/drivewatch/pkg/log"
	"github.com/autopeer-io/drivewatch/pkg/options"
)

const readyTimeout = time.Second

// Controller is the subset of the session controller exposed over HTTP.
type Controller interface {
	StartDriving(ctx context.Context) error
	StopDriving(ctx context.Context) error
	Snapshot(ctx context.Context) (session.State, error)
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	ctrl    Controller
}

func NewServer(opts *options.HttpOptions, ctrl Controller) *Server {
	s := &Server{
		options: opts,
		ctrl:    ctrl,
	}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: opts.ReadTimeout,
	}
	return s
}

// Router returns the admin routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// Liveness
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Readiness: the controller loop must answer.
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/session", s.getSession).Methods(http.MethodGet)
	api.HandleFunc("/session/start", s.transition(s.ctrl.StartDriving)).Methods(http.MethodPost)
	api.HandleFunc("/session/stop", s.transition(s.ctrl.StopDriving)).Methods(http.MethodPost)

	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	log.Info("Starting admin HTTP server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.options.ShutdownTimeout)
		defer cancel()
		log.Info("Stopping admin HTTP server")
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if _, err := s.ctrl.Snapshot(ctx); err != nil {
		http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) transition(action func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		s.getSession(w, r)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrAlreadyDriving), errors.Is(err, session.ErrNotDriving):
		code = http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to write response")
	}
}

package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"

	"github.com/jcdickinson/quarry/internal/analysis"
	"github.com/jcdickinson/quarry/internal/errdefs"
	"github.com/jcdickinson/quarry/internal/rpc"
)

type Options struct {
	SocketPath string
	// Expiration stops the daemon after this long without a request.
	// Zero uses ten minutes.
	Expiration time.Duration
	// Warm builds the table in the background as soon as the daemon starts.
	Warm bool
}

type Server struct {
	svc        analysis.Service
	socketPath string
	warm       bool
	httpServer *http.Server

	mu         sync.Mutex
	expTimer   *time.Timer
	expiration time.Duration
	stopOnce   sync.Once
	stopErr    error
}

func NewServer(svc analysis.Service, opts Options) *Server {
	if opts.Expiration <= 0 {
		opts.Expiration = 600 * time.Second
	}
	return &Server{
		svc:        svc,
		socketPath: opts.SocketPath,
		warm:       opts.Warm,
		expiration: opts.Expiration,
	}
}

// Handler returns the RPC routes without the expiration wrapper.
func (s *Server) Handler() http.Handler {
	return s.routes(func(h http.HandlerFunc) http.HandlerFunc { return h })
}

func (s *Server) routes(wrap func(http.HandlerFunc) http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /struct", wrap(s.handleStruct))
	mux.HandleFunc("POST /exists", wrap(s.handleExists))
	mux.HandleFunc("GET /list", wrap(s.handleList))
	mux.HandleFunc("GET /stats", wrap(s.handleStats))
	mux.HandleFunc("POST /init", wrap(s.handleInit))
	mux.HandleFunc("POST /clear-cache", wrap(s.handleClearCache))
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

// Start serves on the unix socket until Stop is called, a shutdown request
// arrives, or the daemon sits idle past its expiration.
func (s *Server) Start(ctx context.Context) error {
	log := slogctx.FromCtx(ctx)

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return errors.Errorf("creating socket directory: %w", err)
	}
	os.Remove(s.socketPath)

	baseCtx := context.WithoutCancel(ctx)
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:     s.routes(s.withExpReset),
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	s.expTimer = time.AfterFunc(s.expiration, func() { s.expire(baseCtx) })
	s.mu.Unlock()

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Errorf("listening on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return errors.Errorf("setting socket permissions: %w", err)
	}

	if s.warm {
		go func() {
			if err := s.svc.EnsureInitialized(baseCtx); err != nil {
				log.WarnContext(baseCtx, "warming struct cache failed", "error", err)
			}
		}()
	}

	log.InfoContext(ctx, "daemon listening", "socket", s.socketPath, "expiration", s.expiration)

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return errors.Errorf("serving: %w", err)
	}
	return nil
}

// Stop shuts the server down once; later calls return the first result.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		log := slogctx.FromCtx(ctx)
		var errs []error

		s.mu.Lock()
		if s.expTimer != nil {
			s.expTimer.Stop()
		}
		httpServer := s.httpServer
		s.mu.Unlock()

		if httpServer != nil {
			if err := httpServer.Shutdown(ctx); err != nil {
				log.ErrorContext(ctx, "daemon shutdown failed", "error", err)
				errs = append(errs, err)
			}
		}
		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			log.ErrorContext(ctx, "removing socket failed", "error", err)
			errs = append(errs, err)
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}

func (s *Server) expire(ctx context.Context) {
	slogctx.FromCtx(ctx).InfoContext(ctx, "daemon expiring after inactivity", "expiration", s.expiration)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func (s *Server) resetExpiration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expTimer != nil {
		s.expTimer.Stop()
		s.expTimer.Reset(s.expiration)
	}
}

func (s *Server) withExpReset(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.resetExpiration()
		handler(w, r)
	}
}

func (s *Server) handleStruct(w http.ResponseWriter, r *http.Request) {
	var req rpc.StructRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{Error: err.Error()})
		return
	}

	info, err := s.svc.Lookup(r.Context(), req.Path)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.StructResponse{Struct: info})
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	var req rpc.StructRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rpc.ExistsResponse{Exists: s.svc.Exists(r.Context(), req.Path)})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	paths, err := s.svc.List(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.ListResponse{Paths: paths})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpc.StatsResponse{Entries: stats.Entries, Initialized: stats.Initialized})
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.EnsureInitialized(r.Context()); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	var req rpc.ClearRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, rpc.ErrorResponse{Error: err.Error()})
			return
		}
	}
	if err := s.svc.Clear(r.Context(), req.Purge); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	slogctx.FromCtx(r.Context()).InfoContext(r.Context(), "struct cache cleared", "purge", req.Purge)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	ctx := context.WithoutCancel(r.Context())
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError encodes err with its category code so the client can rebuild it.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	resp := rpc.ErrorResponse{Error: err.Error(), Code: errdefs.Code(err)}

	var notFound *errdefs.TypeNotFoundError
	var notStruct *errdefs.NotAStructError
	var structural *errdefs.StructuralError
	var ioErr *errdefs.IOError
	switch {
	case errors.As(err, &notFound):
		resp.Path = notFound.Path
		resp.Ambiguous = notFound.Ambiguous
	case errors.As(err, &notStruct):
		resp.Path, resp.Kind = notStruct.Path, notStruct.Kind
	case errors.As(err, &structural):
		resp.Path, resp.Error = structural.Path, structural.Reason
	case errors.As(err, &ioErr):
		resp.Path = ioErr.Path
	}

	status := http.StatusInternalServerError
	switch resp.Code {
	case errdefs.CodeTypeNotFound:
		status = http.StatusNotFound
	case errdefs.CodeNotAStruct, errdefs.CodeStructural:
		status = http.StatusUnprocessableEntity
	case errdefs.CodeToolInvocation, errdefs.CodeToolchainMissing, errdefs.CodeComponentMissing,
		errdefs.CodeSchemaDecode, errdefs.CodeAnalysisFailure:
		status = http.StatusBadGateway
	}
	if status >= 500 {
		slogctx.FromCtx(ctx).ErrorContext(ctx, "request failed", "code", resp.Code, "error", err)
	}
	writeJSON(w, status, resp)
}

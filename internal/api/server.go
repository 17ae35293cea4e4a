package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/cartographer/internal/status"
	"github.com/MikeSquared-Agency/cartographer/internal/store"
)

// Reader serves the read side of the latest completed run.
type Reader interface {
	HasData(ctx context.Context) (bool, error)
	ListSolutions(ctx context.Context) ([]store.SolutionSummary, error)
	LatestSolution(ctx context.Context) (store.Solution, error)
	GetSolution(ctx context.Context, solutionID string) (store.Solution, error)
	ConversationsBySolution(ctx context.Context, solutionID string) ([]store.ConversationPoint, error)
	SimilarConversations(ctx context.Context, conversationID string, limit int) ([]store.SimilarConversation, error)
}

// Starter begins a pipeline run over an uploaded export.
type Starter interface {
	Start(ctx context.Context, data []byte) (status.Status, error)
}

type Deps struct {
	Reader  Reader
	Status  status.Store
	Starter Starter
	Metrics http.Handler
	Logger  *slog.Logger
}

type Options struct {
	Port           int
	APIToken       string
	MaxUploadBytes int64
}

type Server struct {
	router *chi.Mux
	http   *http.Server
	deps   Deps
	opts   Options
}

func NewServer(deps Deps, opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		deps:   deps,
		opts:   opts,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Get("/health", s.health)
	router.Get("/status", s.status)
	router.Get("/processing-status", s.status)
	router.Get("/has-data", s.hasData)
	if deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	router.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(opts.APIToken))
		r.Post("/upload", s.upload)
	})

	router.Route("/conversations", func(r chi.Router) {
		r.Use(s.requireData)
		r.Get("/clusters", s.latestClusters)
		r.Get("/cluster-solutions", s.clusterSolutions)
		r.Get("/clusters-in-solution/{solutionID}", s.clustersInSolution)
		r.Get("/by-cluster-solution/{solutionID}", s.conversationsBySolution)
		r.Get("/{conversationID}/similar", s.similarConversations)
	})

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.deps.Logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// status reports the run named by ?run_id, or the most recent run.
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	var (
		st  status.Status
		err error
	)
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		st, err = s.deps.Status.GetStatus(r.Context(), runID)
	} else {
		st, err = s.deps.Status.LatestStatus(r.Context())
	}
	if err != nil {
		s.internalError(w, r, "read status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) hasData(w http.ResponseWriter, r *http.Request) {
	ok, err := s.deps.Reader.HasData(r.Context())
	if err != nil {
		s.internalError(w, r, "check data", err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, what string, err error) {
	s.deps.Logger.Error(what+" failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
	writeError(w, http.StatusInternalServerError, what+" failed")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

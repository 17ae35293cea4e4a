package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/cartographer/internal/store"
)

const (
	defaultSimilarLimit = 10
	maxSimilarLimit     = 100
)

// requireData answers 404 until a run has completed with conversations.
func (s *Server) requireData(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := s.deps.Reader.HasData(r.Context())
		if err != nil {
			s.internalError(w, r, "check data", err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "No conversation data found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) latestClusters(w http.ResponseWriter, r *http.Request) {
	sol, err := s.deps.Reader.LatestSolution(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No clustering solution found")
		return
	}
	if err != nil {
		s.internalError(w, r, "read clusters", err)
		return
	}
	writeJSON(w, http.StatusOK, sol)
}

func (s *Server) clusterSolutions(w http.ResponseWriter, r *http.Request) {
	sols, err := s.deps.Reader.ListSolutions(r.Context())
	if err != nil {
		s.internalError(w, r, "list solutions", err)
		return
	}
	writeJSON(w, http.StatusOK, sols)
}

func (s *Server) clustersInSolution(w http.ResponseWriter, r *http.Request) {
	sol, err := s.deps.Reader.GetSolution(r.Context(), chi.URLParam(r, "solutionID"))
	if err != nil {
		s.internalError(w, r, "read solution", err)
		return
	}
	writeJSON(w, http.StatusOK, sol)
}

func (s *Server) conversationsBySolution(w http.ResponseWriter, r *http.Request) {
	points, err := s.deps.Reader.ConversationsBySolution(r.Context(), chi.URLParam(r, "solutionID"))
	if err != nil {
		s.internalError(w, r, "read conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) similarConversations(w http.ResponseWriter, r *http.Request) {
	limit := defaultSimilarLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSimilarLimit)
	}

	similar, err := s.deps.Reader.SimilarConversations(r.Context(), chi.URLParam(r, "conversationID"), limit)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "find similar conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, similar)
}

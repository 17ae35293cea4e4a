package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/cartographer/internal/status"
	"github.com/MikeSquared-Agency/cartographer/internal/store"
)

type fakeReader struct {
	hasData   bool
	err       error
	solutions []store.SolutionSummary
	byID      map[string]store.Solution
	points    []store.ConversationPoint
	similar   map[string][]store.SimilarConversation
	lastLimit int
}

func (f *fakeReader) HasData(context.Context) (bool, error) { return f.hasData, f.err }

func (f *fakeReader) ListSolutions(context.Context) ([]store.SolutionSummary, error) {
	return f.solutions, nil
}

func (f *fakeReader) LatestSolution(ctx context.Context) (store.Solution, error) {
	if len(f.solutions) == 0 {
		return store.Solution{}, store.ErrNotFound
	}
	return f.GetSolution(ctx, f.solutions[0].SolutionID)
}

func (f *fakeReader) GetSolution(_ context.Context, id string) (store.Solution, error) {
	if sol, ok := f.byID[id]; ok {
		return sol, nil
	}
	return store.Solution{SolutionID: id, Clusters: []store.Cluster{}}, nil
}

func (f *fakeReader) ConversationsBySolution(context.Context, string) ([]store.ConversationPoint, error) {
	return f.points, nil
}

func (f *fakeReader) SimilarConversations(_ context.Context, id string, limit int) ([]store.SimilarConversation, error) {
	f.lastLimit = limit
	sims, ok := f.similar[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sims, nil
}

type fakeStarter struct {
	got []byte
	err error
}

func (f *fakeStarter) Start(_ context.Context, data []byte) (status.Status, error) {
	f.got = data
	if f.err != nil {
		return status.Status{}, f.err
	}
	return status.Status{RunID: "run-1", State: status.StateProcessing, Message: "Started processing conversations"}, nil
}

func strPtr(s string) *string { return &s }

func populatedReader() *fakeReader {
	return &fakeReader{
		hasData: true,
		solutions: []store.SolutionSummary{
			{SolutionID: "kmeans_3", NClusters: 3},
			{SolutionID: "kmeans_24", NClusters: 24},
		},
		byID: map[string]store.Solution{
			"kmeans_3": {SolutionID: "kmeans_3", Clusters: []store.Cluster{
				{ClusterID: "cluster_0", Size: 2, Label: strPtr("Go"), ConversationIDs: []string{"a", "b"}},
			}},
		},
		points: []store.ConversationPoint{{ConversationID: "a", Title: "A", ClusterID: strPtr("cluster_0")}},
		similar: map[string][]store.SimilarConversation{
			"a": {{ConversationID: "b", Title: "B", Similarity: 0.9}},
		},
	}
}

func newTestServer(reader *fakeReader, starter *fakeStarter, token string) (*Server, *status.Memory) {
	mem := status.NewMemory()
	srv := NewServer(Deps{
		Reader:  reader,
		Status:  mem,
		Starter: starter,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "metrics") }),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{Port: 8760, APIToken: token, MaxUploadBytes: 1024})
	return srv, mem
}

func do(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(populatedReader(), &fakeStarter{}, "")
	w := do(srv, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv, _ := newTestServer(populatedReader(), &fakeStarter{}, "")
	w := do(srv, httptest.NewRequest("GET", "/nonexistent", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestStatus_IdleWithoutRuns(t *testing.T) {
	srv, _ := newTestServer(populatedReader(), &fakeStarter{}, "")
	w := do(srv, httptest.NewRequest("GET", "/status", nil))

	var st status.Status
	json.NewDecoder(w.Body).Decode(&st)
	if st.State != status.StateIdle || st.Progress != 0 {
		t.Errorf("expected idle status, got %+v", st)
	}
}

func TestStatus_ByRunID(t *testing.T) {
	srv, mem := newTestServer(populatedReader(), &fakeStarter{}, "")
	ctx := context.Background()
	mem.SetStatus(ctx, status.Status{RunID: "r1", State: status.StateComplete, Message: "Processing complete", Progress: 100})
	mem.SetStatus(ctx, status.Status{RunID: "r2", State: status.StateProcessing, Message: "Parsing conversations", Progress: 5})

	tests := []struct {
		path      string
		wantState status.State
		wantRun   string
	}{
		{"/status", status.StateProcessing, "r2"},
		{"/status?run_id=r1", status.StateComplete, "r1"},
		{"/processing-status?run_id=r1", status.StateComplete, "r1"},
		{"/status?run_id=unknown", status.StateIdle, "unknown"},
	}
	for _, tt := range tests {
		w := do(srv, httptest.NewRequest("GET", tt.path, nil))
		var st status.Status
		json.NewDecoder(w.Body).Decode(&st)
		if st.State != tt.wantState || st.RunID != tt.wantRun {
			t.Errorf("%s: got %+v", tt.path, st)
		}
	}
}

func TestHasData(t *testing.T) {
	for _, want := range []bool{true, false} {
		srv, _ := newTestServer(&fakeReader{hasData: want}, &fakeStarter{}, "")
		w := do(srv, httptest.NewRequest("GET", "/has-data", nil))
		if strings.TrimSpace(w.Body.String()) != map[bool]string{true: "true", false: "false"}[want] {
			t.Errorf("expected %v, got %s", want, w.Body.String())
		}
	}
}

func TestConversationRoutes_NoData(t *testing.T) {
	srv, _ := newTestServer(&fakeReader{}, &fakeStarter{}, "")
	for _, path := range []string{
		"/conversations/clusters",
		"/conversations/cluster-solutions",
		"/conversations/clusters-in-solution/kmeans_3",
		"/conversations/by-cluster-solution/kmeans_3",
		"/conversations/a/similar",
	} {
		w := do(srv, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}
}

func TestConversationRoutes_ReaderError(t *testing.T) {
	srv, _ := newTestServer(&fakeReader{err: errors.New("db down")}, &fakeStarter{}, "")
	w := do(srv, httptest.NewRequest("GET", "/conversations/clusters", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "db down") {
		t.Error("internal error detail leaked to client")
	}
}

func TestLatestClusters(t *testing.T) {
	srv, _ := newTestServer(populatedReader(), &fakeStarter{}, "")
	w := do(srv, httptest.NewRequest("GET", "/conversations/clusters", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var sol store.Solution
	json.NewDecoder(w.Body).Decode(&sol)
	if sol.SolutionID != "kmeans_3" || len(sol.Clusters) != 1 || *sol.Clusters[0].Label != "Go" {
		t.Errorf("unexpected solution: %+v", sol)
	}
}

func TestClusterSolutions(t *testing.T) {
	srv, _ := newTestServer(populatedReader(), &fakeStarter{}, "")
	w := do(srv, httptest.NewRequest("GET", "/conversations/cluster-solutions", nil))

	var sols []map[string]any
	json.NewDecoder(w.Body).Decode(&sols)
	if len(sols) != 2 || sols[0]["cluster_solution_id"] != "kmeans_3" || sols[0]["n_clusters"] != float64(3) {
		t.Errorf("unexpected solutions: %v", sols)
	}
}

func TestClustersInSolution_Unknown(t *testing.T) {
	srv, _ := newTestServer(populatedReader(), &fakeStarter{}, "")
	w := do(srv, httptest.NewRequest("GET", "/conversations/clusters-in-solution/kmeans_99", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["cluster_solution_id"] != "kmeans_99" {
		t.Errorf("expected echoed id, got %v", body)
	}
	if clusters, ok := body["clusters"].([]any); !ok || len(clusters) != 0 {
		t.Errorf("expected empty cluster list, got %v", body["clusters"])
	}
}

func TestConversationsBySolution(t *testing.T) {
	srv, _ := newTestServer(populatedReader(), &fakeStarter{}, "")
	w := do(srv, httptest.NewRequest("GET", "/conversations/by-cluster-solution/kmeans_3", nil))

	var points []map[string]any
	json.NewDecoder(w.Body).Decode(&points)
	if len(points) != 1 || points[0]["cluster_id"] != "cluster_0" {
		t.Errorf("unexpected points: %v", points)
	}
	if _, ok := points[0]["umap_x"]; !ok {
		t.Error("expected umap_x key even when null")
	}
}

func TestSimilarConversations(t *testing.T) {
	reader := populatedReader()
	srv, _ := newTestServer(reader, &fakeStarter{}, "")

	w := do(srv, httptest.NewRequest("GET", "/conversations/a/similar", nil))
	if w.Code != http.StatusOK || reader.lastLimit != defaultSimilarLimit {
		t.Errorf("expected default limit, got code %d limit %d", w.Code, reader.lastLimit)
	}

	do(srv, httptest.NewRequest("GET", "/conversations/a/similar?limit=500", nil))
	if reader.lastLimit != maxSimilarLimit {
		t.Errorf("expected capped limit, got %d", reader.lastLimit)
	}

	w = do(srv, httptest.NewRequest("GET", "/conversations/a/similar?limit=zero", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}

	w = do(srv, httptest.NewRequest("GET", "/conversations/missing/similar", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown conversation, got %d", w.Code)
	}
}

func TestUpload_RawBody(t *testing.T) {
	starter := &fakeStarter{}
	srv, _ := newTestServer(populatedReader(), starter, "")

	w := do(srv, httptest.NewRequest("POST", "/upload", strings.NewReader(`[]`)))
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if string(starter.got) != "[]" {
		t.Errorf("expected body passed through, got %q", starter.got)
	}
	var st status.Status
	json.NewDecoder(w.Body).Decode(&st)
	if st.RunID != "run-1" || st.State != status.StateProcessing || st.Progress != 0 {
		t.Errorf("unexpected initial status: %+v", st)
	}
}

func TestUpload_Multipart(t *testing.T) {
	starter := &fakeStarter{}
	srv, _ := newTestServer(populatedReader(), starter, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "conversations.json")
	fw.Write([]byte(`[{"title":"x"}]`))
	mw.Close()

	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := do(srv, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if string(starter.got) != `[{"title":"x"}]` {
		t.Errorf("unexpected file content %q", starter.got)
	}
}

func TestUpload_MultipartMissingFile(t *testing.T) {
	srv, _ := newTestServer(populatedReader(), &fakeStarter{}, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("other", "value")
	mw.Close()

	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if w := do(srv, req); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestUpload_Rejections(t *testing.T) {
	srv, _ := newTestServer(populatedReader(), &fakeStarter{}, "")

	if w := do(srv, httptest.NewRequest("POST", "/upload", strings.NewReader(""))); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty body, got %d", w.Code)
	}
	big := strings.Repeat("x", 2048)
	if w := do(srv, httptest.NewRequest("POST", "/upload", strings.NewReader(big))); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for oversized body, got %d", w.Code)
	}
}

func TestUpload_StartFailure(t *testing.T) {
	srv, _ := newTestServer(populatedReader(), &fakeStarter{err: errors.New("db down")}, "")
	if w := do(srv, httptest.NewRequest("POST", "/upload", strings.NewReader("[]"))); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestUpload_BearerAuth(t *testing.T) {
	starter := &fakeStarter{}
	srv, _ := newTestServer(populatedReader(), starter, "secret")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/upload", strings.NewReader("[]"))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if w := do(srv, req); w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}

	// Reads stay open.
	if w := do(srv, httptest.NewRequest("GET", "/has-data", nil)); w.Code != http.StatusOK {
		t.Errorf("expected open read route, got %d", w.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	srv, _ := newTestServer(populatedReader(), &fakeStarter{}, "")
	w := do(srv, httptest.NewRequest("GET", "/metrics", nil))
	if w.Body.String() != "metrics" {
		t.Errorf("expected metrics handler, got %q", w.Body.String())
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/chunker"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/ingest"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/ranking"
	"github.com/hyperjump/kioku/internal/registry"
	"github.com/hyperjump/kioku/internal/retrieval"
	"github.com/hyperjump/kioku/internal/storage"
)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	kwIdx, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatalf("failed to open keyword index: %v", err)
	}
	t.Cleanup(func() { kwIdx.Close() })

	embedder := embedding.NewMockEmbedder(8)
	reg := registry.New(store)
	cfg := &config.Config{}
	cfg.Embedding.Backend = "local"
	config.ApplyDefaults(cfg)
	cfg.Embedding.Dimensions = 8

	chunking := chunker.Options{ChunkSize: 16, Overlap: 2, Strategy: chunker.StrategyFixed}
	ingestor := ingest.NewIngestor(store, embedder, kwIdx, nil, chunking, models.BackendLocal, 1, zap.NewNop())
	engine := retrieval.NewEngine(store, reg, embedder, ranking.NewReranker(nil), &cfg.Retrieval, zap.NewNop())
	srv := NewServer(engine, ingestor, store, reg, kwIdx, cfg, zap.NewNop())
	return srv, srv.routes()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandleCreateAndGetDataset(t *testing.T) {
	_, h := newTestServer(t)

	w := doJSON(t, h, http.MethodPost, "/api/v1/datasets", map[string]string{"name": "manual", "source_category": "docs"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d: %s", w.Code, w.Body.String())
	}
	var ds models.Dataset
	if err := json.NewDecoder(w.Body).Decode(&ds); err != nil {
		t.Fatal(err)
	}
	if ds.Status != models.StatusPending {
		t.Errorf("expected pending, got %s", ds.Status)
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/datasets/"+ds.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get: got %d", w.Code)
	}
}

func TestHandleCreateDatasetRejectsEmptyName(t *testing.T) {
	_, h := newTestServer(t)
	w := doJSON(t, h, http.MethodPost, "/api/v1/datasets", map[string]string{"name": "  "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleGetDatasetNotFound(t *testing.T) {
	_, h := newTestServer(t)
	w := doJSON(t, h, http.MethodGet, "/api/v1/datasets/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleIngestAndRetrieve(t *testing.T) {
	_, h := newTestServer(t)

	w := doJSON(t, h, http.MethodPost, "/api/v1/datasets", map[string]string{"name": "manual"})
	var ds models.Dataset
	if err := json.NewDecoder(w.Body).Decode(&ds); err != nil {
		t.Fatal(err)
	}

	w = doJSON(t, h, http.MethodPost, "/api/v1/datasets/"+ds.ID+"/ingest", map[string]interface{}{
		"text": "the quick brown fox jumps over the lazy dog",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("ingest: got %d: %s", w.Code, w.Body.String())
	}
	var ingested models.Dataset
	if err := json.NewDecoder(w.Body).Decode(&ingested); err != nil {
		t.Fatal(err)
	}
	if ingested.Status != models.StatusReady {
		t.Errorf("expected ready after ingest, got %s", ingested.Status)
	}

	w = doJSON(t, h, http.MethodPut, "/api/v1/consumers/agent/links/"+ds.ID, map[string]interface{}{
		"weight": 1.0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("set link: got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodPost, "/api/v1/retrieve", map[string]interface{}{
		"consumer_id": "agent",
		"query":       "the quick brown fox jumps over the lazy dog",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("retrieve: got %d: %s", w.Code, w.Body.String())
	}
	var bundle models.ContextBundle
	if err := json.NewDecoder(w.Body).Decode(&bundle); err != nil {
		t.Fatal(err)
	}
	if !bundle.ContextUsed {
		t.Error("expected context used")
	}
}

func TestHandleRetrieveRequiresFields(t *testing.T) {
	_, h := newTestServer(t)
	w := doJSON(t, h, http.MethodPost, "/api/v1/retrieve", map[string]string{"query": "no consumer"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleSetLinkRejectsBadWeight(t *testing.T) {
	_, h := newTestServer(t)

	w := doJSON(t, h, http.MethodPost, "/api/v1/datasets", map[string]string{"name": "manual"})
	var ds models.Dataset
	if err := json.NewDecoder(w.Body).Decode(&ds); err != nil {
		t.Fatal(err)
	}

	w = doJSON(t, h, http.MethodPut, "/api/v1/consumers/agent/links/"+ds.ID, map[string]interface{}{
		"weight": 5.0,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for out-of-range weight, got %d", w.Code)
	}
}

func TestHandleKeywordSearch(t *testing.T) {
	_, h := newTestServer(t)

	w := doJSON(t, h, http.MethodPost, "/api/v1/datasets", map[string]string{"name": "manual"})
	var ds models.Dataset
	if err := json.NewDecoder(w.Body).Decode(&ds); err != nil {
		t.Fatal(err)
	}
	w = doJSON(t, h, http.MethodPost, "/api/v1/datasets/"+ds.ID+"/ingest", map[string]interface{}{
		"text": "bayesian inference over streaming data",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("ingest: got %d", w.Code)
	}
	doJSON(t, h, http.MethodPut, "/api/v1/consumers/agent/links/"+ds.ID, map[string]interface{}{"weight": 1.0})

	w = doJSON(t, h, http.MethodPost, "/api/v1/keyword-search", map[string]interface{}{
		"consumer_id": "agent",
		"query":       "bayesian",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("keyword search: got %d: %s", w.Code, w.Body.String())
	}
	var out struct {
		Results []struct {
			ChunkID   string  `json:"ChunkID"`
			DatasetID string  `json:"DatasetID"`
			Score     float64 `json:"Score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Results) == 0 {
		t.Error("expected keyword hits")
	}
}

func TestHandleHealthAndStatus(t *testing.T) {
	_, h := newTestServer(t)

	w := doJSON(t, h, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health: got %d", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	var status map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if _, ok := status["datasets"]; !ok {
		t.Error("expected datasets count in status")
	}
}

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

func TestHandleWatchDirectories(t *testing.T) {
	srv, h := newTestServer(t)
	mock := &mockWatchService{dirs: []string{"/tmp/docs"}}
	srv.SetWatcher(mock, "")

	w := doJSON(t, h, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: got %d", w.Code)
	}
	var out struct {
		Directories []string `json:"directories"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Directories) != 1 || out.Directories[0] != "/tmp/docs" {
		t.Errorf("got %v", out.Directories)
	}

	dir := t.TempDir()
	w = doJSON(t, h, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir})
	if w.Code != http.StatusCreated {
		t.Fatalf("add: got %d: %s", w.Code, w.Body.String())
	}
	if len(mock.dirs) != 2 {
		t.Errorf("expected 2 watched dirs, got %v", mock.dirs)
	}

	w = doJSON(t, h, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("remove: got %d: %s", w.Code, w.Body.String())
	}
	if len(mock.dirs) != 1 {
		t.Errorf("expected 1 watched dir after remove, got %v", mock.dirs)
	}
}

func TestHandleWatchDisabled(t *testing.T) {
	_, h := newTestServer(t)
	w := doJSON(t, h, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", w.Code)
	}
}

func TestServerStop(t *testing.T) {
	srv, _ := newTestServer(t)
	// Stop before Start is a no-op.
	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("stop: %v", err)
	}
}

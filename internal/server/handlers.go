package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/retrieval"
)

type retrieveRequest struct {
	ConsumerID string   `json:"consumer_id"`
	Query      string   `json:"query"`
	TopK       int      `json:"top_k,omitempty"`
	Threshold  float64  `json:"threshold,omitempty"`
	MaxChunks  int      `json:"max_chunks,omitempty"`
	MaxTokens  int      `json:"max_tokens,omitempty"`
	IntentTags []string `json:"intent_tags,omitempty"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConsumerID == "" || req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "consumer_id and query are required")
		return
	}
	s.logger.Debug("retrieve request", zap.String("consumer_id", req.ConsumerID), zap.String("query", req.Query))
	bundle, err := s.engine.RetrieveContext(r.Context(), req.ConsumerID, req.Query, retrieval.RetrieveOptions{
		TopK:       req.TopK,
		Threshold:  req.Threshold,
		MaxChunks:  req.MaxChunks,
		MaxTokens:  req.MaxTokens,
		IntentTags: req.IntentTags,
	})
	if err != nil {
		s.logger.Error("retrieval failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, bundle)
}

type keywordSearchRequest struct {
	ConsumerID string `json:"consumer_id"`
	Query      string `json:"query"`
	Limit      int    `json:"limit,omitempty"`
}

func (s *Server) handleKeywordSearch(w http.ResponseWriter, r *http.Request) {
	if s.keyword == nil {
		s.respondError(w, http.StatusNotImplemented, "keyword search not enabled")
		return
	}
	var req keywordSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConsumerID == "" || req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "consumer_id and query are required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = s.config.Retrieval.DefaultTopK
	}
	links, err := s.registry.EnabledLinks(r.Context(), req.ConsumerID)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	datasetIDs := make([]string, len(links))
	for i, link := range links {
		datasetIDs[i] = link.DatasetID
	}
	results, err := s.keyword.Search(r.Context(), req.Query, datasetIDs, req.Limit)
	if err != nil {
		s.logger.Error("keyword search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

type createDatasetRequest struct {
	Name           string `json:"name"`
	SourceCategory string `json:"source_category,omitempty"`
}

func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req createDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	backend := models.BackendKind(s.config.Embedding.Backend)
	ds, err := s.ingestor.CreateDataset(r.Context(), "", req.Name, req.SourceCategory, backend)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, ds)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.store.ListDatasets(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"datasets": datasets})
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ds, err := s.store.GetDataset(r.Context(), id)
	if err != nil {
		s.respondError(w, statusFor(err), "dataset not found")
		return
	}
	s.respondJSON(w, http.StatusOK, ds)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete dataset request", zap.String("id", id))
	if err := s.ingestor.DeleteDataset(r.Context(), id); err != nil {
		s.logger.Error("dataset deletion failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type ingestRequest struct {
	Text string   `json:"text"`
	Tags []string `json:"tags,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ingest request", zap.String("dataset_id", id), zap.Int("bytes", len(req.Text)))
	if err := s.ingestor.IngestText(r.Context(), id, req.Text, req.Tags); err != nil {
		s.logger.Error("ingestion failed", zap.String("dataset_id", id), zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	ds, err := s.store.GetDataset(r.Context(), id)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, ds)
}

type upsertConsumerRequest struct {
	Name          string   `json:"name"`
	SpecialtyTags []string `json:"specialty_tags,omitempty"`
}

func (s *Server) handleUpsertConsumer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req upsertConsumerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c := &models.Consumer{ID: id, Name: req.Name, SpecialtyTags: req.SpecialtyTags}
	if err := s.registry.UpsertConsumer(r.Context(), c); err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	links, err := s.registry.GetLinks(r.Context(), id)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"links": links})
}

type setLinkRequest struct {
	Enabled     *bool   `json:"enabled,omitempty"`
	Weight      float64 `json:"weight"`
	AccessLevel string  `json:"access_level,omitempty"`
}

func (s *Server) handleSetLink(w http.ResponseWriter, r *http.Request) {
	consumerID := chi.URLParam(r, "id")
	datasetID := chi.URLParam(r, "datasetID")
	var req setLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	accessLevel := models.AccessFull
	if req.AccessLevel != "" {
		accessLevel = models.AccessLevel(req.AccessLevel)
	}
	link := &models.ConsumerLink{
		ConsumerID:  consumerID,
		DatasetID:   datasetID,
		Enabled:     enabled,
		Weight:      req.Weight,
		AccessLevel: accessLevel,
	}
	if err := s.registry.SetLink(r.Context(), link); err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, link)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	datasetCount, err := s.store.CountDatasets(ctx)
	if err != nil {
		s.logger.Error("status: count datasets failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkCount, err := s.store.CountChunks(ctx)
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"datasets": datasetCount,
		"chunks":   chunkCount,
	}
	if s.keyword != nil {
		if n, err := s.keyword.DocCount(); err == nil {
			resp["keyword_docs"] = n
		}
	}
	resp["config"] = map[string]interface{}{
		"embedding_backend":    s.config.Embedding.Backend,
		"embedding_model":      s.config.Embedding.Model,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"chunk_size":           s.config.Chunking.ChunkSize,
		"chunk_overlap":        s.config.Chunking.Overlap,
		"chunking_strategy":    s.config.Chunking.Strategy,
		"database_path":        s.config.Storage.DatabasePath,
		"keyword_index_path":   s.config.Storage.KeywordIndexPath,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	s.config.Watch.Directories = s.watch.Directories()
	err := config.Save(s.configPath, s.config)
	s.configMu.Unlock()
	if err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case models.IsNotFound(err):
		return http.StatusNotFound
	case models.IsValidation(err):
		return http.StatusBadRequest
	case models.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"fluorite-memory/internal/engine"
	"fluorite-memory/internal/search"
	"fluorite-memory/internal/storage"
	"fluorite-memory/internal/types"
)

const defaultLimit = 10

type Server struct {
	engine *engine.MemoryEngine
	log    *slog.Logger
}

func NewServer(e *engine.MemoryEngine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine: e,
		log:    logger.With("component", "api"),
	}
}

// StoreRequest carries either one chunk or a batch.
type StoreRequest struct {
	Chunk  *types.Chunk   `json:"chunk,omitempty"`
	Chunks []*types.Chunk `json:"chunks,omitempty"`
}

type IDRequest struct {
	ID types.ChunkID `json:"id"`
}

type SearchRequest struct {
	Query string            `json:"query"`
	Limit int               `json:"limit"`
	Mode  engine.SearchMode `json:"mode,omitempty"` // "text" | "fuzzy" | "framework" | "pattern"
}

// SimilarRequest names a stored chunk by id, or supplies one inline.
type SimilarRequest struct {
	ID    types.ChunkID `json:"id,omitempty"`
	Chunk *types.Chunk  `json:"chunk,omitempty"`
	Limit int           `json:"limit"`
}

type FeedbackRequest struct {
	ID       types.ChunkID  `json:"id"`
	Feedback types.Feedback `json:"feedback"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrInvalidChunk), errors.Is(err, search.ErrEmptyQuery):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrChunkNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrSearchDisabled), errors.Is(err, engine.ErrClosed), errors.Is(err, storage.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("["+op+"] failed", "err", err)
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":  "fluorite-memory",
		"ok":       true,
		"time_utc": time.Now().UTC().Format(time.RFC3339),
		"endpoints": []string{
			"/health", "/stats", "/store", "/chunk", "/update", "/delete", "/search", "/similar",
			"/framework", "/pattern", "/relationships", "/feedback", "/integrations", "/optimize", "/reindex",
		},
		"api_schema": 1,
	})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	h := s.engine.Health(r.Context())
	status := http.StatusOK
	if h.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ok":       h.Status == "ok",
		"time_utc": time.Now().UTC().Format(time.RFC3339),
		"health":   h,
	})
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	st, err := s.engine.Stats()
	if err != nil {
		s.writeError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) HandleStore(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req StoreRequest
	if !decode(w, r, &req) {
		return
	}

	if len(req.Chunks) > 0 {
		res, err := s.engine.StoreChunks(r.Context(), req.Chunks)
		if err != nil {
			s.writeError(w, "store", err)
			return
		}
		s.log.Info("[store] batch", "chunks", len(req.Chunks), "failed", len(res.Failed))
		writeJSON(w, http.StatusOK, map[string]any{"status": "stored", "result": res})
		return
	}
	if req.Chunk == nil {
		http.Error(w, "chunk or chunks is required", http.StatusBadRequest)
		return
	}
	if req.Chunk.ID == "" {
		req.Chunk.ID = types.NewChunkID()
	}
	id, err := s.engine.StoreChunk(r.Context(), req.Chunk)
	if err != nil {
		s.writeError(w, "store", err)
		return
	}
	s.log.Info("[store] ok", "id", id, "type", req.Chunk.Type, "frameworks", req.Chunk.Metadata.Frameworks)
	writeJSON(w, http.StatusOK, map[string]any{"status": "stored", "id": id})
}

func (s *Server) HandleChunk(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id := types.ChunkID(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	c, ok, err := s.engine.GetChunk(r.Context(), id)
	if err != nil {
		s.writeError(w, "get", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "chunk not found", "id": id})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var c types.Chunk
	if !decode(w, r, &c) {
		return
	}
	if err := s.engine.UpdateChunk(r.Context(), &c); err != nil {
		s.writeError(w, "update", err)
		return
	}
	s.log.Info("[update] ok", "id", c.ID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "id": c.ID})
}

func (s *Server) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req IDRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	existed, err := s.engine.DeleteChunk(r.Context(), req.ID)
	if err != nil {
		s.writeError(w, "delete", err)
		return
	}
	s.log.Info("[delete] ok", "id", req.ID, "existed", existed)
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": req.ID, "existed": existed})
}

func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req SearchRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	res, err := s.engine.Search(r.Context(), req.Mode, req.Query, req.Limit)
	if err != nil {
		s.writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": res, "count": len(res)})
}

func (s *Server) HandleSimilar(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req SimilarRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}

	var (
		matches []types.SimilarityMatch
		err     error
	)
	switch {
	case req.Chunk != nil:
		matches, err = s.engine.FindSimilar(r.Context(), req.Chunk, req.Limit)
	case req.ID != "":
		matches, err = s.engine.FindSimilarByID(r.Context(), req.ID, req.Limit)
	default:
		http.Error(w, "id or chunk is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeError(w, "similar", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches, "count": len(matches)})
}

func (s *Server) HandleFramework(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	chunks, err := s.engine.GetFrameworkChunks(r.Context(), name)
	if err != nil {
		s.writeError(w, "framework", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"framework": name, "chunks": chunks, "count": len(chunks)})
}

func (s *Server) HandlePattern(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	chunks, err := s.engine.GetPatternChunks(r.Context(), name)
	if err != nil {
		s.writeError(w, "pattern", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pattern": name, "chunks": chunks, "count": len(chunks)})
}

func (s *Server) HandleRelationships(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	id := types.ChunkID(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	edges := s.engine.Relationships(id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "relationships": edges, "count": len(edges)})
}

func (s *Server) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req FeedbackRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Feedback.Type == "" {
		http.Error(w, "id and feedback.feedback_type are required", http.StatusBadRequest)
		return
	}
	res, err := s.engine.LearnFromFeedback(r.Context(), req.ID, req.Feedback)
	if err != nil {
		s.writeError(w, "feedback", err)
		return
	}
	s.log.Info("[feedback] ok", "id", req.ID, "type", req.Feedback.Type, "adjustment", res.Adjustment)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) HandleIntegrations(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	first, second := q.Get("first"), q.Get("second")
	if first == "" || second == "" {
		first, second = "nextjs", "laravel"
	}
	recs, err := s.engine.RecommendIntegrations(r.Context(), first, second, queryInt(r, "limit", defaultLimit))
	if err != nil {
		s.writeError(w, "integrations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"frameworks":      []string{first, second},
		"combinations":    s.engine.FrameworkCombinations(first, second),
		"recommendations": recs,
	})
}

func (s *Server) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	rep, err := s.engine.Optimize(r.Context())
	if err != nil {
		s.writeError(w, "optimize", err)
		return
	}
	s.log.Info("[optimize] ok", "chunks", rep.Rebuild.Chunks, "edges", rep.Rebuild.Edges)
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) HandleReindex(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	n, err := s.engine.ReindexSearch(r.Context())
	if err != nil {
		s.writeError(w, "reindex", err)
		return
	}
	s.log.Info("[reindex] ok", "documents", n)
	writeJSON(w, http.StatusOK, map[string]any{"status": "reindexed", "documents": n})
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HandleRoot)
	mux.HandleFunc("/health", s.HandleHealth)
	mux.HandleFunc("/stats", s.HandleStats)
	mux.HandleFunc("/store", s.HandleStore)
	mux.HandleFunc("/chunk", s.HandleChunk)
	mux.HandleFunc("/update", s.HandleUpdate)
	mux.HandleFunc("/delete", s.HandleDelete)
	mux.HandleFunc("/search", s.HandleSearch)
	mux.HandleFunc("/similar", s.HandleSimilar)
	mux.HandleFunc("/framework", s.HandleFramework)
	mux.HandleFunc("/pattern", s.HandlePattern)
	mux.HandleFunc("/relationships", s.HandleRelationships)
	mux.HandleFunc("/feedback", s.HandleFeedback)
	mux.HandleFunc("/integrations", s.HandleIntegrations)
	mux.HandleFunc("/optimize", s.HandleOptimize)
	mux.HandleFunc("/reindex", s.HandleReindex)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("API server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

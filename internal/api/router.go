package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/deidaraiorek/deifind/internal/fileindex"
	"github.com/deidaraiorek/deifind/internal/pipeline"
	"github.com/deidaraiorek/deifind/internal/service"
)

// Backend is the set of entry points the API exposes.
type Backend interface {
	IndexDirectory(ctx context.Context, root string) (int, error)
	EnablePrefixSearch() bool
	SearchFilenames(query string) []fileindex.Match
	EnableImageSearch(ctx context.Context) error
	IndexImages(ctx context.Context, root string) (pipeline.Stats, error)
	SearchImages(ctx context.Context, query string, k int) ([]service.ImageResult, error)
}

type Handler struct {
	backend Backend
	log     *zap.Logger
}

func NewRouter(backend Backend, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{backend: backend, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/files", func(r chi.Router) {
			r.Get("/", h.searchFiles)
			r.Post("/index", h.indexFiles)
			r.Post("/prefix", h.enablePrefix)
		})
		r.Route("/images", func(r chi.Router) {
			r.Get("/", h.searchImages)
			r.Post("/enable", h.enableImages)
			r.Post("/index", h.indexImages)
		})
	})
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type indexRequest struct {
	Root string `json:"root"`
}

func decodeIndexRequest(r *http.Request) (string, error) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", errors.New("invalid JSON body")
	}
	if req.Root == "" {
		return "", errors.New("root is required")
	}
	return req.Root, nil
}

func (h *Handler) indexFiles(w http.ResponseWriter, r *http.Request) {
	root, err := decodeIndexRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	added, err := h.backend.IndexDirectory(r.Context(), root)
	if err != nil {
		h.log.Warn("index directory failed", zap.String("root", root), zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

func (h *Handler) enablePrefix(w http.ResponseWriter, r *http.Request) {
	h.backend.EnablePrefixSearch()
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (h *Handler) searchFiles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, errors.New("q is required"))
		return
	}

	matches := h.backend.SearchFilenames(query)
	if matches == nil {
		matches = []fileindex.Match{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (h *Handler) enableImages(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.EnableImageSearch(r.Context()); err != nil {
		h.log.Warn("enable image search failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (h *Handler) indexImages(w http.ResponseWriter, r *http.Request) {
	root, err := decodeIndexRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stats, err := h.backend.IndexImages(r.Context(), root)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) searchImages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, errors.New("q is required"))
		return
	}

	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("k must be a positive integer"))
			return
		}
		k = n
	}

	results, err := h.backend.SearchImages(r.Context(), query, k)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if results == nil {
		results = []service.ImageResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func statusFor(err error) int {
	if errors.Is(err, service.ErrImageSearchDisabled) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

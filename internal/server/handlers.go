package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/basho/internal/imageio"
	"github.com/hyperjump/basho/internal/models"
	"github.com/hyperjump/basho/internal/pipeline"
	"github.com/hyperjump/basho/internal/search"
	"github.com/hyperjump/basho/internal/storage"
)

const defaultSceneLimit = 10

func (s *Server) handleProcessVideo(w http.ResponseWriter, r *http.Request) {
	file, header, err := s.uploadedFile(w, r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		s.logger.Error("saving upload failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer os.Remove(path)

	s.logger.Debug("process video request", zap.String("filename", header.Filename), zap.Int64("size", header.Size))
	records, err := s.engine.ProcessVideo(r.Context(), path)
	if err != nil {
		s.logger.Error("video processing failed", zap.String("filename", header.Filename), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string][]models.LocationRecord{"results": records})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	file, _, err := s.uploadedFile(w, r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	img, err := imageio.Decode(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	verify, _ := strconv.ParseBool(r.FormValue("verify"))
	res, err := s.engine.Search(r.Context(), img, verify)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoVerifier) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]*models.SearchResult{"result": res})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Rebuild(r.Context())
	if err != nil {
		s.logger.Error("rebuild failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	meta, found, err := s.engine.Scene(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		s.respondError(w, http.StatusNotFound, "scene not found")
		return
	}
	s.respondJSON(w, http.StatusOK, meta)
}

func (s *Server) handleFindScenes(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := defaultSceneLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	hits, err := s.engine.FindScenes(r.Context(), q, limit)
	if err != nil {
		if errors.Is(err, search.ErrNoTextDirectory) {
			s.respondError(w, http.StatusNotImplemented, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": q, "scenes": hits})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	resp := map[string]interface{}{
		"index": st,
		"config": map[string]interface{}{
			"top_k":        s.config.Search.TopK,
			"max_distance": s.config.Search.MaxDistance,
			"frame_step":   s.config.Video.FrameStep,
			"scenes_dir":   s.config.Catalog.ScenesDir,
			"metadata":     s.config.Catalog.MetadataPath,
		},
	}
	paths := []string{s.config.Embedding.ModelPath, s.config.Catalog.ScenesDir, s.config.Catalog.MetadataPath}
	if st.StoreBackend == "sqlite" {
		paths = append(paths, s.config.Store.SQLitePath)
	}
	if n, err := storage.DiskUsageBytes(paths...); err == nil {
		resp["disk_usage_bytes"] = n
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// uploadedFile returns the multipart "file" field, capped at MaxUploadMB.
func (s *Server) uploadedFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadMB<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, fmt.Errorf("missing upload field \"file\": %w", err)
	}
	return file, header, nil
}

// saveUpload copies an upload to a uniquely named file that keeps the original extension.
func (s *Server) saveUpload(src io.Reader, filename string) (string, error) {
	dir := s.config.Server.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(filename)))
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return path, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

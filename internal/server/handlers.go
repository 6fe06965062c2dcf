package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/pawsort/internal/config"
	"github.com/hyperjump/pawsort/internal/export"
	"github.com/hyperjump/pawsort/internal/fileid"
	"github.com/hyperjump/pawsort/internal/models"
	"github.com/hyperjump/pawsort/internal/session"
	"github.com/hyperjump/pawsort/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"session": s.manager.Status(),
	}
	configInfo := map[string]interface{}{
		"remote_base_url": s.remote.BaseURL(),
		"export_target":   s.config.Export.Target,
		"watch_enabled":   s.config.Watch.Enabled,
	}
	if s.storage != nil {
		ctx := r.Context()
		exports, err := s.storage.CountExports(ctx)
		if err != nil {
			s.logger.Error("status: count exports failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		files, err := s.storage.CountExportedFiles(ctx)
		if err != nil {
			s.logger.Error("status: count exported files failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["exports"] = exports
		resp["exported_files"] = files
		configInfo["database_path"] = s.config.Storage.DatabasePath

		diskBytes, err := storage.DiskUsageBytes(storage.DatabaseFiles(s.config.Storage.DatabasePath)...)
		if err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRemoteHealth(w http.ResponseWriter, r *http.Request) {
	body, err := s.remote.Health(r.Context())
	if err != nil {
		s.logger.Warn("remote health check failed", zap.String("base_url", s.remote.BaseURL()), zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"base_url": s.remote.BaseURL(),
		"status":   "ok",
		"response": body,
	})
}

// sessionRequest overrides the configured session settings. Omitted fields keep
// their configured values.
type sessionRequest struct {
	IncomingDir      string   `json:"incoming_dir"`
	ReferenceDir     string   `json:"reference_dir"`
	OutputDir        string   `json:"output_dir"`
	TopK             *int     `json:"top_k"`
	UnknownThreshold *float32 `json:"unknown_threshold"`
	BatchSize        *int     `json:"batch_size"`
	Format           string   `json:"format"`
	KeepVectors      *bool    `json:"keep_vectors"`
}

func (s *Server) sessionConfig(req sessionRequest) (models.SessionConfig, error) {
	cfg := *s.config
	sc := cfg.Session
	if req.IncomingDir != "" {
		sc.IncomingDir = req.IncomingDir
	}
	if req.ReferenceDir != "" {
		sc.ReferenceDir = req.ReferenceDir
	}
	if req.OutputDir != "" {
		cfg.Export.OutputDir = req.OutputDir
	}
	if req.TopK != nil {
		sc.TopK = *req.TopK
	}
	if req.UnknownThreshold != nil {
		v := *req.UnknownThreshold
		sc.UnknownThreshold = &v
	}
	if req.BatchSize != nil {
		sc.BatchSize = *req.BatchSize
	}
	if req.Format != "" {
		sc.Format = req.Format
	}
	if req.KeepVectors != nil {
		sc.KeepVectors = *req.KeepVectors
	}
	cfg.Session = sc
	if err := config.Validate(&cfg); err != nil {
		return models.SessionConfig{}, &models.ValidationError{Reason: err.Error()}
	}
	return cfg.SessionConfig(), nil
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	cfg, err := s.sessionConfig(req)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	if cfg.IncomingRoot == "" || cfg.ReferenceRoot == "" {
		s.respondError(w, http.StatusBadRequest, "incoming_dir and reference_dir are required")
		return
	}
	gen := s.manager.Start(cfg)
	s.logger.Debug("session start request", zap.Uint64("generation", gen), zap.String("incoming", cfg.IncomingRoot))
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"generation": gen,
		"config":     cfg,
		"status":     s.manager.Status(),
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.manager.Status())
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	s.manager.Cancel()
	s.respondJSON(w, http.StatusAccepted, s.manager.Status())
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	s.manager.Reset()
	s.respondJSON(w, http.StatusOK, s.manager.Status())
}

// current returns the completed session, or writes why there is none.
func (s *Server) current(w http.ResponseWriter) *session.Outcome {
	out := s.manager.Current()
	if out != nil {
		return out
	}
	st := s.manager.Status()
	switch {
	case st.Phase == models.PhaseFailed || st.Phase == models.PhaseCancelled:
		s.respondJSON(w, statusForKind(st.ErrorKind), map[string]string{
			"error":      st.Error,
			"error_kind": string(st.ErrorKind),
		})
	case st.Phase == models.PhaseIdle && st.StartedAt.IsZero():
		s.respondError(w, http.StatusNotFound, "no session has been started")
	default:
		s.respondError(w, http.StatusConflict, "session is still running")
	}
	return nil
}

type photoJSON struct {
	ID         string            `json:"id"`
	SourceRef  string            `json:"source_ref"`
	Assignment models.Assignment `json:"assignment"`
}

type bucketJSON struct {
	Key    string      `json:"key"`
	Folder string      `json:"folder"`
	Count  int         `json:"count"`
	Photos []photoJSON `json:"photos"`
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	out := s.current(w)
	if out == nil {
		return
	}
	snap := out.Groups.Snapshot()
	only := r.URL.Query().Get("bucket")
	folders := export.FolderNames(snap.Buckets)
	buckets := make([]bucketJSON, 0, len(snap.Buckets))
	for bi, b := range snap.Buckets {
		if only != "" && b.Key != models.ClassKey(only) {
			continue
		}
		bj := bucketJSON{Key: b.Key, Folder: folders[bi], Count: len(b.Items), Photos: make([]photoJSON, 0, len(b.Items))}
		for _, item := range b.Items {
			bj.Photos = append(bj.Photos, photoJSON{ID: fileid.PhotoID(item.SourceRef), SourceRef: item.SourceRef, Assignment: item.Assignment})
		}
		buckets = append(buckets, bj)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":    out.ID,
		"model_version": out.ModelVersion,
		"total":         snap.Total(),
		"buckets":       buckets,
	})
}

// resolvePhoto maps a photo ID or source path to the source path of a photo in the session.
func resolvePhoto(out *session.Outcome, id, sourceRef string) (string, bool) {
	if sourceRef != "" {
		_, _, ok := out.Groups.Find(sourceRef)
		return sourceRef, ok
	}
	if id == "" {
		return "", false
	}
	for _, b := range out.Groups.Snapshot().Buckets {
		for _, item := range b.Items {
			if fileid.PhotoID(item.SourceRef) == id {
				return item.SourceRef, true
			}
		}
	}
	return "", false
}

type reassignRequest struct {
	PhotoID   string `json:"photo_id"`
	SourceRef string `json:"source_ref"`
	ClassID   string `json:"class_id"`
}

func (s *Server) handleReassign(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PhotoID == "" && req.SourceRef == "" {
		s.respondError(w, http.StatusBadRequest, "photo_id or source_ref is required")
		return
	}
	out := s.current(w)
	if out == nil {
		return
	}
	ref, ok := resolvePhoto(out, req.PhotoID, req.SourceRef)
	if !ok {
		s.respondError(w, http.StatusNotFound, "photo not found")
		return
	}
	from, ok := out.Groups.Reassign(ref, req.ClassID)
	if !ok {
		s.respondError(w, http.StatusNotFound, "photo not found")
		return
	}
	to := models.ClassKey(req.ClassID)
	s.logger.Info("photo reassigned", zap.String("photo", ref), zap.String("from", from), zap.String("to", to))
	s.respondJSON(w, http.StatusOK, map[string]string{
		"id":         fileid.PhotoID(ref),
		"source_ref": ref,
		"from":       from,
		"to":         to,
	})
}

type similarJSON struct {
	ID        string  `json:"id"`
	SourceRef string  `json:"source_ref"`
	Bucket    string  `json:"bucket"`
	Score     float32 `json:"score"`
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("id") == "" && q.Get("source_ref") == "" {
		s.respondError(w, http.StatusBadRequest, "id or source_ref is required")
		return
	}
	k := 10
	if v := q.Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = min(n, 100)
	}
	out := s.current(w)
	if out == nil {
		return
	}
	if out.Index == nil {
		s.respondError(w, http.StatusConflict, "photo vectors were not kept for this session (set keep_vectors)")
		return
	}
	ref, ok := resolvePhoto(out, q.Get("id"), q.Get("source_ref"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "photo not found")
		return
	}
	vec, ok := out.Index.Vector(ref)
	if !ok {
		s.respondError(w, http.StatusNotFound, "photo vector not found")
		return
	}
	hits, err := out.Index.Search(r.Context(), vec, k+1)
	if err != nil {
		s.logger.Error("similar search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	results := make([]similarJSON, 0, k)
	for _, h := range hits {
		if h.ID == ref || len(results) == k {
			continue
		}
		_, bucket, _ := out.Groups.Find(h.ID)
		results = append(results, similarJSON{ID: fileid.PhotoID(h.ID), SourceRef: h.ID, Bucket: bucket, Score: h.Score})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":         fileid.PhotoID(ref),
		"source_ref": ref,
		"results":    results,
	})
}

type exportRequest struct {
	Target    string `json:"target"`
	OutputDir string `json:"output_dir"`
}

func (s *Server) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	out := s.current(w)
	if out == nil {
		return
	}
	target := req.Target
	if target == "" {
		target = s.config.Export.Target
	}
	dir := req.OutputDir
	if dir == "" && target == config.ExportLocal {
		dir = out.Config.OutputRoot
	}
	sink, err := export.NewSink(r.Context(), target, dir, s.config.Export.S3)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !s.exportMu.TryLock() {
		s.respondError(w, http.StatusConflict, "an export is already running")
		return
	}
	defer s.exportMu.Unlock()

	opts := []export.Option{export.WithLogger(s.logger)}
	if s.storage != nil {
		opts = append(opts, export.WithRecorder(s.storage))
	}
	rec, err := export.New(sink, opts...).Export(r.Context(), out.ID, out.Groups.Snapshot(), func(p models.Progress) {
		done, total := models.Counters(p)
		s.logger.Debug("export progress", zap.Int("done", done), zap.Int("total", total))
	})
	if err != nil {
		s.logger.Error("export failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListExports(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.respondError(w, http.StatusNotImplemented, "export history not enabled")
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	recs, err := s.storage.ListExports(r.Context(), max(offset, 0), limit)
	if err != nil {
		s.logger.Error("list exports failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*models.ExportRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"exports": recs})
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.respondError(w, http.StatusNotImplemented, "export history not enabled")
		return
	}
	rec, err := s.storage.GetExport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, "export not found")
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteExport(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.respondError(w, http.StatusNotImplemented, "export history not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.storage.DeleteExport(r.Context(), id); err != nil {
		s.respondError(w, http.StatusNotFound, "export not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindFormat, models.KindNetwork:
		return http.StatusBadGateway
	case models.KindCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondFailure writes err with the status of its kind.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		err = ve
	}
	s.respondJSON(w, statusForKind(kind), map[string]string{
		"error":      err.Error(),
		"error_kind": string(kind),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

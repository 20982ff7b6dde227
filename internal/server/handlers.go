package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/matzehuels/fuseg/pkg/buildinfo"
	"github.com/matzehuels/fuseg/pkg/errors"
	"github.com/matzehuels/fuseg/pkg/pipeline"
	"github.com/matzehuels/fuseg/pkg/segment"
	"github.com/matzehuels/fuseg/pkg/store"
)

type segmentRequest struct {
	Graph   json.RawMessage   `json:"graph"`
	Options *pipeline.Options `json:"options,omitempty"`
}

type segmentResponse struct {
	RunID     string          `json:"run_id"`
	GraphHash string          `json:"graph_hash"`
	CacheHit  bool            `json:"cache_hit"`
	Stats     pipeline.Stats  `json:"stats"`
	Summary   segment.Summary `json:"summary"`
}

type errorBody struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"build":  buildinfo.Get(),
	})
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var req segmentRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			s.writeError(w, r, errors.New(errors.ErrCodeInvalidInput, "request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.writeError(w, r, errors.Wrap(errors.ErrCodeInvalidFormat, err, "decode request"))
		return
	}
	if len(req.Graph) == 0 {
		s.writeError(w, r, errors.New(errors.ErrCodeInvalidInput, "graph is required"))
		return
	}

	f, err := pipeline.ParseGraph(req.Graph)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	opts := s.cfg.Options
	if req.Options != nil {
		opts = *req.Options
		opts.Logger = s.cfg.Options.Logger
		opts.Scheduler = s.cfg.Options.Scheduler
	}

	if opts.Logger == nil {
		opts.Logger = s.logger
	}
	if err := opts.ValidateAndSetDefaults(); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.runner.Segment(r.Context(), f, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec := store.NewRecord(res, req.Graph, opts.SegmentKeyOpts(), s.cfg.RecordTTL)
	if err := s.store.Put(r.Context(), rec); err != nil {
		// The segmentation is still useful to the caller.
		s.logger.Warn("archive segmentation", "run", res.RunID, "error", err)
	}

	s.logger.Info("segmented graph",
		"run", res.RunID,
		"graph", res.GraphHash[:12],
		"groups", res.Stats.Groups,
		"cached", res.CacheHit,
		"duration", res.Stats.Duration)
	writeJSON(w, http.StatusOK, segmentResponse{
		RunID:     res.RunID,
		GraphHash: res.GraphHash,
		CacheHit:  res.CacheHit,
		Stats:     res.Stats,
		Summary:   rec.Summary,
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if err := errors.ValidateGraphHash(hash); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.store.Latest(r.Context(), hash)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// statusFor maps error codes to HTTP status codes.
func statusFor(err error) int {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable
	}
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidGraph, errors.ErrCodeInvalidFormat,
		errors.ErrCodeInvalidConfig, errors.ErrCodeInvalidPath:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeUnschedulable, errors.ErrCodeUnsupported:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "code", code, "error", err)
	}
	writeJSON(w, status, map[string]errorBody{
		"error": {Code: code, Message: errors.UserMessage(err)},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

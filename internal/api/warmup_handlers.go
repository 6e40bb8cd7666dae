package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/asset-warmup/internal/id/uuid"
	"github.com/JakeFAU/asset-warmup/internal/warmup"
)

const (
	maxPageBytes    = 10 << 20
	maxWarmupURLs   = 50
	warmupFanout    = 4
	warmupBodyLimit = 1 << 20
)

type pageAccepted struct {
	BatchID string `json:"batch_id,omitempty"`
	Queued  bool   `json:"queued"`
}

func (s *Server) submitPage(w http.ResponseWriter, r *http.Request) {
	pageURL := r.URL.Query().Get("url")
	if pageURL != "" && !isAbsoluteHTTP(pageURL) {
		s.writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPageBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "page body too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	if len(body) == 0 {
		s.writeError(w, http.StatusBadRequest, "page body required")
		return
	}

	batchID, err := s.deps.Collector.Submit(r.Context(), pageURL, string(body))
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	s.writeJSON(w, http.StatusAccepted, pageAccepted{BatchID: batchID, Queued: batchID != ""})
}

type warmupRequest struct {
	URLs []string `json:"urls"`
}

type warmupOutcome struct {
	URL      string `json:"url"`
	Status   int    `json:"status,omitempty"`
	Headless bool   `json:"headless"`
	BatchID  string `json:"batch_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) submitWarmups(w http.ResponseWriter, r *http.Request) {
	var req warmupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, warmupBodyLimit)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		s.writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > maxWarmupURLs {
		s.writeError(w, http.StatusBadRequest, "too many urls")
		return
	}
	for _, u := range req.URLs {
		if !isAbsoluteHTTP(u) {
			s.writeError(w, http.StatusBadRequest, "invalid url: "+u)
			return
		}
	}
	if s.deps.Probe == nil {
		s.writeError(w, http.StatusNotImplemented, "page fetching not configured")
		return
	}

	outcomes := make([]warmupOutcome, len(req.URLs))
	var g errgroup.Group
	g.SetLimit(warmupFanout)
	for i, u := range req.URLs {
		g.Go(func() error {
			outcomes[i] = s.warmPage(r.Context(), u)
			return nil
		})
	}
	_ = g.Wait() // per-URL errors are reported in outcomes

	s.writeJSON(w, http.StatusAccepted, map[string]any{"results": outcomes})
}

// warmPage probes pageURL, optionally re-renders it headlessly, and scans the result.
func (s *Server) warmPage(ctx context.Context, pageURL string) warmupOutcome {
	out := warmupOutcome{URL: pageURL}
	logger := s.logger.With(zap.String("request_id", RequestID(ctx)), zap.String("page_url", pageURL))

	resp, err := s.deps.Probe.Fetch(ctx, warmup.FetchRequest{URL: pageURL})
	out.Status = resp.StatusCode
	if err != nil {
		logger.Warn("page probe failed", zap.Error(err))
		out.Error = err.Error()
		return out
	}

	if s.deps.Headless != nil && s.deps.Detector != nil && s.deps.Detector.ShouldPromote(resp) {
		rendered, err := s.deps.Headless.Fetch(ctx, warmup.FetchRequest{URL: pageURL, UseHeadless: true})
		if err != nil {
			logger.Warn("headless render failed, using probe body", zap.Error(err))
		} else {
			resp = rendered
			out.Headless = true
		}
	}

	batchID, err := s.deps.Collector.Submit(ctx, pageURL, string(resp.Body))
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.BatchID = batchID
	return out
}

type resourceView struct {
	URL       string    `json:"url"`
	Type      string    `json:"type"`
	Hash      string    `json:"hash"`
	Revision  int       `json:"revision"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		s.writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if s.deps.Resources == nil {
		s.writeError(w, http.StatusNotImplemented, "resource store not configured")
		return
	}
	res, err := s.deps.Resources.Get(r.Context(), rawURL)
	if errors.Is(err, warmup.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		s.logger.Error("get resource failed", zap.String("url", rawURL), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load resource")
		return
	}
	s.writeJSON(w, http.StatusOK, resourceView{
		URL:       res.URL,
		Type:      string(res.Kind),
		Hash:      res.Hash,
		Revision:  res.Revision,
		Size:      len(res.Content),
		CreatedAt: res.CreatedAt,
		UpdatedAt: res.UpdatedAt,
	})
}

func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	if !uuid.Valid(batchID) {
		s.writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}
	state, ok := s.deps.Batches.State(batchID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"batch_id": batchID, "state": string(state)})
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

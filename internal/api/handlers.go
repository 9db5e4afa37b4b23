package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/push"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// CachedJobID is the synthetic job id returned when a registry is served from cache.
const CachedJobID = "cached"

const (
	defaultJobListLimit = 20
	maxJobListLimit     = 500

	messageCached       = "Registry already exists. Use force_refresh=true to re-crawl."
	messageStarted      = "Ingestion started. Poll poll_url for status updates."
	messageServedCached = "Served from cache"
	statusRefreshQueued = "refresh_queued"
	retryAfterSeconds   = "30"
)

type ingestRequest struct {
	URL          string `json:"url"`
	ForceRefresh bool   `json:"force_refresh"`
}

// IngestResponse is returned by POST /api/v1/ingest.
type IngestResponse struct {
	JobID       string `json:"job_id"`
	Domain      string `json:"domain"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	RegistryURL string `json:"registry_url"`
	PollURL     string `json:"poll_url"`
}

type refreshRequest struct {
	Domain string `json:"domain"`
}

func (s *Server) submitIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	_, domain, err := registry.ParseTarget(req.URL)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Could not parse domain from URL")
		return
	}

	if !req.ForceRefresh {
		_, err := s.registries.GetRegistry(r.Context(), domain)
		switch {
		case err == nil:
			s.writeJSON(w, http.StatusOK, IngestResponse{
				JobID:       CachedJobID,
				Domain:      domain,
				Status:      string(registry.JobStatusComplete),
				Message:     messageCached,
				RegistryURL: s.registryURL(domain),
				PollURL:     s.pollURL(CachedJobID),
			})
			return
		case !errors.Is(err, registry.ErrNotFound):
			s.logger.Error("registry lookup failed", zap.String("domain", domain), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "registry lookup failed")
			return
		}
	}

	job, err := s.ingest.Submit(r.Context(), req.URL)
	if err != nil {
		s.logger.Error("submit ingest failed", zap.String("url", req.URL), zap.Error(err))
		s.writeSubmitError(w, err, "failed to queue ingestion")
		return
	}
	s.writeJSON(w, http.StatusAccepted, IngestResponse{
		JobID:       job.ID,
		Domain:      job.Domain,
		Status:      string(job.Status),
		Message:     messageStarted,
		RegistryURL: s.registryURL(job.Domain),
		PollURL:     s.pollURL(job.ID),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == CachedJobID {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"job_id":  CachedJobID,
			"status":  string(registry.JobStatusComplete),
			"message": messageServedCached,
		})
		return
	}
	job, err := s.ingest.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJobListLimit)
	}
	jobs, err := s.ingest.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []registry.IngestJob{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) pushPage(w http.ResponseWriter, r *http.Request) {
	var req push.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	resp, err := s.push.PushPage(r.Context(), req)
	if err != nil {
		var verrs validator.ValidationErrors
		switch {
		case errors.Is(err, push.ErrUnauthorized):
			s.writeError(w, http.StatusUnauthorized, "Invalid tenant key")
		case errors.As(err, &verrs):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("push failed", zap.String("domain", req.Domain), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "push failed")
		}
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) refreshRegistry(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domain == "" {
		s.writeError(w, http.StatusBadRequest, "domain required")
		return
	}
	domain := registry.NormalizeDomain(req.Domain)
	existing, err := s.registries.GetRegistry(r.Context(), domain)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "No registry for '"+domain+"'. Ingest it first.")
			return
		}
		s.logger.Error("registry lookup failed", zap.String("domain", domain), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "registry lookup failed")
		return
	}
	job, err := s.ingest.Resubmit(r.Context(), domain, existing.Metadata.WebsiteURL)
	if err != nil {
		s.logger.Error("refresh submit failed", zap.String("domain", domain), zap.Error(err))
		s.writeSubmitError(w, err, "failed to queue refresh")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":   job.ID,
		"domain":   domain,
		"status":   statusRefreshQueued,
		"poll_url": s.pollURL(job.ID),
	})
}

func (s *Server) listRegistries(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.registries.ListRegistries(r.Context())
	if err != nil {
		s.logger.Error("list registries failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list registries")
		return
	}
	if summaries == nil {
		summaries = []registry.RegistrySummary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":      len(summaries),
		"registries": summaries,
	})
}

func (s *Server) getRegistry(w http.ResponseWriter, r *http.Request) {
	domain := registry.NormalizeDomain(chi.URLParam(r, "domain"))
	reg, err := s.registries.GetRegistry(r.Context(), domain)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{
				"error":   "No registry found for '" + domain + "'",
				"ingest":  s.baseURL + "/api/v1/ingest",
				"message": "POST a url to the ingest endpoint to create one.",
			})
			return
		}
		s.logger.Error("get registry failed", zap.String("domain", domain), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load registry")
		return
	}
	s.writeJSON(w, http.StatusOK, reg)
}

// writeSubmitError answers 503 with Retry-After while the work queue is full.
func (s *Server) writeSubmitError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, registry.ErrQueueFull) {
		w.Header().Set("Retry-After", retryAfterSeconds)
		s.writeError(w, http.StatusServiceUnavailable, "Ingest queue is full, retry later")
		return
	}
	s.writeError(w, http.StatusInternalServerError, message)
}

func (s *Server) registryURL(domain string) string {
	return s.baseURL + "/registry/" + domain
}

func (s *Server) pollURL(jobID string) string {
	return s.baseURL + "/api/v1/jobs/" + jobID
}

package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/drivehub/joblist/app/store"
)

// response is the uniform envelope for all /api/jobs replies
type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// statusResponse is the JSON response for the root route
type statusResponse struct {
	ActiveStatus bool   `json:"activeStatus"`
	Error        bool   `json:"error"`
	Message      string `json:"message"`
}

// handleStatus reports the server is up
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{ActiveStatus: true, Error: false, Message: "server is running"})
}

// handleListJobs returns all jobs, newest first. On storage failure it
// degrades to the fallback dataset unless disabled.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.List(r.Context())
	if err != nil {
		s.serveFallback(w, err, s.fallback)
		return
	}
	s.writeJSON(w, http.StatusOK, response{Success: true, Data: jobs})
}

// handleRecentJobs returns up to recentLimit newest jobs
func (s *Server) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.Recent(r.Context(), s.recentLimit)
	if err != nil {
		s.serveFallback(w, err, s.recentFallback())
		return
	}
	s.writeJSON(w, http.StatusOK, response{Success: true, Data: jobs})
}

// handleGetJob returns a single job by id
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err, "get")
		return
	}
	s.writeJSON(w, http.StatusOK, response{Success: true, Data: job})
}

// handleCreateJob creates a job synchronously, or hands the payload to the
// queue producer when the async path is enabled
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var job store.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		s.writeJSON(w, http.StatusBadRequest, response{Success: false, Message: "Invalid request body"})
		return
	}

	// reject incomplete payloads before they reach storage or the queue
	if err := job.Validate(); err != nil {
		s.writeStoreError(w, err, "create")
		return
	}

	if s.producer != nil {
		if err := s.producer.Submit(r.Context(), job); err != nil {
			log.Printf("[ERROR] failed to enqueue job creation: %v", err)
			s.writeJSON(w, http.StatusInternalServerError, response{Success: false, Message: "Internal server error"})
			return
		}
		s.writeJSON(w, http.StatusAccepted, response{Success: true, Message: "Job creation request accepted - processing"})
		return
	}

	created, err := s.store.Create(r.Context(), job)
	if err != nil {
		s.writeStoreError(w, err, "create")
		return
	}
	s.writeJSON(w, http.StatusCreated, response{Success: true, Data: created})
}

// handleUpdateJob replaces all content fields of an existing job
func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var job store.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		s.writeJSON(w, http.StatusBadRequest, response{Success: false, Message: "Invalid request body"})
		return
	}

	updated, err := s.store.Update(r.Context(), r.PathValue("id"), job)
	if err != nil {
		s.writeStoreError(w, err, "update")
		return
	}
	s.writeJSON(w, http.StatusOK, response{Success: true, Data: updated})
}

// handleDeleteJob removes a job by id
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err, "delete")
		return
	}
	s.writeJSON(w, http.StatusOK, response{Success: true, Message: "Job deleted successfully"})
}

// serveFallback degrades a failed read to the canned dataset. The degradation
// is observable via the warn log and the X-Fallback-Data header so callers can
// tell canned data from real data.
func (s *Server) serveFallback(w http.ResponseWriter, err error, jobs []store.Job) {
	if s.fallbackDisabled {
		log.Printf("[ERROR] storage read failed, fallback disabled: %v", err)
		s.writeJSON(w, http.StatusInternalServerError, response{Success: false, Message: "Internal server error"})
		return
	}
	log.Printf("[WARN] storage unavailable, serving fallback dataset: %v", err)
	w.Header().Set("X-Fallback-Data", "true")
	s.writeJSON(w, http.StatusOK, response{Success: true, Data: jobs})
}

// writeStoreError maps repository failures to HTTP responses. Unclassified
// errors are logged but never leak internals to the client.
func (s *Server) writeStoreError(w http.ResponseWriter, err error, op string) {
	var vErr *store.ValidationError
	switch {
	case errors.As(err, &vErr):
		msg := "Missing required fields: " + strings.Join(vErr.Fields, ", ")
		s.writeJSON(w, http.StatusBadRequest, response{Success: false, Message: msg})
	case errors.Is(err, store.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, response{Success: false, Message: "Job not found"})
	case errors.Is(err, store.ErrTimeout):
		s.writeJSON(w, http.StatusGatewayTimeout, response{Success: false, Message: "Database operation timed out. Please try again."})
	default:
		log.Printf("[ERROR] %s failed: %v", op, err)
		s.writeJSON(w, http.StatusInternalServerError, response{Success: false, Message: "Internal server error"})
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

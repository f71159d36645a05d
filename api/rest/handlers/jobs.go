package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/1016qqz/FlagScale/core/dispatcher"
	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/repository"
	"github.com/1016qqz/FlagScale/core/spec"
	"github.com/1016qqz/FlagScale/logging"
)

// Dispatcher is the part of the dispatcher the handlers call
type Dispatcher interface {
	Dispatch(ctx context.Context, cfg *spec.Node, action models.Action) (*dispatcher.Result, error)
	Observe(ctx context.Context, cfg *spec.Node) (*models.StatusReport, error)
}

// EventSource lists recorded job transitions
type EventSource interface {
	GetJobEvents(ctx context.Context, key string, limit int) ([]models.JobEvent, error)
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	dispatcher Dispatcher
	events     EventSource
	log        logrus.FieldLogger
}

// NewJobHandler creates a new job handler. events may be nil when handles
// are kept in files.
func NewJobHandler(d Dispatcher, events EventSource, log logrus.FieldLogger) *JobHandler {
	return &JobHandler{dispatcher: d, events: events, log: logging.OrDiscard(log)}
}

// DispatchRequest represents the request to dispatch an action
type DispatchRequest struct {
	ConfigYAML string   `json:"config_yaml"`
	Action     string   `json:"action"`
	Overrides  []string `json:"overrides,omitempty"`
}

// Dispatch handles POST /v1/dispatch
func (h *JobHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cfg, err := spec.Parse([]byte(req.ConfigYAML))
	if err != nil {
		http.Error(w, "Invalid job config: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := spec.ApplyOverrides(cfg, req.Overrides); err != nil {
		http.Error(w, "Invalid override: "+err.Error(), http.StatusBadRequest)
		return
	}
	action := models.Action(req.Action)
	if action == "" {
		action = models.ActionRun
	}

	result, err := h.dispatcher.Dispatch(r.Context(), cfg, action)
	if err != nil {
		h.log.WithField("action", action).Warnf("Dispatch failed: %v", err)
		code := statusFor(err)
		if result != nil && result.Tuning != nil {
			writeJSON(w, code, map[string]interface{}{"error": err.Error(), "result": result})
			return
		}
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetStatus handles GET /v1/jobs/{task}/status?exp_dir=...
func (h *JobHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	cfg, _, ok := h.jobConfig(w, r)
	if !ok {
		return
	}
	report, err := h.dispatcher.Observe(r.Context(), cfg)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetJobEvents handles GET /v1/jobs/{task}/events?exp_dir=...
func (h *JobHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "Job events need DATABASE_URL to be set", http.StatusNotImplemented)
		return
	}
	_, key, ok := h.jobConfig(w, r)
	if !ok {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := h.events.GetJobEvents(r.Context(), key, limit)
	if err != nil {
		http.Error(w, "Failed to fetch events: "+err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, len(events))
	for i, event := range events {
		item := map[string]interface{}{
			"job_id":    event.JobID,
			"at":        event.At,
			"to_status": event.ToStatus,
			"reason":    event.Reason,
		}
		if event.FromStatus != nil {
			item["from_status"] = *event.FromStatus
		}
		items[i] = item
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// jobConfig builds the minimal config that locates a job from the path
// and exp_dir query parameter
func (h *JobHandler) jobConfig(w http.ResponseWriter, r *http.Request) (*spec.Node, string, bool) {
	task := models.TaskType(mux.Vars(r)["task"])
	expDir := r.URL.Query().Get("exp_dir")
	if expDir == "" {
		http.Error(w, "exp_dir is required", http.StatusBadRequest)
		return nil, "", false
	}
	if abs, err := filepath.Abs(expDir); err == nil {
		expDir = abs
	}
	cfg := spec.NewMap()
	if err := cfg.SetValue(dispatcher.TaskTypePath, string(task)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, "", false
	}
	if err := cfg.SetValue("experiment.exp_dir", expDir); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, "", false
	}
	return cfg, repository.HandleKey(expDir, task), true
}

// statusFor maps dispatch errors to HTTP status codes
func statusFor(err error) int {
	var validation *models.ValidationError
	var migration *models.ConfigMigrationError
	var execution *models.RunnerExecutionError
	switch {
	case errors.As(err, &validation), errors.As(err, &migration), errors.Is(err, models.ErrMissingTaskType):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrHandleNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNoSuccessfulTrial):
		return http.StatusUnprocessableEntity
	case errors.As(err, &execution):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

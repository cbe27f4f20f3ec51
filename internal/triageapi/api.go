// Package triageapi exposes the triage service over HTTP.
package triageapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/MaxMed21M/Teletriagem-MVP/internal/triage"
)

// TriageService defines the business operations triageapi needs.
type TriageService interface {
	Create(ctx context.Context, input triage.PatientInput) (*triage.TriageVersion, error)
	Refine(ctx context.Context, caseID string, delta triage.InputDelta, note string) (*triage.TriageVersion, error)
	Get(ctx context.Context, caseID string) (*triage.TriageVersion, bool, error)
	History(ctx context.Context, caseID string) ([]*triage.TriageVersion, error)
	Audit(ctx context.Context, caseID string) ([]*triage.AuditEntry, error)
	Feedback(ctx context.Context, caseID string, action triage.Action, note string) (*triage.AuditEntry, error)
	Health(ctx context.Context) triage.HealthStatus
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/triage", a.handleCreate)
		r.Get("/triage/{caseID}", a.handleGet)
		r.Get("/triage/{caseID}/history", a.handleHistory)
		r.Get("/triage/{caseID}/audit", a.handleAudit)
		r.Post("/triage/{caseID}/refine", a.handleRefine)
		r.Post("/triage/{caseID}/feedback", a.handleFeedback)
		r.Get("/triage-health", a.handleHealth)
	})
}

// refineRequest is the payload for the refine endpoint: a partial input delta
// plus an optional operator note.
type refineRequest struct {
	triage.InputDelta
	Note string `json:"note,omitempty"`
}

// feedbackRequest is the payload for the reviewer feedback endpoint.
type feedbackRequest struct {
	Action triage.Action `json:"action"`
	Note   string        `json:"note,omitempty"`
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input triage.PatientInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	ver, err := a.svc.Create(r.Context(), input)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to create triage")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("triage.case_id", ver.CaseID),
		attribute.String("triage.priority", string(ver.Result.Priority)),
	)

	writeJSON(w, http.StatusCreated, ver)
}

func (a *API) handleRefine(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")

	var req refineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	ver, err := a.svc.Refine(r.Context(), caseID, req.InputDelta, req.Note)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to refine triage")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("triage.case_id", caseID),
		attribute.Int("triage.version", ver.Version),
	)

	writeJSON(w, http.StatusOK, ver)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("triage.case_id", caseID))

	ver, ok, err := a.svc.Get(r.Context(), caseID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get triage", "case_id", caseID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("triage.priority", string(ver.Result.Priority)))
	writeJSON(w, http.StatusOK, ver)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")

	versions, err := a.svc.History(r.Context(), caseID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list history", "case_id", caseID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if len(versions) == 0 {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")

	entries, err := a.svc.Audit(r.Context(), caseID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list audit", "case_id", caseID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if len(entries) == 0 {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"audit": entries})
}

func (a *API) handleFeedback(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseID")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	entry, err := a.svc.Feedback(r.Context(), caseID, req.Action, req.Note)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to record feedback")
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := a.svc.Health(r.Context())

	status := http.StatusOK
	if !st.ModelReachable || st.CircuitOpen {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, st)
}

// writeServiceError maps service errors onto HTTP status codes. Failed
// orchestrations return 502 with the documented reason code so callers can
// distinguish backend outages from bad requests.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, triage.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, triage.ErrCaseNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	case errors.Is(err, triage.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		if fe, ok := triage.AsFailed(err); ok {
			a.logger.Error(r.Context(), err, msg, "reason", string(fe.Reason))
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":       "triage unavailable",
				"reason":      string(fe.Reason),
				"remediation": fe.Reason.Remediation(),
			})
			return
		}
		a.logger.Error(r.Context(), err, msg)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

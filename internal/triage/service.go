package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Notifier receives escalation events for guardrail-forced emergent cases.
type Notifier interface {
	NotifyEscalation(ctx context.Context, caseID string, res *TriageResult) error
}

// CircuitProber reports whether the LLM circuit breaker is currently open.
type CircuitProber interface {
	CircuitOpen() bool
}

// ErrInvalidInput rejects requests that cannot be triaged at all.
var ErrInvalidInput = errors.New("invalid triage input")

// Service is the business boundary for triage cases: it owns case identity,
// per-case write serialization, version history, and the audit log. The
// orchestrator underneath stays ignorant of persistence.
type Service struct {
	store    Store
	orch     *Orchestrator
	notifier Notifier // optional
	prober   CircuitProber
	logger   log.Logger

	caseLocks sync.Map // case id -> *sync.Mutex

	statsMu    sync.Mutex
	requests   int64
	parseOK    int64
	latencySum float64 // milliseconds
}

// NewService creates a triage service.
func NewService(store Store, orch *Orchestrator, notifier Notifier, prober CircuitProber, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		orch:     orch,
		notifier: notifier,
		prober:   prober,
		logger:   logger,
	}
}

// Create runs an initial triage for a new case and persists it as version 1.
func (s *Service) Create(ctx context.Context, input PatientInput) (*TriageVersion, error) {
	if strings.TrimSpace(input.Complaint) == "" {
		return nil, fmt.Errorf("%w: complaint is required", ErrInvalidInput)
	}

	caseID := ulid.Make().String()
	L := s.logger.With("case_id", caseID)

	res, err := s.orch.Run(ctx, input, nil)
	if err != nil {
		return nil, err
	}
	res.CaseID = caseID
	s.recordRun(res)

	ver := &TriageVersion{
		CaseID:    caseID,
		Version:   1,
		Input:     input,
		Result:    *res,
		CreatedAt: res.CreatedAt,
	}
	if err := s.store.AppendVersion(ctx, ver); err != nil {
		return nil, fmt.Errorf("persist version: %w", err)
	}
	if err := s.store.AppendAudit(ctx, &AuditEntry{
		CaseID:    caseID,
		Version:   1,
		Actor:     ActorSystem,
		Action:    ActionCreate,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		L.Error(ctx, err, "failed to append audit entry")
	}

	s.maybeEscalate(ctx, caseID, res)

	L.Info(ctx, "triage created",
		"priority", string(res.Priority),
		"disposition", string(res.Disposition),
		"guardrail_fired", res.Verdict.Fired(),
		"latency_ms", res.LatencyMs,
	)
	return ver, nil
}

// Refine re-runs a case with additional input merged over the accumulated
// input of the latest version. Writes to the same case are serialized so
// version numbers stay gapless under concurrent calls.
func (s *Service) Refine(ctx context.Context, caseID string, delta InputDelta, note string) (*TriageVersion, error) {
	mu := s.lockCase(caseID)
	mu.Lock()
	defer mu.Unlock()

	prev, ok, err := s.store.LatestVersion(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case: %w", err)
	}
	if !ok {
		return nil, ErrCaseNotFound
	}

	input, err := mergeInput(prev.Input, delta)
	if err != nil {
		return nil, err
	}
	prior := draftFromResult(&prev.Result)

	res, err := s.orch.Run(ctx, input, prior)
	if err != nil {
		return nil, err
	}
	res.CaseID = caseID
	s.recordRun(res)

	diff, err := DiffResults(&prev.Result, res)
	if err != nil {
		return nil, fmt.Errorf("diff versions: %w", err)
	}

	ver := &TriageVersion{
		CaseID:    caseID,
		Version:   prev.Version + 1,
		Input:     input,
		Result:    *res,
		Diff:      diff,
		CreatedAt: res.CreatedAt,
	}
	if err := s.store.AppendVersion(ctx, ver); err != nil {
		return nil, fmt.Errorf("persist version: %w", err)
	}
	if err := s.store.AppendAudit(ctx, &AuditEntry{
		CaseID:    caseID,
		Version:   ver.Version,
		Actor:     ActorSystem,
		Action:    ActionRefine,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Error(ctx, err, "failed to append audit entry", "case_id", caseID)
	}

	s.maybeEscalate(ctx, caseID, res)

	s.logger.Info(ctx, "triage refined",
		"case_id", caseID,
		"version", ver.Version,
		"changed_fields", len(diff),
		"priority", string(res.Priority),
	)
	return ver, nil
}

// Get returns the latest version of a case.
func (s *Service) Get(ctx context.Context, caseID string) (*TriageVersion, bool, error) {
	return s.store.LatestVersion(ctx, caseID)
}

// History returns all versions of a case in ascending version order.
func (s *Service) History(ctx context.Context, caseID string) ([]*TriageVersion, error) {
	return s.store.ListVersions(ctx, caseID)
}

// Audit returns the append-only audit log of a case in insertion order.
func (s *Service) Audit(ctx context.Context, caseID string) ([]*AuditEntry, error) {
	return s.store.ListAudit(ctx, caseID)
}

// Feedback records a human reviewer decision against the latest version.
func (s *Service) Feedback(ctx context.Context, caseID string, action Action, note string) (*AuditEntry, error) {
	switch action {
	case ActionReviewAccept, ActionOverride, ActionReject:
	default:
		return nil, fmt.Errorf("%w: unsupported feedback action %q", ErrInvalidInput, action)
	}

	latest, ok, err := s.store.LatestVersion(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case: %w", err)
	}
	if !ok {
		return nil, ErrCaseNotFound
	}

	entry := &AuditEntry{
		CaseID:    caseID,
		Version:   latest.Version,
		Actor:     ActorHuman,
		Action:    action,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("persist audit: %w", err)
	}
	return entry, nil
}

// Health reports the service snapshot for the operational endpoint. Probes
// the model backend with a short deadline.
func (s *Service) Health(ctx context.Context) HealthStatus {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	reachable := s.orch.completer.Ping(pctx) == nil

	st := HealthStatus{
		ModelReachable: reachable,
		SchemaVersion:  SchemaVersion,
	}
	if s.prober != nil {
		st.CircuitOpen = s.prober.CircuitOpen()
	}

	s.statsMu.Lock()
	st.RequestCount = s.requests
	if s.requests > 0 {
		st.MeanLatencyMs = s.latencySum / float64(s.requests)
		st.JSONSuccessRate = float64(s.parseOK) / float64(s.requests)
	}
	s.statsMu.Unlock()
	return st
}

func (s *Service) lockCase(caseID string) *sync.Mutex {
	mu, _ := s.caseLocks.LoadOrStore(caseID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Service) recordRun(res *TriageResult) {
	s.statsMu.Lock()
	s.requests++
	if res.ParseError == "" {
		s.parseOK++
	}
	s.latencySum += float64(res.LatencyMs)
	s.statsMu.Unlock()
}

// maybeEscalate notifies on guardrail-forced emergent results. Notification
// is best effort and never blocks the request path.
func (s *Service) maybeEscalate(ctx context.Context, caseID string, res *TriageResult) {
	if s.notifier == nil || !res.Verdict.Fired() || res.Priority != PriorityEmergent {
		return
	}
	go func(ctx context.Context) {
		if err := s.notifier.NotifyEscalation(ctx, caseID, res); err != nil {
			s.logger.Error(ctx, err, "escalation notification failed", "case_id", caseID)
		}
	}(context.WithoutCancel(ctx))
}

// mergeInput overlays a refinement delta on the accumulated input. Supplied
// scalar fields replace, vitals merge per measurement, and history
// accumulates. Presence is carried by the delta's pointers, so an explicit
// age of 0 replaces the accumulated age.
func mergeInput(base PatientInput, delta InputDelta) (PatientInput, error) {
	out := base
	if delta.Complaint != nil {
		if strings.TrimSpace(*delta.Complaint) == "" {
			return PatientInput{}, fmt.Errorf("%w: complaint cannot be blank", ErrInvalidInput)
		}
		out.Complaint = *delta.Complaint
	}
	if delta.Age != nil {
		if *delta.Age < 0 {
			return PatientInput{}, fmt.Errorf("%w: age cannot be negative", ErrInvalidInput)
		}
		out.Age = *delta.Age
	}
	if delta.Sex != nil {
		out.Sex = *delta.Sex
	}
	if delta.History != nil && *delta.History != "" {
		if out.History != "" {
			out.History = out.History + "; " + *delta.History
		} else {
			out.History = *delta.History
		}
	}
	if delta.Vitals.HeartRate != nil {
		out.Vitals.HeartRate = delta.Vitals.HeartRate
	}
	if delta.Vitals.SpO2 != nil {
		out.Vitals.SpO2 = delta.Vitals.SpO2
	}
	if delta.Vitals.SystolicBP != nil {
		out.Vitals.SystolicBP = delta.Vitals.SystolicBP
	}
	if delta.Vitals.DiastolicBP != nil {
		out.Vitals.DiastolicBP = delta.Vitals.DiastolicBP
	}
	if delta.Vitals.Temperature != nil {
		out.Vitals.Temperature = delta.Vitals.Temperature
	}
	if delta.Vitals.RespRate != nil {
		out.Vitals.RespRate = delta.Vitals.RespRate
	}
	return out, nil
}

// draftFromResult reconstructs the structured draft embedded in a stored
// result so refinement prompts can present it to the model.
func draftFromResult(res *TriageResult) *TriageDraft {
	return &TriageDraft{
		Priority:           res.Priority,
		Disposition:        res.Disposition,
		ProbableCauses:     res.ProbableCauses,
		RecommendedActions: res.RecommendedActions,
		RedFlags:           res.RedFlags,
		Explanations:       res.Explanations,
		FollowUpQuestions:  res.FollowUpQuestions,
		NeedsReview:        res.NeedsReview,
	}
}

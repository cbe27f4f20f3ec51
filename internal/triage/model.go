package triage

import (
	"encoding/json"
	"time"
)

// Priority classifies patient urgency.
type Priority string

const (
	PriorityNonUrgent Priority = "non-urgent"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergent  Priority = "emergent"
)

// Severity returns the ordering used for guardrail conflict resolution:
// emergent > urgent > non-urgent. Unknown values rank below non-urgent so a
// forced value always wins over garbage.
func (p Priority) Severity() int {
	switch p {
	case PriorityEmergent:
		return 3
	case PriorityUrgent:
		return 2
	case PriorityNonUrgent:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is one of the closed priority vocabulary values.
func (p Priority) Valid() bool { return p.Severity() > 0 }

// Disposition is the recommended next step for the patient.
type Disposition string

const (
	DispositionHome   Disposition = "home"
	DispositionClinic Disposition = "clinic"
	DispositionER     Disposition = "ER"
)

// Valid reports whether d is one of the closed disposition vocabulary values.
func (d Disposition) Valid() bool {
	switch d {
	case DispositionHome, DispositionClinic, DispositionER:
		return true
	}
	return false
}

// Sex of the patient, "unknown" when not supplied.
type Sex string

const (
	SexMale    Sex = "male"
	SexFemale  Sex = "female"
	SexUnknown Sex = "unknown"
)

// Vitals are the optional measurements captured at intake. Pointers
// distinguish "not measured" from zero.
type Vitals struct {
	HeartRate   *int     `json:"heart_rate,omitempty"`   // bpm
	SpO2        *int     `json:"spo2,omitempty"`         // percent
	SystolicBP  *int     `json:"systolic_bp,omitempty"`  // mmHg
	DiastolicBP *int     `json:"diastolic_bp,omitempty"` // mmHg
	Temperature *float64 `json:"temperature,omitempty"`  // celsius
	RespRate    *int     `json:"resp_rate,omitempty"`    // breaths per minute
}

// PatientInput is the free-text complaint plus vitals submitted by intake
// staff. Immutable once handed to an orchestration run.
type PatientInput struct {
	Complaint string `json:"complaint"`
	Age       int    `json:"age"`
	Sex       Sex    `json:"sex,omitempty"`
	Vitals    Vitals `json:"vitals,omitempty"`
	History   string `json:"history,omitempty"`
}

// InputDelta is the partial payload of a refinement call. Pointer fields
// distinguish "not supplied" from a legitimate zero value, the same way
// Vitals does: an explicit age of 0 is a newborn, an absent age keeps the
// accumulated one.
type InputDelta struct {
	Complaint *string `json:"complaint,omitempty"`
	Age       *int    `json:"age,omitempty"`
	Sex       *Sex    `json:"sex,omitempty"`
	Vitals    Vitals  `json:"vitals,omitempty"`
	History   *string `json:"history,omitempty"`
}

// Snippet is one retrieved reference excerpt with provenance.
type Snippet struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"` // 1-based, ties broken by document id
}

// Cause is one entry of the ranked probable-cause list.
type Cause struct {
	Label      string   `json:"label"`
	Rank       int      `json:"rank"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// TriageDraft is the model's parsed structured output for one orchestration
// pass. Never mutated after creation - corrections produce a new draft.
type TriageDraft struct {
	Priority           Priority    `json:"priority"`
	Disposition        Disposition `json:"disposition"`
	ProbableCauses     []Cause     `json:"probable_causes"`
	RecommendedActions []string    `json:"recommended_actions"`
	RedFlags           []string    `json:"red_flags,omitempty"`
	Explanations       []string    `json:"explanations,omitempty"`
	FollowUpQuestions  []string    `json:"follow_up_questions,omitempty"`
	Confidence         *float64    `json:"confidence,omitempty"` // model self-reported

	RawText     string `json:"raw_text,omitempty"`
	ParseError  string `json:"parse_error,omitempty"`
	NeedsReview bool   `json:"needs_review,omitempty"`
}

// GuardrailVerdict is the deterministic rule outcome for one pass. Derived
// purely from PatientInput and TriageDraft.
type GuardrailVerdict struct {
	TriggeredRules    []string    `json:"triggered_rules,omitempty"`
	ForcedPriority    Priority    `json:"forced_priority,omitempty"` // empty when no rule forced a value
	ForcedDisposition Disposition `json:"forced_disposition,omitempty"`
	Reasons           []string    `json:"reasons,omitempty"`
}

// Fired reports whether any rule forced a priority.
func (v GuardrailVerdict) Fired() bool { return v.ForcedPriority != "" }

// RiskScore is one deterministic clinical score computed from the intake
// presentation. Value is fractional because some scores use half points.
type RiskScore struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Band  string  `json:"band"`
}

// TriageResult is the caller-visible artifact: the draft merged with the
// guardrail verdict plus confidence and latency signals. Final priority and
// disposition always reflect the verdict when it fired.
type TriageResult struct {
	CaseID             string      `json:"case_id,omitempty"`
	Priority           Priority    `json:"priority"`
	Disposition        Disposition `json:"disposition"`
	ProbableCauses     []Cause     `json:"probable_causes"`
	RecommendedActions []string    `json:"recommended_actions"`
	RedFlags           []string    `json:"red_flags,omitempty"`
	Explanations       []string    `json:"explanations,omitempty"`
	FollowUpQuestions  []string    `json:"follow_up_questions,omitempty"`
	NeedsReview        bool        `json:"needs_review,omitempty"`
	ParseError         string      `json:"parse_error,omitempty"`
	RawText            string      `json:"raw_text,omitempty"`

	Verdict GuardrailVerdict `json:"guardrail_verdict"`

	FieldConfidence   map[string]float64 `json:"field_confidence,omitempty"`
	OverallConfidence *float64           `json:"overall_confidence,omitempty"`
	FallbackNotice    string             `json:"fallback_notice,omitempty"`
	LatencyWarning    bool               `json:"latency_warning,omitempty"`
	RiskScores        []RiskScore        `json:"risk_scores,omitempty"`

	SchemaVersion string    `json:"schema_version"`
	LatencyMs     int64     `json:"latency_ms"`
	Model         string    `json:"model,omitempty"`
	DoubleChecked bool      `json:"double_checked,omitempty"`
	Snippets      []Snippet `json:"retrieved_snippets,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ChangeKind labels one entry of a field-level diff.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeChanged ChangeKind = "changed"
)

// FieldChange records one field that differs between two versions. Before and
// After carry the raw JSON values so the UI can highlight exact changes.
type FieldChange struct {
	Field  string          `json:"field"`
	Change ChangeKind      `json:"change"`
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}

// TriageVersion is one immutable entry of a case's append-only history.
// Version numbers start at 1 and increase without gaps.
type TriageVersion struct {
	CaseID    string        `json:"case_id"`
	Version   int           `json:"version"`
	Input     PatientInput  `json:"input"` // accumulated input used for this run
	Result    TriageResult  `json:"result"`
	Diff      []FieldChange `json:"diff,omitempty"` // against version-1, empty for v1
	CreatedAt time.Time     `json:"created_at"`
}

// Actor identifies who performed an audited action.
type Actor string

const (
	ActorSystem Actor = "system"
	ActorHuman  Actor = "human"
)

// Action is the audited operation vocabulary.
type Action string

const (
	ActionCreate       Action = "create"
	ActionRefine       Action = "refine"
	ActionReviewAccept Action = "review-accept"
	ActionOverride     Action = "override"
	ActionReject       Action = "reject"
)

// AuditEntry is one row of a case's append-only audit log.
type AuditEntry struct {
	CaseID    string    `json:"case_id"`
	Version   int       `json:"version"`
	Actor     Actor     `json:"actor"`
	Action    Action    `json:"action"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// State tracks where an orchestration run is in its pipeline.
type State string

const (
	StateDrafting       State = "drafting"
	StateValidating     State = "validating"
	StateGuardrailing   State = "guardrailing"
	StateDoubleChecking State = "double_checking"
	StateFinalizing     State = "finalizing"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// HealthStatus is the snapshot exposed to the HTTP layer.
type HealthStatus struct {
	ModelReachable  bool    `json:"model_reachable"`
	CircuitOpen     bool    `json:"circuit_open"`
	SchemaVersion   string  `json:"schema_version"`
	MeanLatencyMs   float64 `json:"mean_latency_ms"`
	JSONSuccessRate float64 `json:"json_success_rate"`
	RequestCount    int64   `json:"request_count"`
}

package triage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"
)

// mockCompleter returns preconfigured responses in sequence.
type mockCompleter struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
	callIdx   int
}

func (m *mockCompleter) Complete(_ context.Context, req *CompletionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.callIdx
	m.callIdx++
	m.prompts = append(m.prompts, req.Prompt)

	if idx < len(m.errs) && m.errs[idx] != nil {
		return "", m.errs[idx]
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return validDraftJSON, nil
}

func (m *mockCompleter) Ping(context.Context) error { return nil }
func (m *mockCompleter) Model() string              { return "test-model" }

func (m *mockCompleter) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callIdx
}

// mockRetriever returns fixed snippets or a fixed error.
type mockRetriever struct {
	snippets []Snippet
	err      error
}

func (m *mockRetriever) Search(context.Context, string, int) ([]Snippet, error) {
	return m.snippets, m.err
}

func newTestOrchestrator(c Completer, r Retriever, opts Options) *Orchestrator {
	return NewOrchestrator(c, r, nil, nil, opts, false, log.Nop(), Hooks{})
}

func TestRun_HappyPath(t *testing.T) {
	t.Parallel()

	completer := &mockCompleter{responses: []string{validDraftJSON}}
	retriever := &mockRetriever{snippets: testSnippets()}
	o := newTestOrchestrator(completer, retriever, DefaultOptions())

	res, err := o.Run(context.Background(), PatientInput{Complaint: "dor de garganta", Age: 34}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Priority != PriorityUrgent {
		t.Errorf("priority = %q, want urgent", res.Priority)
	}
	if res.SchemaVersion != SchemaVersion {
		t.Errorf("schema version = %q", res.SchemaVersion)
	}
	if res.Model != "test-model" {
		t.Errorf("model = %q", res.Model)
	}
	if len(res.Snippets) != len(testSnippets()) {
		t.Errorf("snippets = %d, want %d", len(res.Snippets), len(testSnippets()))
	}
	if res.CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
	if completer.calls() != 1 {
		t.Errorf("llm calls = %d, want 1", completer.calls())
	}
}

func TestRun_RetrievalFailureDegrades(t *testing.T) {
	t.Parallel()

	completer := &mockCompleter{responses: []string{validDraftJSON}}
	retriever := &mockRetriever{err: fmt.Errorf("%w: search down", ErrRetrievalUnavailable)}
	o := newTestOrchestrator(completer, retriever, DefaultOptions())

	res, err := o.Run(context.Background(), PatientInput{Complaint: "febre", Age: 5}, nil)
	if err != nil {
		t.Fatalf("retrieval failure must not fail the run: %v", err)
	}
	if len(res.Snippets) != 0 {
		t.Errorf("snippets = %d, want 0 after degradation", len(res.Snippets))
	}
	if completer.calls() != 1 {
		t.Errorf("llm calls = %d, want 1", completer.calls())
	}
}

func TestRun_LLMRetryWithReducedContext(t *testing.T) {
	t.Parallel()

	completer := &mockCompleter{
		errs:      []error{ErrLLMTimeout},
		responses: []string{"", validDraftJSON},
	}
	retriever := &mockRetriever{snippets: testSnippets()}
	opts := DefaultOptions()
	opts.ContextBudget = 10000
	o := newTestOrchestrator(completer, retriever, opts)

	res, err := o.Run(context.Background(), PatientInput{Complaint: "dispneia", Age: 60}, nil)
	if err != nil {
		t.Fatalf("retry should have recovered: %v", err)
	}
	if completer.calls() != 2 {
		t.Fatalf("llm calls = %d, want 2", completer.calls())
	}
	// Second prompt carries fewer snippets than the first.
	if !strings.Contains(completer.prompts[0], "[doc-3]") {
		t.Error("first prompt missing full context")
	}
	if strings.Contains(completer.prompts[1], "[doc-3]") {
		t.Error("retry prompt still carries the full snippet set")
	}
	if len(res.Snippets) >= len(testSnippets()) {
		t.Errorf("result snippets = %d, want reduced set", len(res.Snippets))
	}
}

func TestRun_LLMFailsAfterRetry(t *testing.T) {
	t.Parallel()

	completer := &mockCompleter{errs: []error{ErrLLMTimeout, ErrLLMTimeout}}
	o := newTestOrchestrator(completer, nil, DefaultOptions())

	_, err := o.Run(context.Background(), PatientInput{Complaint: "x", Age: 1}, nil)
	if err == nil {
		t.Fatal("expected terminal failure")
	}
	fe, ok := AsFailed(err)
	if !ok {
		t.Fatalf("error %T is not a FailedError", err)
	}
	if fe.Reason != ReasonLLMTimeout {
		t.Errorf("reason = %q, want llm_timeout", fe.Reason)
	}
	if completer.calls() != 2 {
		t.Errorf("llm calls = %d, want 2", completer.calls())
	}
}

func TestRun_UnparseableOutputYieldsFallback(t *testing.T) {
	t.Parallel()

	completer := &mockCompleter{responses: []string{"não sei responder"}}
	o := newTestOrchestrator(completer, nil, DefaultOptions())

	res, err := o.Run(context.Background(), PatientInput{Complaint: "x", Age: 1}, nil)
	if err != nil {
		t.Fatalf("parse failure must not fail the run: %v", err)
	}
	if res.ParseError == "" {
		t.Error("parse error not recorded")
	}
	if !res.NeedsReview {
		t.Error("fallback result not flagged for review")
	}
	if res.Priority != PriorityEmergent || res.Disposition != DispositionER {
		t.Errorf("fallback classification = %q/%q, want emergent/ER", res.Priority, res.Disposition)
	}
}

func TestRun_GuardrailOverridesDraft(t *testing.T) {
	t.Parallel()

	lowball := `{"priority": "non-urgent", "disposition": "home",
		"probable_causes": ["ansiedade"], "recommended_actions": ["repouso"]}`
	completer := &mockCompleter{responses: []string{lowball}}
	o := newTestOrchestrator(completer, nil, DefaultOptions())

	input := PatientInput{
		Complaint: "Dor no peito com sudoração",
		Age:       55,
		Vitals:    Vitals{HeartRate: intPtr(110), SpO2: intPtr(89)},
	}
	res, err := o.Run(context.Background(), input, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Priority != PriorityEmergent {
		t.Errorf("priority = %q, want emergent forced by guardrails", res.Priority)
	}
	if res.Disposition != DispositionER {
		t.Errorf("disposition = %q, want ER", res.Disposition)
	}
	if !res.Verdict.Fired() {
		t.Error("verdict did not fire")
	}
	if len(res.Verdict.TriggeredRules) < 2 {
		t.Errorf("rules = %v, want low_spo2 and acs pattern", res.Verdict.TriggeredRules)
	}
}

func TestRun_DoubleCheckMergesAdditiveOnly(t *testing.T) {
	t.Parallel()

	first := `{"priority": "urgent", "disposition": "clinic",
		"probable_causes": ["pneumonia"], "recommended_actions": ["raio-x de tórax"],
		"red_flags": ["febre alta"], "explanations": ["tosse produtiva"]}`
	second := `{"priority": "non-urgent", "disposition": "home",
		"probable_causes": ["bronquite"], "recommended_actions": ["chá"],
		"red_flags": ["febre alta", "dispneia em repouso"],
		"follow_up_questions": ["há quanto tempo tosse?"]}`

	completer := &mockCompleter{responses: []string{first, second}}
	opts := DefaultOptions()
	opts.DoubleCheck = true
	o := newTestOrchestrator(completer, nil, opts)

	res, err := o.Run(context.Background(), PatientInput{Complaint: "tosse e febre", Age: 40}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.DoubleChecked {
		t.Fatal("result not marked double-checked")
	}
	// Classification from the first pass only.
	if res.Priority != PriorityUrgent || res.Disposition != DispositionClinic {
		t.Errorf("classification = %q/%q, second pass must not change it", res.Priority, res.Disposition)
	}
	if res.ProbableCauses[0].Label != "pneumonia" {
		t.Errorf("causes changed by double-check: %v", res.ProbableCauses)
	}
	// Additive fields merged without duplicates.
	if len(res.RedFlags) != 2 {
		t.Errorf("red flags = %v, want merged pair", res.RedFlags)
	}
	if len(res.FollowUpQuestions) != 1 {
		t.Errorf("follow-ups = %v, want one from second pass", res.FollowUpQuestions)
	}
}

func TestRun_DoubleCheckFailureKeepsFirstDraft(t *testing.T) {
	t.Parallel()

	completer := &mockCompleter{
		responses: []string{validDraftJSON},
		errs:      []error{nil, ErrLLMUnavailable},
	}
	opts := DefaultOptions()
	opts.DoubleCheck = true
	o := newTestOrchestrator(completer, nil, opts)

	res, err := o.Run(context.Background(), PatientInput{Complaint: "dor de garganta", Age: 34}, nil)
	if err != nil {
		t.Fatalf("double-check failure must not fail the run: %v", err)
	}
	if res.DoubleChecked {
		t.Error("result marked double-checked after a failed second pass")
	}
	if res.Priority != PriorityUrgent {
		t.Errorf("priority = %q, want urgent from first pass", res.Priority)
	}
}

func TestRun_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	completer := &mockCompleter{
		errs:      []error{ErrLLMTimeout},
		responses: []string{"", validDraftJSON},
	}
	o := newTestOrchestrator(completer, &mockRetriever{snippets: testSnippets()}, DefaultOptions())

	if _, err := o.Run(context.Background(), PatientInput{Complaint: "dispneia", Age: 60}, nil); err != nil {
		t.Fatal(err)
	}

	spans := exporter.GetSpans()
	counts := make(map[string]int)
	for _, s := range spans {
		counts[s.Name]++
	}
	if counts["triage.run"] != 1 {
		t.Errorf("triage.run spans = %d, want 1", counts["triage.run"])
	}
	// Failed first attempt plus the successful retry.
	if counts["llm.call"] != 2 {
		t.Errorf("llm.call spans = %d, want 2", counts["llm.call"])
	}

	for _, s := range spans {
		if s.Name != "llm.call" {
			continue
		}
		attrs := make(map[string]any)
		for _, a := range s.Attributes {
			attrs[string(a.Key)] = a.Value.AsInterface()
		}
		if v, ok := attrs["gen_ai.operation.name"]; !ok || v != "llm.call" {
			t.Errorf("llm.call span missing gen_ai.operation.name, got %v", v)
		}
		if v, ok := attrs["gen_ai.request.model"]; !ok || v != "test-model" {
			t.Errorf("llm.call span model = %v, want test-model", v)
		}
	}
}

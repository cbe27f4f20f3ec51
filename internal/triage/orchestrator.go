package triage

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/MaxMed21M/Teletriagem-MVP/internal/triage")

// Options is the explicit configuration for an orchestration pipeline. Every
// capability toggle is a field checked at the point of use - no ambient
// global state.
type Options struct {
	TopK             int           // snippets requested from retrieval
	ContextBudget    int           // chars of snippet text injected into prompts
	RetrievalTimeout time.Duration // bound on the retrieval contract call
	LLMTimeout       time.Duration // bound on each completion call
	Temperature      float64
	TopP             float64
	MaxTokens        int
	DoubleCheck      bool // feature gate for the second omission-finding pass
}

// DefaultOptions returns the deployment defaults.
func DefaultOptions() Options {
	return Options{
		TopK:             6,
		ContextBudget:    DefaultContextBudget,
		RetrievalTimeout: 3 * time.Second,
		LLMTimeout:       60 * time.Second,
		Temperature:      0.2,
		TopP:             0.9,
		MaxTokens:        1024,
	}
}

// Hooks lets the caller observe pipeline events (wired to Prometheus by main).
type Hooks struct {
	OnRetrieval func(count int, err error)
	OnLLMCall   func(duration float64, err error)
	OnParse     func(ok bool)
	OnRuleFired func(rule string)
	OnComplete  func(state State, duration float64)
}

// Orchestrator sequences one triage pass: retrieve context, assemble the
// prompt, invoke the completion contract, validate and repair the output,
// apply guardrails, and attach signals. A run always ends in a TriageResult
// or a typed FailedError - collaborator failures never escape as panics.
type Orchestrator struct {
	completer Completer
	retriever Retriever // nil disables retrieval (zero-context prompts)
	assembler *Assembler
	validator *Validator
	estimator *Estimator
	opts      Options
	logger    log.Logger
	hooks     Hooks
}

// NewOrchestrator creates an orchestrator with the given collaborators.
func NewOrchestrator(completer Completer, retriever Retriever, glossary TermAnnotator,
	estimator *Estimator, opts Options, strictJSON bool, logger log.Logger, hooks Hooks) *Orchestrator {
	if logger == nil {
		logger = log.Nop()
	}
	if opts.TopK <= 0 {
		opts.TopK = 6
	}
	return &Orchestrator{
		completer: completer,
		retriever: retriever,
		assembler: &Assembler{ContextBudget: opts.ContextBudget, Glossary: glossary},
		validator: &Validator{Strict: strictJSON},
		estimator: estimator,
		opts:      opts,
		logger:    logger,
		hooks:     hooks,
	}
}

// Run executes one orchestration pass. prior is the previous structured draft
// on refinement calls, nil on initial calls.
func (o *Orchestrator) Run(ctx context.Context, input PatientInput, prior *TriageDraft) (*TriageResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "triage.run", trace.WithAttributes(
		attribute.Bool("triage.refinement", prior != nil),
	))
	defer span.End()

	L := o.logger.With("complaint_len", len(input.Complaint))

	// Drafting: retrieval failure degrades to a zero-context prompt.
	snippets := o.retrieve(ctx, input)
	scores := ComputeScores(input)

	prompt := o.assembler.Build(input, snippets, scores, prior)
	raw, err := o.complete(ctx, prompt)
	if err != nil {
		// One retry with reduced context before giving up.
		reduced := snippets[:len(snippets)/2]
		L.Warn(ctx, "llm call failed, retrying with reduced context",
			"error", err, "snippets", len(reduced))
		prompt = o.assembler.Build(input, reduced, scores, prior)
		raw, err = o.complete(ctx, prompt)
		if err != nil {
			o.finish(StateFailed, start)
			reason := ReasonLLMUnavailable
			if errors.Is(err, ErrLLMTimeout) {
				reason = ReasonLLMTimeout
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, string(reason))
			L.Error(ctx, err, "triage failed", "reason", string(reason))
			return nil, &FailedError{Reason: reason, Err: err}
		}
		snippets = reduced
	}

	// Validating: always yields a draft, possibly the flagged fallback.
	draft := o.validator.ParseDraft(raw)
	if o.hooks.OnParse != nil {
		o.hooks.OnParse(draft.ParseError == "")
	}
	if draft.ParseError != "" {
		L.Warn(ctx, "model output unparseable, conservative fallback in effect",
			"parse_error", draft.ParseError)
	}

	// DoubleChecking: optional additive pass; classification is untouchable.
	doubleChecked := false
	if o.opts.DoubleCheck && draft.ParseError == "" {
		if merged := o.doubleCheck(ctx, draft); merged != nil {
			draft = merged
			doubleChecked = true
		}
	}

	// Guardrailing: deterministic, never fails. Runs after the double-check
	// merge so added red flags can still raise the floor.
	verdict := EvaluateGuardrails(input, draft)
	for _, rule := range verdict.TriggeredRules {
		if o.hooks.OnRuleFired != nil {
			o.hooks.OnRuleFired(rule)
		}
	}
	if verdict.Fired() {
		L.Info(ctx, "guardrail override",
			"rules", verdict.TriggeredRules,
			"forced_priority", string(verdict.ForcedPriority))
	}

	// Finalizing.
	res := o.finalize(input, draft, verdict, snippets, scores, start)
	res.DoubleChecked = doubleChecked

	span.SetAttributes(
		attribute.String("triage.priority", string(res.Priority)),
		attribute.StringSlice("triage.guardrail_rules", verdict.TriggeredRules),
	)

	o.finish(StateDone, start)
	return res, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, input PatientInput) []Snippet {
	if o.retriever == nil {
		return nil
	}
	query := input.Complaint
	if input.History != "" {
		query += " " + input.History
	}

	rctx := ctx
	if o.opts.RetrievalTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, o.opts.RetrievalTimeout)
		defer cancel()
	}

	snippets, err := o.retriever.Search(rctx, query, o.opts.TopK)
	if o.hooks.OnRetrieval != nil {
		o.hooks.OnRetrieval(len(snippets), err)
	}
	if err != nil {
		o.logger.Warn(ctx, "retrieval degraded to empty context", "error", err)
		return nil
	}
	if len(snippets) > o.opts.TopK {
		snippets = snippets[:o.opts.TopK]
	}
	return snippets
}

func (o *Orchestrator) complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.call", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "llm.call"),
		attribute.String("gen_ai.request.model", o.completer.Model()),
	))
	defer span.End()

	callStart := time.Now()
	raw, err := o.completer.Complete(ctx, &CompletionRequest{
		System:      o.assembler.SystemPrompt(),
		Prompt:      prompt,
		Temperature: o.opts.Temperature,
		TopP:        o.opts.TopP,
		MaxTokens:   o.opts.MaxTokens,
		Timeout:     o.opts.LLMTimeout,
	})
	if o.hooks.OnLLMCall != nil {
		o.hooks.OnLLMCall(time.Since(callStart).Seconds(), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
	}
	return raw, err
}

// doubleCheck asks the model for omissions and merges only additive fields:
// red flags, explanations, and follow-up questions. Returns nil when the
// extra pass fails or adds nothing; the original draft then stands.
func (o *Orchestrator) doubleCheck(ctx context.Context, draft *TriageDraft) *TriageDraft {
	raw, err := o.complete(ctx, doubleCheckPrompt(draft))
	if err != nil {
		o.logger.Warn(ctx, "double-check pass failed, keeping first draft", "error", err)
		return nil
	}
	extra := o.validator.ParseDraft(raw)
	if extra.ParseError != "" {
		return nil
	}

	merged := *draft
	merged.RedFlags = appendMissing(draft.RedFlags, extra.RedFlags)
	merged.Explanations = appendMissing(draft.Explanations, extra.Explanations)
	merged.FollowUpQuestions = appendMissing(draft.FollowUpQuestions, extra.FollowUpQuestions)
	return &merged
}

func (o *Orchestrator) finalize(input PatientInput, draft *TriageDraft, verdict GuardrailVerdict,
	snippets []Snippet, scores []RiskScore, start time.Time) *TriageResult {

	priority, disposition := ApplyVerdict(draft, verdict)
	latency := time.Since(start)

	res := &TriageResult{
		Priority:           priority,
		Disposition:        disposition,
		ProbableCauses:     nonNilCauses(draft.ProbableCauses),
		RecommendedActions: nonNilStrings(draft.RecommendedActions),
		RedFlags:           draft.RedFlags,
		Explanations:       draft.Explanations,
		FollowUpQuestions:  draft.FollowUpQuestions,
		NeedsReview:        draft.NeedsReview,
		ParseError:         draft.ParseError,
		RawText:            draft.RawText,
		Verdict:            verdict,
		RiskScores:         scores,
		SchemaVersion:      SchemaVersion,
		LatencyMs:          latency.Milliseconds(),
		Model:              o.completer.Model(),
		Snippets:           snippets,
		CreatedAt:          time.Now().UTC(),
	}

	if o.estimator != nil {
		o.estimator.Annotate(res, draft, snippets, latency)
	}
	return res
}

func (o *Orchestrator) finish(state State, start time.Time) {
	if o.hooks.OnComplete != nil {
		o.hooks.OnComplete(state, time.Since(start).Seconds())
	}
}

func appendMissing(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[normalizeText(s)] = true
	}
	out := base
	for _, s := range extra {
		if key := normalizeText(s); !seen[key] {
			seen[key] = true
			out = append(out, s)
		}
	}
	return out
}

func nonNilCauses(c []Cause) []Cause {
	if c == nil {
		return []Cause{}
	}
	return c
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

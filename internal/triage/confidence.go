package triage

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Estimator computes helpfulness signals for a finalized result: per-field and
// overall confidence, probable-cause re-weighting, and latency warnings. It
// never touches priority or disposition - only the guardrail verdict may do
// that.
type Estimator struct {
	Enabled       bool
	MinConfidence float64       // below this, FallbackNotice is set
	LatencyWarn   time.Duration // above this, LatencyWarning is set

	EpiEnabled bool
	EpiWeights map[string]float64 // normalized cause label -> regional/seasonal weight
}

// Field weights for the overall confidence aggregate.
var confidenceWeights = map[string]float64{
	"priority":            0.35,
	"disposition":         0.25,
	"probable_causes":     0.25,
	"recommended_actions": 0.15,
}

// Annotate attaches confidence scores and latency signals to res in place.
// Classification fields are read, never written.
func (e *Estimator) Annotate(res *TriageResult, draft *TriageDraft, snippets []Snippet, latency time.Duration) {
	if e.LatencyWarn > 0 && latency > e.LatencyWarn {
		res.LatencyWarning = true
	}

	if e.Enabled {
		fields := e.fieldConfidence(draft, snippets)
		overall := 0.0
		for name, w := range confidenceWeights {
			overall += w * fields[name]
		}
		res.FieldConfidence = fields
		res.OverallConfidence = &overall

		if overall < e.MinConfidence {
			res.FallbackNotice = fmt.Sprintf(
				"confiança geral %.2f abaixo do mínimo %.2f; revisão humana recomendada",
				overall, e.MinConfidence)
		}
	}

	if e.EpiEnabled && len(e.EpiWeights) > 0 {
		res.ProbableCauses = e.ReweighCauses(res.ProbableCauses)
	}
}

// fieldConfidence scores each schema field from the model's self-reported
// certainty plus explicit snippet support for the probable causes.
func (e *Estimator) fieldConfidence(draft *TriageDraft, snippets []Snippet) map[string]float64 {
	self := 0.5
	if draft.Confidence != nil {
		self = *draft.Confidence
	}
	if draft.ParseError != "" {
		self = 0.0
	}

	support := causeSupport(draft.ProbableCauses, snippets)

	return map[string]float64{
		"priority":            clamp01(self),
		"disposition":         clamp01(self),
		"probable_causes":     clamp01(0.65*self + 0.35*support),
		"recommended_actions": clamp01(self),
	}
}

// causeSupport returns the fraction of probable causes mentioned by at least
// one retrieved snippet.
func causeSupport(causes []Cause, snippets []Snippet) float64 {
	if len(causes) == 0 || len(snippets) == 0 {
		return 0
	}
	var corpus strings.Builder
	for _, sn := range snippets {
		corpus.WriteString(normalizeText(sn.Text))
		corpus.WriteByte(' ')
	}
	text := corpus.String()

	supported := 0
	for _, c := range causes {
		if strings.Contains(text, normalizeText(c.Label)) {
			supported++
		}
	}
	return float64(supported) / float64(len(causes))
}

// ReweighCauses re-sorts probable causes by the configured epidemiological
// weight table. A pure re-sort: labels and confidences are untouched, ranks
// are reassigned to match the new order, and unweighted causes keep their
// relative order after weighted ones of equal weight.
func (e *Estimator) ReweighCauses(causes []Cause) []Cause {
	if len(causes) < 2 {
		return causes
	}
	out := make([]Cause, len(causes))
	copy(out, causes)
	sort.SliceStable(out, func(i, j int) bool {
		wi := e.EpiWeights[normalizeText(out[i].Label)]
		wj := e.EpiWeights[normalizeText(out[j].Label)]
		if wi != wj {
			return wi > wj
		}
		return out[i].Rank < out[j].Rank
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

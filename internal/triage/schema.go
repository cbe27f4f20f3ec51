package triage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaVersion identifies the structured output contract the model is asked
// to follow and is stamped on every result.
const SchemaVersion = "triage-v1"

// Validator enforces the draft output contract on raw model text. When Strict
// is set, synonym coercion of enum values is disabled and anything outside the
// closed vocabularies goes to the conservative fallback.
type Validator struct {
	Strict bool
}

// wireDraft is the lenient decode target for model output. probable_causes
// accepts both plain strings and {label, confidence} objects.
type wireDraft struct {
	Priority           string            `json:"priority"`
	Disposition        string            `json:"disposition"`
	ProbableCauses     []json.RawMessage `json:"probable_causes"`
	RecommendedActions []string          `json:"recommended_actions"`
	RedFlags           []string          `json:"red_flags"`
	Explanations       []string          `json:"explanations"`
	FollowUpQuestions  []string          `json:"follow_up_questions"`
	Confidence         *float64          `json:"confidence"`
}

// ParseDraft parses raw model text into a TriageDraft. It never fails: on
// unparseable input it returns a conservative fallback draft flagged for
// mandatory human review, with ParseError set. The repair budget is bounded -
// strip code fences, extract the first balanced object, coerce synonym enum
// values - and the parse is retried exactly once.
func (v *Validator) ParseDraft(raw string) *TriageDraft {
	draft, err := v.parse(raw, false)
	if err == nil {
		draft.RawText = raw
		return draft
	}

	repaired := stripCodeFences(raw)
	if obj := extractBalancedObject(repaired); obj != "" {
		repaired = obj
	}
	draft, retryErr := v.parse(repaired, !v.Strict)
	if retryErr == nil {
		draft.RawText = raw
		return draft
	}

	return fallbackDraft(raw, err)
}

func (v *Validator) parse(text string, coerce bool) (*TriageDraft, error) {
	var w wireDraft
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &w); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	priority := Priority(strings.TrimSpace(strings.ToLower(w.Priority)))
	if coerce && !priority.Valid() {
		priority = coercePriority(string(priority))
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("priority %q not in vocabulary", w.Priority)
	}

	disposition := Disposition(strings.TrimSpace(w.Disposition))
	if !disposition.Valid() {
		if coerce {
			disposition = coerceDisposition(string(disposition))
		}
		if !disposition.Valid() {
			return nil, fmt.Errorf("disposition %q not in vocabulary", w.Disposition)
		}
	}

	if w.ProbableCauses == nil {
		return nil, fmt.Errorf("probable_causes missing")
	}
	if w.RecommendedActions == nil {
		return nil, fmt.Errorf("recommended_actions missing")
	}

	causes, err := decodeCauses(w.ProbableCauses)
	if err != nil {
		return nil, err
	}

	d := &TriageDraft{
		Priority:           priority,
		Disposition:        disposition,
		ProbableCauses:     causes,
		RecommendedActions: w.RecommendedActions,
		RedFlags:           w.RedFlags,
		Explanations:       w.Explanations,
		FollowUpQuestions:  w.FollowUpQuestions,
	}
	if w.Confidence != nil {
		c := clamp01(*w.Confidence)
		d.Confidence = &c
	}
	return d, nil
}

// decodeCauses accepts "label" strings or {"label": ..., "confidence": ...}
// objects and assigns 1-based ranks in list order.
func decodeCauses(items []json.RawMessage) ([]Cause, error) {
	causes := make([]Cause, 0, len(items))
	for i, item := range items {
		var label string
		if err := json.Unmarshal(item, &label); err == nil {
			causes = append(causes, Cause{Label: label, Rank: i + 1})
			continue
		}
		var obj struct {
			Label      string   `json:"label"`
			Confidence *float64 `json:"confidence"`
		}
		if err := json.Unmarshal(item, &obj); err != nil || obj.Label == "" {
			return nil, fmt.Errorf("probable_causes[%d]: not a string or labelled object", i)
		}
		c := Cause{Label: obj.Label, Rank: i + 1}
		if obj.Confidence != nil {
			cc := clamp01(*obj.Confidence)
			c.Confidence = &cc
		}
		causes = append(causes, c)
	}
	return causes, nil
}

func coercePriority(s string) Priority {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "critical", "emergency", "vermelho", "red", "immediate":
		return PriorityEmergent
	case "semi-urgent", "moderate", "amarelo", "yellow", "priority":
		return PriorityUrgent
	case "nonurgent", "non urgent", "routine", "low", "verde", "green":
		return PriorityNonUrgent
	}
	return Priority(s)
}

func coerceDisposition(s string) Disposition {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "er", "ed", "emergency", "emergency room", "er visit", "pronto-socorro", "pronto socorro", "ps":
		return DispositionER
	case "clinic same day", "same-day clinic", "same day clinic", "clinic routine", "consulta", "ubs", "ambulatorio":
		return DispositionClinic
	case "home care", "home care + watch", "self-care", "domiciliar", "casa":
		return DispositionHome
	}
	return Disposition(s)
}

// stripCodeFences removes a surrounding ```json ... ``` (or plain ```) fence.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 && strings.EqualFold(strings.TrimSpace(s[:i]), "json") {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// extractBalancedObject returns the first balanced {...} substring, tracking
// strings and escapes so braces inside values don't break the scan. Returns ""
// when no balanced object is found.
func extractBalancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// fallbackDraft is the conservative result used when parsing fails outright.
// Priority defaults to the most severe value and the draft is flagged for
// mandatory human review - a parse failure is recoverable, never a crash.
func fallbackDraft(raw string, cause error) *TriageDraft {
	return &TriageDraft{
		Priority:           PriorityEmergent,
		Disposition:        DispositionER,
		ProbableCauses:     []Cause{},
		RecommendedActions: []string{"Encaminhar para avaliação humana imediata"},
		RawText:            raw,
		ParseError:         cause.Error(),
		NeedsReview:        true,
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

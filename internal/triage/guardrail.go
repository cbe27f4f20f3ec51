package triage

import (
	"fmt"
	"strings"
)

// Guardrail rule identifiers, reported on every verdict that triggers them.
const (
	RuleLowSpO2      = "low_spo2"
	RuleACSPattern   = "chest_pain_acs_pattern"
	RuleRedFlagFloor = "red_flag_floor"
)

// Clinical thresholds for the deterministic override rules.
const (
	spo2EmergentBelow = 92
	tachycardiaAbove  = 100
)

var chestPainTerms = []string{
	"dor no peito",
	"dor torac",
	"aperto no peito",
	"pressao no peito",
	"queimacao no peito",
	"chest pain",
	"chest tightness",
}

var diaphoresisTerms = []string{
	"sudor", // sudorese, sudoracao
	"suor frio",
	"suando frio",
	"diaphor",
	"sweat",
}

var accentReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "ã", "a", "â", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "õ", "o", "ô", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
)

// normalizeText lowercases and strips pt-BR accents so keyword rules match
// colloquial spellings.
func normalizeText(s string) string {
	return accentReplacer.Replace(strings.ToLower(s))
}

func containsAny(haystack string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}

// EvaluateGuardrails runs every safety rule against the patient input and the
// model draft. It is pure and deterministic: all rules are evaluated on every
// call (no short-circuit) so the verdict reports the union of triggered rule
// ids, while the forced outcome is the severity-max merge of the individual
// rules' forced values.
func EvaluateGuardrails(input PatientInput, draft *TriageDraft) GuardrailVerdict {
	var v GuardrailVerdict

	trigger := func(rule string, reason string, priority Priority, disposition Disposition) {
		v.TriggeredRules = append(v.TriggeredRules, rule)
		v.Reasons = append(v.Reasons, reason)
		if priority.Severity() > v.ForcedPriority.Severity() {
			v.ForcedPriority = priority
		}
		// Rules only ever force ER; keep it once any rule demands it.
		if disposition != "" {
			v.ForcedDisposition = disposition
		}
	}

	if spo2 := input.Vitals.SpO2; spo2 != nil && *spo2 < spo2EmergentBelow {
		trigger(RuleLowSpO2,
			fmt.Sprintf("SpO2 %d%% below %d%% forces emergent priority", *spo2, spo2EmergentBelow),
			PriorityEmergent, DispositionER)
	}

	blob := normalizeText(input.Complaint + " " + input.History)
	hr := 0
	if input.Vitals.HeartRate != nil {
		hr = *input.Vitals.HeartRate
	}
	if containsAny(blob, chestPainTerms) && containsAny(blob, diaphoresisTerms) && hr > tachycardiaAbove {
		trigger(RuleACSPattern,
			fmt.Sprintf("chest pain with diaphoresis and heart rate %d suggests acute coronary syndrome", hr),
			PriorityEmergent, DispositionER)
	}

	if draft != nil && len(draft.RedFlags) > 0 && draft.Priority == PriorityNonUrgent {
		trigger(RuleRedFlagFloor,
			"red flags present, non-urgent classification not allowed",
			PriorityUrgent, "")
	}

	return v
}

// ApplyVerdict merges a verdict into the draft's classification. The forced
// priority wins only when it is at least as severe as the model's own value -
// a guardrail overrides, it never downgrades. Returns the final priority and
// disposition for the result.
func ApplyVerdict(draft *TriageDraft, v GuardrailVerdict) (Priority, Disposition) {
	priority := draft.Priority
	disposition := draft.Disposition

	if !v.Fired() {
		return priority, disposition
	}
	if v.ForcedPriority.Severity() >= priority.Severity() {
		priority = v.ForcedPriority
	}
	if v.ForcedDisposition != "" {
		disposition = v.ForcedDisposition
	}
	return priority, disposition
}

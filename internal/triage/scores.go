package triage

// scoreRule pairs a clinical score with its applicability test. Applicability
// is decided from complaint keywords and available inputs so irrelevant scores
// never show up on a result.
type scoreRule struct {
	name    string
	applies func(input PatientInput, text string) bool
	compute func(input PatientInput, text string) *RiskScore
}

// Registry order fixes the order scores appear in prompts and results.
var scoreRules = []scoreRule{
	{
		name:    "NEWS2",
		applies: func(PatientInput, string) bool { return true },
		compute: func(input PatientInput, _ string) *RiskScore { return ComputeNEWS2(input.Vitals) },
	},
	{
		name: "CRB-65",
		applies: func(_ PatientInput, text string) bool {
			return containsAny(text, respiratoryInfectionTerms)
		},
		compute: computeCRB65,
	},
	{
		name: "Centor-McIsaac",
		applies: func(_ PatientInput, text string) bool {
			return containsAny(text, soreThroatTerms)
		},
		compute: computeCentorMcIsaac,
	},
	{
		name: "Wells-PE-simplificado",
		applies: func(_ PatientInput, text string) bool {
			return containsAny(text, dyspneaTerms) || containsAny(text, chestPainTerms)
		},
		compute: computeWellsPE,
	},
}

var (
	respiratoryInfectionTerms = []string{
		"tosse",
		"pneumonia",
		"expectora",
		"falta de ar",
		"dispneia",
		"catarro",
	}
	soreThroatTerms = []string{
		"dor de garganta",
		"garganta inflamada",
		"amigdal",
		"dor ao engolir",
		"odinofagia",
	}
	dyspneaTerms = []string{
		"dispneia",
		"falta de ar",
		"cansaco para respirar",
		"dificuldade para respirar",
	}
	exudateTerms = []string{
		"placas",
		"exsudato",
		"pus na garganta",
	}
	adenopathyTerms = []string{
		"ingua",
		"ganglio",
		"linfonodo",
		"adenopatia",
	}
	surgeryTerms = []string{
		"cirurgia recente",
		"pos-operatorio",
		"operado",
	}
	dvtTerms = []string{
		"trombose",
		"tvp",
		"embolia",
	}
	feverTerms = []string{
		"febre",
		"febril",
	}
)

// ComputeScores runs every applicable score rule against the intake
// presentation. Rules whose inputs are entirely absent contribute nothing.
func ComputeScores(input PatientInput) []RiskScore {
	text := normalizeText(input.Complaint + " " + input.History)

	var out []RiskScore
	for _, rule := range scoreRules {
		if !rule.applies(input, text) {
			continue
		}
		if s := rule.compute(input, text); s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// ComputeNEWS2 calculates a partial NEWS2 early-warning score from the vitals
// available at intake. Consciousness level and supplemental oxygen are not
// captured on the intake form, so those components are omitted. Returns nil
// when no scorable vital is present.
func ComputeNEWS2(v Vitals) *RiskScore {
	total := 0.0
	scored := false

	if v.RespRate != nil {
		scored = true
		switch rr := *v.RespRate; {
		case rr <= 8:
			total += 3
		case rr <= 11:
			total++
		case rr <= 20:
			// 0
		case rr <= 24:
			total += 2
		default:
			total += 3
		}
	}

	if v.SpO2 != nil {
		scored = true
		switch s := *v.SpO2; {
		case s <= 91:
			total += 3
		case s <= 93:
			total += 2
		case s <= 95:
			total++
		}
	}

	if v.SystolicBP != nil {
		scored = true
		switch sbp := *v.SystolicBP; {
		case sbp <= 90:
			total += 3
		case sbp <= 100:
			total += 2
		case sbp <= 110:
			total++
		case sbp <= 219:
			// 0
		default:
			total += 3
		}
	}

	if v.HeartRate != nil {
		scored = true
		switch hr := *v.HeartRate; {
		case hr <= 40:
			total += 3
		case hr <= 50:
			total++
		case hr <= 90:
			// 0
		case hr <= 110:
			total++
		case hr <= 130:
			total += 2
		default:
			total += 3
		}
	}

	if v.Temperature != nil {
		scored = true
		switch t := *v.Temperature; {
		case t <= 35.0:
			total += 3
		case t <= 36.0:
			total++
		case t <= 38.0:
			// 0
		case t <= 39.0:
			total++
		default:
			total += 2
		}
	}

	if !scored {
		return nil
	}

	band := "low"
	switch {
	case total >= 7:
		band = "high"
	case total >= 5:
		band = "medium"
	}

	return &RiskScore{Name: "NEWS2", Value: total, Band: band}
}

// computeCRB65 scores pneumonia severity. The confusion component needs a
// consciousness assessment the intake form does not capture, so only the
// respiratory rate, blood pressure, and age components are counted.
func computeCRB65(input PatientInput, _ string) *RiskScore {
	total := 0.0
	if input.Vitals.RespRate != nil && *input.Vitals.RespRate >= 30 {
		total++
	}
	if input.Vitals.SystolicBP != nil && *input.Vitals.SystolicBP <= 90 {
		total++
	}
	if input.Age >= 65 {
		total++
	}

	band := "low"
	switch {
	case total >= 3:
		band = "high"
	case total >= 1:
		band = "medium"
	}
	return &RiskScore{Name: "CRB-65", Value: total, Band: band}
}

// computeCentorMcIsaac scores streptococcal pharyngitis likelihood. Fever
// counts from a measured temperature or from the complaint text; exudate and
// adenopathy only from the text.
func computeCentorMcIsaac(input PatientInput, text string) *RiskScore {
	total := 0.0
	if (input.Vitals.Temperature != nil && *input.Vitals.Temperature >= 38) ||
		containsAny(text, feverTerms) {
		total++
	}
	if containsAny(text, exudateTerms) {
		total++
	}
	if containsAny(text, adenopathyTerms) {
		total++
	}
	switch {
	case input.Age < 15:
		total++
	case input.Age >= 45:
		total--
	}

	band := "low"
	switch {
	case total >= 4:
		band = "high"
	case total >= 2:
		band = "medium"
	}
	return &RiskScore{Name: "Centor-McIsaac", Value: total, Band: band}
}

// computeWellsPE scores pulmonary embolism likelihood with the simplified
// point weights. Text stands in for the structured risk-factor questions of
// the full score.
func computeWellsPE(input PatientInput, text string) *RiskScore {
	total := 0.0
	if containsAny(text, dyspneaTerms) {
		total += 1.5
	}
	if containsAny(text, chestPainTerms) {
		total += 1.0
	}
	if containsAny(text, surgeryTerms) {
		total += 1.5
	}
	if containsAny(text, dvtTerms) {
		total += 1.5
	}
	if input.Vitals.HeartRate != nil && *input.Vitals.HeartRate > 100 {
		total += 1.5
	}

	band := "low"
	switch {
	case total > 4:
		band = "high"
	case total >= 2:
		band = "medium"
	}
	return &RiskScore{Name: "Wells-PE-simplificado", Value: total, Band: band}
}

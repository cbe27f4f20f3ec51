package triage

import "testing"

func TestComputeNEWS2(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name      string
		vitals    Vitals
		wantScore float64
		wantBand  string
	}{
		{
			name:      "all normal",
			vitals:    Vitals{RespRate: intPtr(16), SpO2: intPtr(98), SystolicBP: intPtr(120), HeartRate: intPtr(70), Temperature: floatPtr(36.8)},
			wantScore: 0,
			wantBand:  "low",
		},
		{
			name:      "hypoxia alone",
			vitals:    Vitals{SpO2: intPtr(90)},
			wantScore: 3,
			wantBand:  "low",
		},
		{
			name:      "medium band",
			vitals:    Vitals{SpO2: intPtr(93), SystolicBP: intPtr(95), HeartRate: intPtr(115)},
			wantScore: 6,
			wantBand:  "medium",
		},
		{
			name:      "high band",
			vitals:    Vitals{RespRate: intPtr(28), SpO2: intPtr(89), SystolicBP: intPtr(85)},
			wantScore: 9,
			wantBand:  "high",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			score := ComputeNEWS2(tc.vitals)
			if score == nil {
				t.Fatal("nil score for measured vitals")
			}
			if score.Name != "NEWS2" {
				t.Errorf("name = %q", score.Name)
			}
			if score.Value != tc.wantScore {
				t.Errorf("value = %g, want %g", score.Value, tc.wantScore)
			}
			if score.Band != tc.wantBand {
				t.Errorf("band = %q, want %q", score.Band, tc.wantBand)
			}
		})
	}
}

func TestComputeNEWS2_NoVitals(t *testing.T) {
	t.Parallel()

	if score := ComputeNEWS2(Vitals{}); score != nil {
		t.Fatalf("score = %+v, want nil with no measurements", score)
	}
	// Diastolic pressure alone is not a scorable component.
	if score := ComputeNEWS2(Vitals{DiastolicBP: intPtr(80)}); score != nil {
		t.Fatalf("score = %+v, want nil", score)
	}
}

func TestComputeScores_Applicability(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name  string
		input PatientInput
		want  []string
	}{
		{
			name:  "headache with no vitals scores nothing",
			input: PatientInput{Complaint: "dor de cabeça", Age: 30},
			want:  nil,
		},
		{
			name:  "headache with vitals scores NEWS2 only",
			input: PatientInput{Complaint: "dor de cabeça", Age: 30, Vitals: Vitals{HeartRate: intPtr(80)}},
			want:  []string{"NEWS2"},
		},
		{
			name:  "cough selects CRB-65",
			input: PatientInput{Complaint: "tosse com catarro há uma semana", Age: 70},
			want:  []string{"CRB-65"},
		},
		{
			name:  "sore throat selects Centor-McIsaac",
			input: PatientInput{Complaint: "dor de garganta e febre", Age: 10},
			want:  []string{"Centor-McIsaac"},
		},
		{
			name:  "history feeds the keyword match",
			input: PatientInput{Complaint: "mal estar", History: "amigdalite de repetição", Age: 25},
			want:  []string{"Centor-McIsaac"},
		},
		{
			name: "dyspnea with chest pain selects CRB-65 and Wells alongside NEWS2",
			input: PatientInput{
				Complaint: "falta de ar e dor no peito",
				Age:       55,
				Vitals:    Vitals{HeartRate: intPtr(110), SpO2: intPtr(93)},
			},
			want: []string{"NEWS2", "CRB-65", "Wells-PE-simplificado"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			scores := ComputeScores(tc.input)
			if len(scores) != len(tc.want) {
				t.Fatalf("scores = %+v, want names %v", scores, tc.want)
			}
			for i, name := range tc.want {
				if scores[i].Name != name {
					t.Errorf("scores[%d] = %q, want %q", i, scores[i].Name, name)
				}
			}
		})
	}
}

func TestComputeCRB65(t *testing.T) {
	t.Parallel()

	// Tachypnea, hypotension, and age 65 and over score one point each.
	input := PatientInput{
		Complaint: "tosse produtiva e febre",
		Age:       72,
		Vitals:    Vitals{RespRate: intPtr(32), SystolicBP: intPtr(85)},
	}
	score := computeCRB65(input, "")
	if score.Value != 3 || score.Band != "high" {
		t.Errorf("score = %+v, want 3 high", score)
	}

	// Below every threshold.
	input = PatientInput{Complaint: "tosse", Age: 40, Vitals: Vitals{RespRate: intPtr(18)}}
	score = computeCRB65(input, "")
	if score.Value != 0 || score.Band != "low" {
		t.Errorf("score = %+v, want 0 low", score)
	}
}

func TestComputeCentorMcIsaac(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name      string
		input     PatientInput
		wantScore float64
		wantBand  string
	}{
		{
			name: "child with full picture",
			input: PatientInput{
				Complaint: "dor de garganta com placas e íngua no pescoço",
				Age:       9,
				Vitals:    Vitals{Temperature: floatPtr(38.5)},
			},
			wantScore: 4,
			wantBand:  "high",
		},
		{
			name: "fever from text when unmeasured",
			input: PatientInput{
				Complaint: "dor de garganta e febre",
				Age:       30,
			},
			wantScore: 1,
			wantBand:  "low",
		},
		{
			name: "age 45 and over subtracts",
			input: PatientInput{
				Complaint: "dor de garganta com exsudato",
				Age:       50,
			},
			wantScore: 0,
			wantBand:  "low",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			score := computeCentorMcIsaac(tc.input, normalizeText(tc.input.Complaint))
			if score.Value != tc.wantScore {
				t.Errorf("value = %g, want %g", score.Value, tc.wantScore)
			}
			if score.Band != tc.wantBand {
				t.Errorf("band = %q, want %q", score.Band, tc.wantBand)
			}
		})
	}
}

func TestComputeWellsPE(t *testing.T) {
	t.Parallel()

	// Dyspnea 1.5, chest pain 1.0, tachycardia 1.5, prior DVT 1.5.
	input := PatientInput{
		Complaint: "falta de ar súbita com dor no peito",
		History:   "trombose venosa há dois anos",
		Age:       60,
		Vitals:    Vitals{HeartRate: intPtr(115)},
	}
	score := computeWellsPE(input, normalizeText(input.Complaint+" "+input.History))
	if score.Value != 5.5 {
		t.Errorf("value = %g, want 5.5", score.Value)
	}
	if score.Band != "high" {
		t.Errorf("band = %q, want high", score.Band)
	}

	// Dyspnea alone stays below the likely threshold.
	input = PatientInput{Complaint: "falta de ar ao esforço", Age: 40}
	score = computeWellsPE(input, normalizeText(input.Complaint))
	if score.Value != 1.5 || score.Band != "low" {
		t.Errorf("score = %+v, want 1.5 low", score)
	}
}

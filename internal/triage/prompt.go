package triage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DefaultContextBudget caps the characters of retrieved snippet text injected
// into a prompt.
const DefaultContextBudget = 1500

// TermAnnotator appends clinical clarifications for colloquial terms found in
// free text. Implemented by the glossary package.
type TermAnnotator interface {
	Annotate(text string) string
}

// Assembler builds the model-facing prompt from patient input, retrieved
// snippets, and the active schema version. Build is a pure function: identical
// inputs always yield byte-identical prompt text.
type Assembler struct {
	ContextBudget int           // max chars of injected snippet text, 0 = DefaultContextBudget
	Glossary      TermAnnotator // optional
}

// SystemPrompt returns the fixed system instruction for the triage assistant.
func (a *Assembler) SystemPrompt() string {
	return "Você é um assistente clínico de teletriagem brasileiro.\n" +
		"Siga protocolos de classificação de risco e SEMPRE responda apenas JSON válido.\n" +
		"Adote postura conservadora, destaque sinais de alerta e nunca substitua avaliação médica presencial.\n" +
		"Não produza texto fora do JSON nem comentários adicionais.\n"
}

// Build composes the user prompt. When prior is non-nil (refinement pass) the
// prompt embeds the prior structured draft verbatim and instructs the model to
// revise it rather than start over.
func (a *Assembler) Build(input PatientInput, snippets []Snippet, scores []RiskScore, prior *TriageDraft) string {
	var sections []string

	sections = append(sections,
		"Instruções:\nRetorne JSON no formato especificado sem texto extra.",
		symptomGuides(),
		redFlagsGuide(),
	)

	if ctx := a.contextSection(snippets); ctx != "" {
		sections = append(sections, ctx)
	}

	sections = append(sections, a.patientSection(input, scores))

	if prior != nil {
		sections = append(sections, priorDraftSection(prior))
	}

	sections = append(sections, outputFormat())

	return strings.Join(sections, "\n\n")
}

// contextSection renders snippets in rank order, dropping the lowest-ranked
// ones first once the character budget is exceeded.
func (a *Assembler) contextSection(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	budget := a.ContextBudget
	if budget <= 0 {
		budget = DefaultContextBudget
	}

	ordered := make([]Snippet, len(snippets))
	copy(ordered, snippets)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Rank != ordered[j].Rank {
			return ordered[i].Rank < ordered[j].Rank
		}
		return ordered[i].ID < ordered[j].ID
	})

	lines := []string{"Contexto de Referências:"}
	used := 0
	for _, sn := range ordered {
		if used+len(sn.Text) > budget {
			break
		}
		used += len(sn.Text)
		lines = append(lines, fmt.Sprintf("- [%s] %s (%s)", sn.ID, sn.Text, sn.Source))
	}
	if len(lines) == 1 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) patientSection(input PatientInput, scores []RiskScore) string {
	complaint := input.Complaint
	if a.Glossary != nil {
		complaint = a.Glossary.Annotate(complaint)
	}

	sex := input.Sex
	if sex == "" {
		sex = SexUnknown
	}

	lines := []string{
		"Dados do Paciente:",
		fmt.Sprintf("- Idade: %d", input.Age),
		fmt.Sprintf("- Sexo: %s", sex),
		fmt.Sprintf("- Queixa principal: %s", complaint),
	}
	if input.History != "" {
		lines = append(lines, fmt.Sprintf("- História: %s", input.History))
	}
	if vit := formatVitals(input.Vitals); vit != "" {
		lines = append(lines, "- Sinais vitais: "+vit)
	}
	for _, score := range scores {
		lines = append(lines, fmt.Sprintf("- Escore %s: %g (%s)", score.Name, score.Value, score.Band))
	}
	return strings.Join(lines, "\n")
}

func formatVitals(v Vitals) string {
	var parts []string
	if v.HeartRate != nil {
		parts = append(parts, fmt.Sprintf("FC %d bpm", *v.HeartRate))
	}
	if v.SystolicBP != nil || v.DiastolicBP != nil {
		parts = append(parts, fmt.Sprintf("PA %s/%s mmHg", intOr(v.SystolicBP, "?"), intOr(v.DiastolicBP, "?")))
	}
	if v.RespRate != nil {
		parts = append(parts, fmt.Sprintf("FR %d irpm", *v.RespRate))
	}
	if v.Temperature != nil {
		parts = append(parts, fmt.Sprintf("T %.1f °C", *v.Temperature))
	}
	if v.SpO2 != nil {
		parts = append(parts, fmt.Sprintf("SpO2 %d%%", *v.SpO2))
	}
	return strings.Join(parts, ", ")
}

func intOr(p *int, fallback string) string {
	if p == nil {
		return fallback
	}
	return fmt.Sprintf("%d", *p)
}

func priorDraftSection(prior *TriageDraft) string {
	// Embed the structured fields only; raw model text and parse diagnostics
	// are not part of the draft contract.
	cp := *prior
	cp.RawText = ""
	cp.ParseError = ""
	encoded, _ := json.Marshal(cp)

	return "Triagem anterior (JSON):\n" + string(encoded) + "\n" +
		"REVISE a triagem anterior incorporando as novas informações acima. " +
		"Não recomece do zero: mantenha o que continua válido e ajuste apenas o necessário."
}

func symptomGuides() string {
	return "Guia de Sintomas:\n" +
		"- Dor torácica: avaliar irradiação, dispneia, sudorese, fatores de risco cardiovasculares.\n" +
		"- Dispneia: checar padrão respiratório, saturação, sinais de choque, asma/DPOC.\n" +
		"- AVE: FAST positivo, alteração súbita, glicemia, anticoagulantes.\n" +
		"- Dor abdominal: localização, defesa, vômitos persistentes, gravidez.\n" +
		"- Febre: duração, foco, imunossupressão, idade <3 meses.\n" +
		"- Pediatria: hidratação, estado geral, recusa alimentar, convulsões."
}

func redFlagsGuide() string {
	return "Red Flags:\n" +
		"- Alteração do nível de consciência\n" +
		"- Instabilidade hemodinâmica\n" +
		"- Dor intensa súbita\n" +
		"- Dificuldade respiratória grave\n" +
		"- Sinais de sepse\n" +
		"- Gestante com sangramento ou dor abdominal intensa\n" +
		"- Lactente <3 meses com febre"
}

func outputFormat() string {
	return "Formato de Saída JSON obrigatório (schema " + SchemaVersion + "):\n" +
		"{\n" +
		"  \"priority\": \"emergent|urgent|non-urgent\",\n" +
		"  \"disposition\": \"ER|clinic|home\",\n" +
		"  \"probable_causes\": [{\"label\": \"...\", \"confidence\": 0.0}],\n" +
		"  \"recommended_actions\": [\"...\"],\n" +
		"  \"red_flags\": [\"...\"],\n" +
		"  \"explanations\": [\"...\"],\n" +
		"  \"follow_up_questions\": [\"...\"],\n" +
		"  \"confidence\": 0.0\n" +
		"}"
}

// doubleCheckPrompt asks the model to look for omissions in an existing draft.
// Only additive fields from its answer are merged.
func doubleCheckPrompt(draft *TriageDraft) string {
	cp := *draft
	cp.RawText = ""
	cp.ParseError = ""
	encoded, _ := json.Marshal(cp)

	return "Revise a triagem abaixo procurando OMISSÕES: red flags não citados, " +
		"explicações ausentes e perguntas de acompanhamento úteis.\n" +
		"Não altere priority nem disposition.\n\n" +
		"Triagem atual (JSON):\n" + string(encoded) + "\n\n" + outputFormat()
}

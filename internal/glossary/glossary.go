// Package glossary maps colloquial Brazilian Portuguese health terms onto
// clinical vocabulary for prompt annotation.
package glossary

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Entry pairs a popular term with its clinical equivalent.
type Entry struct {
	Popular  string
	Clinical string
}

// Glossary annotates free text with clinical clarifications. Read-only after
// load, safe for concurrent use. Implements triage.TermAnnotator.
type Glossary struct {
	entries []Entry
}

// LoadFile reads a two-column CSV (popular,termo_clinico) with a header row.
func LoadFile(path string) (*Glossary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open glossary: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses glossary CSV from r.
func Load(r io.Reader) (*Glossary, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse glossary: %w", err)
	}

	var entries []Entry
	for i, rec := range records {
		popular := strings.TrimSpace(rec[0])
		clinical := strings.TrimSpace(rec[1])
		if i == 0 && strings.EqualFold(popular, "popular") {
			continue
		}
		if popular == "" || clinical == "" {
			continue
		}
		entries = append(entries, Entry{Popular: strings.ToLower(popular), Clinical: clinical})
	}

	// Longest terms first so "dor de cabeça forte" wins over "dor de cabeça".
	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].Popular) > len(entries[j].Popular)
	})

	return &Glossary{entries: entries}, nil
}

// Len returns the number of loaded entries.
func (g *Glossary) Len() int { return len(g.entries) }

// Annotate appends clinical equivalents for any popular terms found in text.
// The original text is never rewritten; the model sees both forms.
func (g *Glossary) Annotate(text string) string {
	lower := strings.ToLower(text)

	var notes []string
	seen := make(map[string]bool)
	for _, e := range g.entries {
		if seen[e.Clinical] {
			continue
		}
		if strings.Contains(lower, e.Popular) {
			seen[e.Clinical] = true
			notes = append(notes, fmt.Sprintf("%s = %s", e.Popular, e.Clinical))
		}
	}
	if len(notes) == 0 {
		return text
	}
	return text + " (termos normalizados: " + strings.Join(notes, "; ") + ")"
}

package triage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Fields that change on every run and carry no review value.
var diffSkip = map[string]bool{
	"created_at": true,
	"latency_ms": true,
}

// DiffResults computes the field-level difference between two results as a
// symmetric-key comparison over their JSON fields: keys only in next are
// "added", keys only in prev are "removed", keys present in both with
// different values are "changed". Not a text diff - the UI highlights exact
// fields. Output is sorted by field name for stable rendering.
func DiffResults(prev, next *TriageResult) ([]FieldChange, error) {
	prevFields, err := resultFields(prev)
	if err != nil {
		return nil, fmt.Errorf("diff previous: %w", err)
	}
	nextFields, err := resultFields(next)
	if err != nil {
		return nil, fmt.Errorf("diff next: %w", err)
	}

	names := make(map[string]bool, len(prevFields)+len(nextFields))
	for k := range prevFields {
		names[k] = true
	}
	for k := range nextFields {
		names[k] = true
	}

	var changes []FieldChange
	for name := range names {
		if diffSkip[name] {
			continue
		}
		before, inPrev := prevFields[name]
		after, inNext := nextFields[name]
		switch {
		case !inPrev:
			changes = append(changes, FieldChange{Field: name, Change: ChangeAdded, After: after})
		case !inNext:
			changes = append(changes, FieldChange{Field: name, Change: ChangeRemoved, Before: before})
		case !bytes.Equal(before, after):
			changes = append(changes, FieldChange{Field: name, Change: ChangeChanged, Before: before, After: after})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes, nil
}

func resultFields(r *TriageResult) (map[string]json.RawMessage, error) {
	encoded, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

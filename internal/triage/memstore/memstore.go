// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MaxMed21M/Teletriagem-MVP/internal/triage"
)

// Store holds case history and audit entries in memory. Suitable for
// dev/testing. All methods return copies.
type Store struct {
	mu       sync.RWMutex
	versions map[string][]*triage.TriageVersion // case id -> versions, ascending
	audit    map[string][]*triage.AuditEntry    // case id -> entries, insertion order
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		versions: make(map[string][]*triage.TriageVersion),
		audit:    make(map[string][]*triage.AuditEntry),
	}
}

// cloneVersion deep-copies a version through its JSON form so nested slices
// and maps never alias the stored value. Matches what a SQL round trip of the
// jsonb columns yields.
func cloneVersion(v *triage.TriageVersion) *triage.TriageVersion {
	raw, err := json.Marshal(v)
	if err != nil {
		cp := *v
		return &cp
	}
	var cp triage.TriageVersion
	if err := json.Unmarshal(raw, &cp); err != nil {
		c := *v
		return &c
	}
	return &cp
}

// AppendVersion appends a version, enforcing the gapless sequence invariant.
// The stored value is detached from the caller's.
func (s *Store) AppendVersion(_ context.Context, v *triage.TriageVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.versions[v.CaseID]
	if want := len(existing) + 1; v.Version != want {
		return fmt.Errorf("%w: got %d, want %d", triage.ErrVersionConflict, v.Version, want)
	}
	s.versions[v.CaseID] = append(existing, cloneVersion(v))
	return nil
}

// GetVersion retrieves one version of a case. Returns a detached copy.
func (s *Store) GetVersion(_ context.Context, caseID string, version int) (*triage.TriageVersion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vs := s.versions[caseID]
	if version < 1 || version > len(vs) {
		return nil, false, nil
	}
	return cloneVersion(vs[version-1]), true, nil
}

// LatestVersion retrieves the highest version of a case. Returns a detached
// copy.
func (s *Store) LatestVersion(_ context.Context, caseID string) (*triage.TriageVersion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vs := s.versions[caseID]
	if len(vs) == 0 {
		return nil, false, nil
	}
	return cloneVersion(vs[len(vs)-1]), true, nil
}

// ListVersions returns all versions of a case in ascending order.
func (s *Store) ListVersions(_ context.Context, caseID string) ([]*triage.TriageVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vs := s.versions[caseID]
	out := make([]*triage.TriageVersion, len(vs))
	for i, v := range vs {
		out[i] = cloneVersion(v)
	}
	return out, nil
}

// AppendAudit appends an audit entry. AuditEntry has no nested containers, so
// a value copy is already detached.
func (s *Store) AppendAudit(_ context.Context, e *triage.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	s.audit[e.CaseID] = append(s.audit[e.CaseID], &cp)
	return nil
}

// ListAudit returns the audit entries of a case in insertion order.
func (s *Store) ListAudit(_ context.Context, caseID string) ([]*triage.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	es := s.audit[caseID]
	out := make([]*triage.AuditEntry, len(es))
	for i, e := range es {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

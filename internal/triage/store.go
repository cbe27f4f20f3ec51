package triage

import "context"

// Store is the persistence contract for case history and audit. Both tables
// are append-only: versions and audit entries are never updated or deleted.
//
// AppendVersion enforces the sequence invariant: a version must be exactly
// one greater than the case's current maximum (1 for a new case) or the call
// fails with ErrVersionConflict.
type Store interface {
	AppendVersion(ctx context.Context, v *TriageVersion) error
	GetVersion(ctx context.Context, caseID string, version int) (*TriageVersion, bool, error)
	LatestVersion(ctx context.Context, caseID string) (*TriageVersion, bool, error)
	ListVersions(ctx context.Context, caseID string) ([]*TriageVersion, error)
	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, caseID string) ([]*AuditEntry, error)
}

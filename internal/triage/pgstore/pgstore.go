// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MaxMed21M/Teletriagem-MVP/internal/triage"
)

var tracer = otel.Tracer("github.com/MaxMed21M/Teletriagem-MVP/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists case history and audit entries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on an existing pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// AppendVersion inserts a version inside a transaction that locks the case's
// current maximum row, so the gapless sequence invariant holds under
// concurrent writers even across processes.
func (s *Store) AppendVersion(ctx context.Context, v *triage.TriageVersion) error {
	ctx, span := tracer.Start(ctx, "pgstore.AppendVersion", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	var current int
	err = tx.QueryRow(ctx,
		`SELECT version FROM triage_versions WHERE case_id = $1 ORDER BY version DESC LIMIT 1 FOR UPDATE`,
		v.CaseID,
	).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("lock case: %w", err)
	}
	if want := current + 1; v.Version != want {
		return fmt.Errorf("%w: got %d, want %d", triage.ErrVersionConflict, v.Version, want)
	}

	inputJSON, err := json.Marshal(v.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	resultJSON, err := json.Marshal(v.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	var diffJSON []byte
	if len(v.Diff) > 0 {
		if diffJSON, err = json.Marshal(v.Diff); err != nil {
			return fmt.Errorf("marshal diff: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO triage_versions (case_id, version, input, result, diff, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.CaseID, v.Version, inputJSON, resultJSON, diffJSON, v.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: version %d already exists", triage.ErrVersionConflict, v.Version)
		}
		return fmt.Errorf("insert version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetVersion retrieves one version of a case.
func (s *Store) GetVersion(ctx context.Context, caseID string, version int) (*triage.TriageVersion, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetVersion", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT case_id, version, input, result, diff, created_at
		 FROM triage_versions WHERE case_id = $1 AND version = $2`,
		caseID, version,
	)
	v, err := scanVersion(row)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// LatestVersion retrieves the highest version of a case.
func (s *Store) LatestVersion(ctx context.Context, caseID string) (*triage.TriageVersion, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.LatestVersion", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	row := s.pool.QueryRow(ctx,
		`SELECT case_id, version, input, result, diff, created_at
		 FROM triage_versions WHERE case_id = $1 ORDER BY version DESC LIMIT 1`,
		caseID,
	)
	v, err := scanVersion(row)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// ListVersions returns all versions of a case in ascending order.
func (s *Store) ListVersions(ctx context.Context, caseID string) ([]*triage.TriageVersion, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListVersions", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT case_id, version, input, result, diff, created_at
		 FROM triage_versions WHERE case_id = $1 ORDER BY version`,
		caseID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var out []*triage.TriageVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return out, nil
}

// AppendAudit inserts one audit entry.
func (s *Store) AppendAudit(ctx context.Context, e *triage.AuditEntry) error {
	ctx, span := tracer.Start(ctx, "pgstore.AppendAudit", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO triage_audit (case_id, version, actor, action, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.CaseID, e.Version, string(e.Actor), string(e.Action), e.Note, e.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// ListAudit returns the audit entries of a case in insertion order.
func (s *Store) ListAudit(ctx context.Context, caseID string) ([]*triage.AuditEntry, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListAudit", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT case_id, version, actor, action, note, created_at
		 FROM triage_audit WHERE case_id = $1 ORDER BY id`,
		caseID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []*triage.AuditEntry
	for rows.Next() {
		var (
			e      triage.AuditEntry
			actor  string
			action string
		)
		if err := rows.Scan(&e.CaseID, &e.Version, &actor, &action, &e.Note, &e.CreatedAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Actor = triage.Actor(actor)
		e.Action = triage.Action(action)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}

// scanVersion scans one triage_versions row. Returns (nil, nil) when no row
// is found.
func scanVersion(row pgx.Row) (*triage.TriageVersion, error) {
	var (
		v          triage.TriageVersion
		inputJSON  []byte
		resultJSON []byte
		diffJSON   []byte
	)
	err := row.Scan(&v.CaseID, &v.Version, &inputJSON, &resultJSON, &diffJSON, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan version: %w", err)
	}

	if err := json.Unmarshal(inputJSON, &v.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := json.Unmarshal(resultJSON, &v.Result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	if len(diffJSON) > 0 {
		if err := json.Unmarshal(diffJSON, &v.Diff); err != nil {
			return nil, fmt.Errorf("unmarshal diff: %w", err)
		}
	}
	return &v, nil
}

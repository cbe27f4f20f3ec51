package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MaxMed21M/Teletriagem-MVP/internal/triage"
)

func version(caseID string, n int) *triage.TriageVersion {
	return &triage.TriageVersion{
		CaseID:  caseID,
		Version: n,
		Input:   triage.PatientInput{Complaint: "dor de garganta", Age: 34},
		Result: triage.TriageResult{
			Priority:    triage.PriorityUrgent,
			Disposition: triage.DispositionClinic,
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestAppendVersionSequence(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	if err := s.AppendVersion(ctx, version("c1", 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendVersion(ctx, version("c1", 2)); err != nil {
		t.Fatal(err)
	}

	// Gap and duplicate are both conflicts.
	if err := s.AppendVersion(ctx, version("c1", 4)); !errors.Is(err, triage.ErrVersionConflict) {
		t.Errorf("gap err = %v, want conflict", err)
	}
	if err := s.AppendVersion(ctx, version("c1", 2)); !errors.Is(err, triage.ErrVersionConflict) {
		t.Errorf("duplicate err = %v, want conflict", err)
	}

	// New case must start at 1.
	if err := s.AppendVersion(ctx, version("c2", 2)); !errors.Is(err, triage.ErrVersionConflict) {
		t.Errorf("new case err = %v, want conflict", err)
	}
}

func TestGetAndLatest(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		if err := s.AppendVersion(ctx, version("c1", n)); err != nil {
			t.Fatal(err)
		}
	}

	v, ok, err := s.GetVersion(ctx, "c1", 2)
	if err != nil || !ok || v.Version != 2 {
		t.Fatalf("get v2: ok=%v err=%v v=%+v", ok, err, v)
	}
	if _, ok, _ := s.GetVersion(ctx, "c1", 9); ok {
		t.Error("out-of-range version found")
	}

	latest, ok, err := s.LatestVersion(ctx, "c1")
	if err != nil || !ok || latest.Version != 3 {
		t.Fatalf("latest: ok=%v err=%v v=%+v", ok, err, latest)
	}
	if _, ok, _ := s.LatestVersion(ctx, "missing"); ok {
		t.Error("latest found for unknown case")
	}

	all, err := s.ListVersions(ctx, "c1")
	if err != nil || len(all) != 3 {
		t.Fatalf("list: err=%v len=%d", err, len(all))
	}
	for i, v := range all {
		if v.Version != i+1 {
			t.Errorf("list order broken at %d: %d", i, v.Version)
		}
	}
}

func TestReturnsCopies(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	if err := s.AppendVersion(ctx, version("c1", 1)); err != nil {
		t.Fatal(err)
	}

	v, _, _ := s.LatestVersion(ctx, "c1")
	v.Result.Priority = triage.PriorityEmergent

	again, _, _ := s.LatestVersion(ctx, "c1")
	if again.Result.Priority != triage.PriorityUrgent {
		t.Error("mutation of a returned copy leaked into the store")
	}
}

func TestReturnsCopies_NestedContainers(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	in := version("c1", 1)
	in.Result.ProbableCauses = []triage.Cause{{Label: "amigdalite", Rank: 1}}
	in.Result.RedFlags = []string{"trismo"}
	in.Result.FieldConfidence = map[string]float64{"priority": 0.8}
	in.Diff = []triage.FieldChange{{Field: "priority", Change: triage.ChangeChanged}}
	if err := s.AppendVersion(ctx, in); err != nil {
		t.Fatal(err)
	}

	// Mutating the appended value after the fact must not reach the store.
	in.Result.ProbableCauses[0].Label = "mutated"
	in.Result.FieldConfidence["priority"] = 0

	v, _, _ := s.LatestVersion(ctx, "c1")
	if v.Result.ProbableCauses[0].Label != "amigdalite" {
		t.Error("stored version aliases the caller's cause slice")
	}
	if v.Result.FieldConfidence["priority"] != 0.8 {
		t.Error("stored version aliases the caller's confidence map")
	}

	// Mutating a returned copy's nested containers must not reach the store.
	v.Result.ProbableCauses[0].Label = "mutated"
	v.Result.RedFlags[0] = "mutated"
	v.Result.FieldConfidence["priority"] = 0
	v.Diff[0].Field = "mutated"

	again, _, _ := s.GetVersion(ctx, "c1", 1)
	if again.Result.ProbableCauses[0].Label != "amigdalite" {
		t.Error("cause mutation leaked into the store")
	}
	if again.Result.RedFlags[0] != "trismo" {
		t.Error("red flag mutation leaked into the store")
	}
	if again.Result.FieldConfidence["priority"] != 0.8 {
		t.Error("confidence mutation leaked into the store")
	}
	if again.Diff[0].Field != "priority" {
		t.Error("diff mutation leaked into the store")
	}

	// ListVersions hands out detached copies too.
	all, err := s.ListVersions(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	all[0].Result.RedFlags[0] = "mutated"
	final, _, _ := s.LatestVersion(ctx, "c1")
	if final.Result.RedFlags[0] != "trismo" {
		t.Error("list mutation leaked into the store")
	}
}

func TestAudit(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for _, action := range []triage.Action{triage.ActionCreate, triage.ActionRefine, triage.ActionOverride} {
		if err := s.AppendAudit(ctx, &triage.AuditEntry{
			CaseID:    "c1",
			Version:   1,
			Actor:     triage.ActorSystem,
			Action:    action,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.ListAudit(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Action != triage.ActionCreate || entries[2].Action != triage.ActionOverride {
		t.Errorf("insertion order not preserved: %+v", entries)
	}
}

func TestConcurrentAppends(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	// Many goroutines race to append the same next version; exactly one wins
	// per round.
	for round := 1; round <= 5; round++ {
		var wg sync.WaitGroup
		okCount := 0
		var mu sync.Mutex
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.AppendVersion(ctx, version("c1", round)); err == nil {
					mu.Lock()
					okCount++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if okCount != 1 {
			t.Fatalf("round %d: %d appends succeeded, want 1", round, okCount)
		}
	}
}

package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	now := time.Now().UTC()
	if err := s.Cases().Create(context.Background(), &domain.Case{ID: "case-1", Status: domain.CaseIntakeStatus, CreatedAt: now}); err != nil {
		t.Fatalf("create case: %v", err)
	}
	if err := s.Documents().Create(context.Background(), &domain.Document{ID: "doc-1", CaseID: "case-1", Status: domain.ProcessingPending, CreatedAt: now}); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return s
}

func TestCaseStatusCompareAndSet(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	if err := s.Cases().UpdateStatus(ctx, "case-1", domain.CaseIntakeStatus, domain.CaseDocumentsUploaded); err != nil {
		t.Fatalf("update status: %v", err)
	}
	err := s.Cases().UpdateStatus(ctx, "case-1", domain.CaseIntakeStatus, domain.CaseDocumentsUploaded)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on stale status, got %v", err)
	}
	if err := s.Cases().UpdateStatus(ctx, "missing", domain.CaseIntakeStatus, domain.CaseDocumentsUploaded); !errors.Is(err, domain.ErrCaseNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReplaceDerivedSkipsOlderWatermark(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	newer := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	applied, err := s.Cases().ReplaceDerived(ctx, "case-1", domain.CaseDerived{SourceDocumentIDs: []string{"doc-1", "doc-2"}}, newer, newer)
	if err != nil || !applied {
		t.Fatalf("first replace: applied=%v err=%v", applied, err)
	}
	applied, err = s.Cases().ReplaceDerived(ctx, "case-1", domain.CaseDerived{SourceDocumentIDs: []string{"doc-1"}}, newer, older)
	if err != nil {
		t.Fatalf("second replace: %v", err)
	}
	if applied {
		t.Fatalf("stale aggregation must not overwrite newer result")
	}

	c, err := s.Cases().GetByID(ctx, "case-1")
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if len(c.Derived.SourceDocumentIDs) != 2 {
		t.Fatalf("unexpected derived fields: %+v", c.Derived)
	}
}

func TestDerivedFieldsAreNotShared(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	derived := domain.CaseDerived{
		ExtractedData: domain.MergedExtraction{Fields: map[domain.DocumentCategory]map[string]any{
			domain.CategoryMedicalBills: {"provider": "City Clinic", "codes": []any{"99283"}},
		}},
		TreatmentTimeline:  domain.TreatmentTimeline{Events: []domain.TreatmentEvent{{Provider: "City Clinic"}}},
		DamagesCalculation: domain.DamagesCalculation{LineItems: []domain.DamageLineItem{{Provider: "City Clinic"}}},
		AttorneyWarnings:   []domain.Warning{{Message: "original"}},
		SourceDocumentIDs:  []string{"doc-1"},
	}
	if _, err := s.Cases().ReplaceDerived(ctx, "case-1", derived, at, at); err != nil {
		t.Fatalf("replace derived: %v", err)
	}
	derived.AttorneyWarnings[0].Message = "changed by writer"

	read, err := s.Cases().GetByID(ctx, "case-1")
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	read.Derived.AttorneyWarnings[0].Message = "changed by reader"
	read.Derived.TreatmentTimeline.Events[0].Provider = "changed"
	read.Derived.DamagesCalculation.LineItems[0].Provider = "changed"
	read.Derived.SourceDocumentIDs[0] = "changed"
	fields := read.Derived.ExtractedData.Fields[domain.CategoryMedicalBills]
	fields["provider"] = "changed"
	fields["codes"].([]any)[0] = "changed"

	again, err := s.Cases().GetByID(ctx, "case-1")
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	d := again.Derived
	stored := d.ExtractedData.Fields[domain.CategoryMedicalBills]
	if d.AttorneyWarnings[0].Message != "original" ||
		d.TreatmentTimeline.Events[0].Provider != "City Clinic" ||
		d.DamagesCalculation.LineItems[0].Provider != "City Clinic" ||
		d.SourceDocumentIDs[0] != "doc-1" ||
		stored["provider"] != "City Clinic" ||
		stored["codes"].([]any)[0] != "99283" {
		t.Fatalf("stored derived fields were changed through a copy: %+v", d)
	}
}

func TestDocumentAdvanceIsCompareAndSet(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	text := "staged"

	update := domain.DocumentUpdate{From: domain.ProcessingPending, To: domain.ProcessingExtractingText}
	if err := s.Documents().Advance(ctx, "doc-1", update); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := s.Documents().Advance(ctx, "doc-1", update); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on duplicate advance, got %v", err)
	}
	skip := domain.DocumentUpdate{From: domain.ProcessingExtractingText, To: domain.ProcessingCompleted, StagedText: &text}
	if err := s.Documents().Advance(ctx, "doc-1", skip); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	unfinished, err := s.Documents().ListUnfinished(ctx, 0)
	if err != nil || len(unfinished) != 1 || unfinished[0].Status != domain.ProcessingExtractingText {
		t.Fatalf("unexpected unfinished list: %+v (%v)", unfinished, err)
	}
}

func TestDocumentCreateRequiresCase(t *testing.T) {
	s := New()
	err := s.Documents().Create(context.Background(), &domain.Document{ID: "doc-1", CaseID: "missing"})
	if !errors.Is(err, domain.ErrCaseNotFound) {
		t.Fatalf("expected case not found, got %v", err)
	}
}

func TestCreateVersionedConcurrent(t *testing.T) {
	s := seeded(t)
	const n = 25

	var wg sync.WaitGroup
	versions := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc := &domain.GeneratedDocument{CaseID: "case-1", DocumentType: domain.DocumentDemandLetter}
			if err := s.Generated().CreateVersioned(context.Background(), doc); err != nil {
				t.Errorf("create versioned: %v", err)
				return
			}
			versions[i] = doc.Version
		}()
	}
	wg.Wait()

	sort.Ints(versions)
	for i, v := range versions {
		if v != i+1 {
			t.Fatalf("versions are not 1..%d: %v", n, versions)
		}
	}

	other := &domain.GeneratedDocument{CaseID: "case-1", DocumentType: domain.DocumentGapAnalysis}
	if err := s.Generated().CreateVersioned(context.Background(), other); err != nil {
		t.Fatalf("create gap analysis: %v", err)
	}
	if other.Version != 1 {
		t.Fatalf("versions are per document type, got %d", other.Version)
	}

	letters, err := s.Generated().ListByCase(context.Background(), "case-1", domain.DocumentDemandLetter)
	if err != nil || len(letters) != n {
		t.Fatalf("expected %d letters, got %d (%v)", n, len(letters), err)
	}
	all, _ := s.Generated().ListByCase(context.Background(), "case-1", "")
	if len(all) != n+1 {
		t.Fatalf("expected %d documents, got %d", n+1, len(all))
	}
}

func TestCreateVersionedHonoursCancellation(t *testing.T) {
	s := seeded(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Generated().CreateVersioned(ctx, &domain.GeneratedDocument{CaseID: "case-1", DocumentType: domain.DocumentDemandLetter}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	exists, _ := s.Generated().Exists(context.Background(), "case-1", domain.DocumentDemandLetter)
	if exists {
		t.Fatalf("cancelled write must not reserve a version")
	}
}

package usecase

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

func billData(amount float64) domain.ExtractedData {
	return domain.ExtractedData{
		"provider":   "City Clinic",
		"line_items": []any{map[string]any{"date": "2024-01-05", "amount": amount, "description": "ER visit"}},
	}
}

func TestCoordinatorFailedDocumentDoesNotBlockCase(t *testing.T) {
	p := newPipeline(t, CoordinatorOptions{Concurrency: 2})
	seedCase(p, "case-1", domain.CaseDocumentsUploaded)
	seedDocument(p, "good", "case-1", "bill.pdf", domain.ProcessingPending)
	seedDocument(p, "bad", "case-1", "scan.tiff", domain.ProcessingPending)
	p.client.categories["bill.pdf"] = domain.CategoryMedicalBills
	p.client.data[domain.CategoryMedicalBills] = billData(500)
	p.client.textErr["scan.tiff"] = domain.WrapError(domain.ErrUnsupportedFormat, "extract text", errors.New("image/tiff"))

	if err := p.coord.ResumeCase(context.Background(), "case-1"); err != nil {
		t.Fatalf("resume case: %v", err)
	}
	p.waitIdle(t)

	c := p.store.caseByID("case-1")
	if c.Status != domain.CaseExtractionComplete {
		t.Fatalf("expected EXTRACTION_COMPLETE, got %s", c.Status)
	}
	if !c.HasDerived() || len(c.Derived.SourceDocumentIDs) != 1 || c.Derived.SourceDocumentIDs[0] != "good" {
		t.Fatalf("derived fields should come from the completed document only: %+v", c.Derived)
	}
	if c.Derived.DamagesCalculation.Total != domain.Dollars(500) {
		t.Fatalf("unexpected total: %s", c.Derived.DamagesCalculation.Total)
	}
	if c.Derived.AttorneyWarnings == nil {
		t.Fatalf("warnings must be an empty list, not nil")
	}
	if got := p.store.docByID("bad").Status; got != domain.ProcessingFailed {
		t.Fatalf("expected bad document FAILED, got %s", got)
	}
}

func TestCoordinatorCoalescesRequestsDuringRun(t *testing.T) {
	p := newPipeline(t, CoordinatorOptions{})
	seedCase(p, "case-1", domain.CaseProcessing)
	seedDocument(p, "doc-1", "case-1", "bill.pdf", domain.ProcessingCompleted)

	entered := make(chan struct{}, 16)
	release := make(chan struct{})
	p.store.onReplace = func() {
		entered <- struct{}{}
		<-release
	}

	p.coord.RequestAggregation("case-1")
	<-entered
	for i := 0; i < 5; i++ {
		p.coord.RequestAggregation("case-1")
	}
	close(release)
	p.waitIdle(t)

	if p.store.replaceCalls != 2 {
		t.Fatalf("expected the running pass plus one follow-up, got %d passes", p.store.replaceCalls)
	}
}

func TestCoordinatorDoesNotRegressCaseStatus(t *testing.T) {
	p := newPipeline(t, CoordinatorOptions{})
	seedCase(p, "case-1", domain.CaseDraftReady)
	seedDocument(p, "late", "case-1", "scan.tiff", domain.ProcessingPending)
	p.client.textErr["scan.tiff"] = domain.WrapError(domain.ErrUnreadable, "extract text", errors.New("corrupt"))

	_ = p.coord.ProcessByID(context.Background(), "late")
	p.waitIdle(t)

	if got := p.store.caseByID("case-1").Status; got != domain.CaseDraftReady {
		t.Fatalf("case regressed to %s", got)
	}
	if len(p.store.statusWrites) != 0 {
		t.Fatalf("unexpected status writes: %v", p.store.statusWrites)
	}
}

func TestCoordinatorMovesToDraftReadyWhenDemandLetterExists(t *testing.T) {
	p := newPipeline(t, CoordinatorOptions{})
	seedCase(p, "case-1", domain.CaseProcessing)
	seedDocument(p, "doc-1", "case-1", "bill.pdf", domain.ProcessingCompleted)
	letter := &domain.GeneratedDocument{ID: "gen-1", CaseID: "case-1", DocumentType: domain.DocumentDemandLetter}
	if err := (generatedRepoFake{p.store}).CreateVersioned(context.Background(), letter); err != nil {
		t.Fatalf("seed demand letter: %v", err)
	}

	if err := p.coord.AggregateCase(context.Background(), "case-1"); err != nil {
		t.Fatalf("aggregate case: %v", err)
	}
	if got := p.store.caseByID("case-1").Status; got != domain.CaseDraftReady {
		t.Fatalf("expected DRAFT_READY, got %s", got)
	}
}

func TestCoordinatorWaitsForUnfinishedDocuments(t *testing.T) {
	p := newPipeline(t, CoordinatorOptions{})
	seedCase(p, "case-1", domain.CaseProcessing)
	seedDocument(p, "done", "case-1", "bill.pdf", domain.ProcessingCompleted)
	seedDocument(p, "busy", "case-1", "records.pdf", domain.ProcessingClassifying)

	if err := p.coord.AggregateCase(context.Background(), "case-1"); err != nil {
		t.Fatalf("aggregate case: %v", err)
	}
	c := p.store.caseByID("case-1")
	if c.Status != domain.CaseProcessing {
		t.Fatalf("case must stay PROCESSING while documents are in flight, got %s", c.Status)
	}
	if !c.HasDerived() {
		t.Fatalf("partial aggregation should still be stored")
	}
}

func TestCoordinatorAggregationIsRepeatable(t *testing.T) {
	p := newPipeline(t, CoordinatorOptions{})
	seedCase(p, "case-1", domain.CaseProcessing)
	seedDocument(p, "doc-1", "case-1", "bill.pdf", domain.ProcessingCompleted)
	doc := p.store.docByID("doc-1")
	doc.Category = domain.CategoryMedicalBills
	doc.ExtractedData = billData(250)
	p.store.addDocument(doc)

	ctx := context.Background()
	if err := p.coord.AggregateCase(ctx, "case-1"); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first := *p.store.caseByID("case-1").Derived
	if err := p.coord.AggregateCase(ctx, "case-1"); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	second := *p.store.caseByID("case-1").Derived

	if first.DamagesCalculation.Total != second.DamagesCalculation.Total ||
		len(first.AttorneyWarnings) != len(second.AttorneyWarnings) ||
		len(first.TreatmentTimeline.Events) != len(second.TreatmentTimeline.Events) {
		t.Fatalf("repeated passes disagree:\n%+v\n%+v", first, second)
	}
}

func TestCoordinatorResumeUnfinished(t *testing.T) {
	p := newPipeline(t, CoordinatorOptions{Concurrency: 2})
	seedCase(p, "case-1", domain.CaseProcessing)
	seedDocument(p, "fresh", "case-1", "bill.pdf", domain.ProcessingPending)
	seedDocument(p, "midway", "case-1", "records.pdf", domain.ProcessingExtractingData)
	doc := p.store.docByID("midway")
	doc.Category = domain.CategoryMedicalRecords
	doc.StagedText = "text of records.pdf"
	p.store.addDocument(doc)

	n, err := p.coord.ResumeUnfinished(context.Background(), 10)
	if err != nil {
		t.Fatalf("resume unfinished: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 resumed documents, got %d", n)
	}
	p.waitIdle(t)

	for _, id := range []string{"fresh", "midway"} {
		if got := p.store.docByID(id).Status; got != domain.ProcessingCompleted {
			t.Fatalf("%s: expected COMPLETED, got %s", id, got)
		}
	}
	if got := p.store.caseByID("case-1").Status; got != domain.CaseExtractionComplete {
		t.Fatalf("expected EXTRACTION_COMPLETE, got %s", got)
	}
}

func TestCoordinatorShutdownStopsDebouncedPass(t *testing.T) {
	p := newPipeline(t, CoordinatorOptions{Debounce: time.Hour})
	seedCase(p, "case-1", domain.CaseProcessing)

	p.coord.RequestAggregation("case-1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.coord.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if p.store.replaceCalls != 0 {
		t.Fatalf("debounced pass should not run after shutdown")
	}
}

func TestCoordinatorWarningsAreAsOfNewestDocumentChange(t *testing.T) {
	p := newPipeline(t, CoordinatorOptions{})
	changed := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	intake := sampleIntake()
	intake.IncidentDate = changed.AddDate(-2, 0, 45)
	p.store.addCase(domain.Case{ID: "case-1", Status: domain.CaseProcessing, Intake: intake, CreatedAt: changed.AddDate(0, -1, 0)})
	p.store.addDocument(domain.Document{
		ID:            "doc-1",
		CaseID:        "case-1",
		Filename:      "bill.pdf",
		Status:        domain.ProcessingCompleted,
		Category:      domain.CategoryMedicalBills,
		ExtractedData: billData(250),
		CreatedAt:     changed,
		UpdatedAt:     changed,
	})

	ctx := context.Background()
	p.coord.now = func() time.Time { return changed.AddDate(0, 0, 3) }
	if err := p.coord.AggregateCase(ctx, "case-1"); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first := p.store.caseByID("case-1").Derived.AttorneyWarnings

	p.coord.now = func() time.Time { return changed.AddDate(0, 0, 40) }
	if err := p.coord.AggregateCase(ctx, "case-1"); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	second := p.store.caseByID("case-1").Derived.AttorneyWarnings

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("unchanged documents derived different warnings:\n%+v\n%+v", first, second)
	}
	found := false
	for _, w := range second {
		if strings.Contains(w.Message, "(45 days remaining)") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected statute warning counted from the newest document change: %+v", second)
	}
}

func TestCoordinatorResumeStaleDocuments(t *testing.T) {
	p := newPipeline(t, CoordinatorOptions{Concurrency: 2})
	seedCase(p, "case-1", domain.CaseProcessing)
	now := time.Now().UTC()
	addAged := func(id, filename string, status domain.ProcessingStatus, age time.Duration) {
		p.store.addDocument(domain.Document{
			ID:         id,
			CaseID:     "case-1",
			Filename:   filename,
			Status:     status,
			Category:   domain.CategoryMedicalRecords,
			StagedText: "text of " + filename,
			CreatedAt:  now.Add(-age),
			UpdatedAt:  now.Add(-age),
		})
	}
	addAged("stranded", "a.pdf", domain.ProcessingPending, 10*time.Minute)
	addAged("queued", "b.pdf", domain.ProcessingPending, 5*time.Second)
	addAged("stuck", "c.pdf", domain.ProcessingExtractingData, 30*time.Minute)
	addAged("busy", "d.pdf", domain.ProcessingExtractingData, time.Minute)

	n, err := p.coord.ResumeStale(context.Background(), 10, time.Minute, 15*time.Minute)
	if err != nil {
		t.Fatalf("resume stale: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 swept documents, got %d", n)
	}
	p.waitIdle(t)

	want := map[string]domain.ProcessingStatus{
		"stranded": domain.ProcessingCompleted,
		"stuck":    domain.ProcessingCompleted,
		"queued":   domain.ProcessingPending,
		"busy":     domain.ProcessingExtractingData,
	}
	for id, status := range want {
		if got := p.store.docByID(id).Status; got != status {
			t.Fatalf("%s: expected %s, got %s", id, status, got)
		}
	}
	if got := p.store.caseByID("case-1").Status; got != domain.CaseProcessing {
		t.Fatalf("case must stay PROCESSING while documents are in flight, got %s", got)
	}
}

func TestCoordinatorIgnoresAggregationAfterShutdown(t *testing.T) {
	p := newPipeline(t, CoordinatorOptions{})
	seedCase(p, "case-1", domain.CaseProcessing)
	seedDocument(p, "doc-1", "case-1", "bill.pdf", domain.ProcessingCompleted)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.coord.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	p.coord.RequestAggregation("case-1")
	p.waitIdle(t)

	p.coord.mu.Lock()
	runs := len(p.coord.runs)
	p.coord.mu.Unlock()
	if runs != 0 || p.store.replaceCalls != 0 {
		t.Fatalf("no pass may start after shutdown: %d runs, %d passes", runs, p.store.replaceCalls)
	}
}

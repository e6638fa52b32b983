package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/aggregation"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/ports"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/warnings"
)

type CoordinatorOptions struct {
	Aggregation aggregation.Options
	// Debounce delays each aggregation pass so bursts of completions share it.
	Debounce time.Duration
	// Concurrency bounds documents resumed in parallel.
	Concurrency int
}

// caseRun tracks the single aggregation loop allowed per case.
type caseRun struct {
	dirty bool
}

// Coordinator owns per-case orchestration: it dispatches documents to the
// stage machine, coalesces aggregation requests and advances case status.
type Coordinator struct {
	cases     ports.CaseRepository
	docs      ports.DocumentRepository
	generated ports.GeneratedDocumentRepository
	status    *CaseStatusService
	engine    *warnings.Engine
	processor ports.DocumentProcessor
	opts      CoordinatorOptions
	observer  PipelineObserver
	logger    *slog.Logger
	now       func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	runs   map[string]*caseRun
	idle   chan struct{}
	closed bool
}

func NewCoordinator(
	cases ports.CaseRepository,
	docs ports.DocumentRepository,
	generated ports.GeneratedDocumentRepository,
	status *CaseStatusService,
	engine *warnings.Engine,
	opts CoordinatorOptions,
	observer PipelineObserver,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Coordinator{
		cases:     cases,
		docs:      docs,
		generated: generated,
		status:    status,
		engine:    engine,
		opts:      opts,
		observer:  observerOrNoop(observer),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		baseCtx:   baseCtx,
		cancel:    cancel,
		runs:      make(map[string]*caseRun),
		idle:      idle,
	}
}

// SetProcessor wires the stage machine, which in turn reports back to the
// coordinator as its TransitionListener.
func (c *Coordinator) SetProcessor(p ports.DocumentProcessor) {
	c.processor = p
}

// ProcessByID runs one document through the stage machine.
func (c *Coordinator) ProcessByID(ctx context.Context, documentID string) error {
	if c.processor == nil {
		return fmt.Errorf("coordinator has no document processor")
	}
	return c.processor.ProcessByID(ctx, documentID)
}

func (c *Coordinator) OnDocumentTransition(ctx context.Context, doc domain.Document, from, to domain.ProcessingStatus) {
	if from == domain.ProcessingPending {
		if _, err := c.status.AdvanceTo(ctx, doc.CaseID, domain.CaseProcessing); err != nil {
			c.logger.Error("case_status_advance_failed", "case_id", doc.CaseID, "target", domain.CaseProcessing, "error", err)
		}
	}
	if to.Terminal() {
		c.RequestAggregation(doc.CaseID)
	}
}

// RequestAggregation schedules an aggregation pass for the case. While a pass
// is running or waiting, further requests are folded into one follow-up pass.
func (c *Coordinator) RequestAggregation(caseID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("aggregation_request_after_shutdown", "case_id", caseID)
		return
	}
	if run, ok := c.runs[caseID]; ok {
		run.dirty = true
		c.mu.Unlock()
		c.observer.ObserveCoalesced()
		return
	}
	if len(c.runs) == 0 {
		c.idle = make(chan struct{})
	}
	c.runs[caseID] = &caseRun{}
	c.mu.Unlock()

	go c.aggregationLoop(caseID)
}

func (c *Coordinator) aggregationLoop(caseID string) {
	for {
		if c.opts.Debounce > 0 {
			timer := time.NewTimer(c.opts.Debounce)
			select {
			case <-timer.C:
			case <-c.baseCtx.Done():
				timer.Stop()
				c.mu.Lock()
				c.endRunLocked(caseID)
				c.mu.Unlock()
				return
			}
		}

		c.mu.Lock()
		c.runs[caseID].dirty = false
		c.mu.Unlock()

		if err := c.AggregateCase(c.baseCtx, caseID); err != nil {
			c.logger.Error("aggregation_failed", "case_id", caseID, "error", err)
		}

		// A request that found this run registered must be served by it.
		c.mu.Lock()
		if !c.runs[caseID].dirty || c.baseCtx.Err() != nil {
			c.endRunLocked(caseID)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

func (c *Coordinator) endRunLocked(caseID string) {
	delete(c.runs, caseID)
	if len(c.runs) == 0 {
		close(c.idle)
	}
}

// AggregateCase recomputes every derived field of the case from its current
// documents and replaces them in one write.
func (c *Coordinator) AggregateCase(ctx context.Context, caseID string) error {
	started := time.Now()
	applied, err := c.aggregate(ctx, caseID)
	c.observer.ObserveAggregation(time.Since(started), applied, err)
	return err
}

func (c *Coordinator) aggregate(ctx context.Context, caseID string) (bool, error) {
	caseRecord, err := c.cases.GetByID(ctx, caseID)
	if err != nil {
		return false, fmt.Errorf("load case: %w", err)
	}
	docs, err := c.docs.ListByCase(ctx, caseID)
	if err != nil {
		return false, fmt.Errorf("list case documents: %w", err)
	}

	// Rules see the time of the newest document change, so the same inputs
	// always derive the same warnings.
	watermark := aggregation.Watermark(docs)
	asOf := watermark
	if asOf.IsZero() {
		asOf = caseRecord.CreatedAt
	}
	derived := aggregation.Aggregate(docs, c.opts.Aggregation)
	derived.AttorneyWarnings = c.engine.Evaluate(warnings.NewRecord(caseRecord.Intake, derived, docs, asOf))

	applied, err := c.cases.ReplaceDerived(ctx, caseID, derived, c.now(), watermark)
	if err != nil {
		return false, fmt.Errorf("replace derived fields: %w", err)
	}
	c.logger.Info("aggregation_run",
		"case_id", caseID,
		"documents", len(docs),
		"completed", len(derived.SourceDocumentIDs),
		"warnings", len(derived.AttorneyWarnings),
		"diagnostics", len(derived.Diagnostics),
		"applied", applied,
	)
	for _, d := range derived.Diagnostics {
		c.logger.Warn("aggregation_diagnostic", "case_id", caseID, "document_id", d.DocumentID, "field", d.Field, "message", d.Message)
	}

	if len(docs) > 0 && allTerminal(docs) {
		if err := c.completeExtraction(ctx, caseID); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

func (c *Coordinator) completeExtraction(ctx context.Context, caseID string) error {
	updated, err := c.status.AdvanceTo(ctx, caseID, domain.CaseExtractionComplete)
	if err != nil {
		return fmt.Errorf("advance case to %s: %w", domain.CaseExtractionComplete, err)
	}
	if updated.Status != domain.CaseExtractionComplete {
		return nil
	}
	exists, err := c.generated.Exists(ctx, caseID, domain.DocumentDemandLetter)
	if err != nil {
		return fmt.Errorf("check demand letter: %w", err)
	}
	if !exists {
		return nil
	}
	if _, err := c.status.AdvanceFrom(ctx, caseID, domain.CaseExtractionComplete, domain.CaseDraftReady); err != nil {
		return fmt.Errorf("advance case to %s: %w", domain.CaseDraftReady, err)
	}
	return nil
}

func allTerminal(docs []domain.Document) bool {
	for _, d := range docs {
		if !d.Status.Terminal() {
			return false
		}
	}
	return true
}

// ResumeCase re-dispatches every unfinished document of the case at its
// persisted stage, then requests an aggregation pass.
func (c *Coordinator) ResumeCase(ctx context.Context, caseID string) error {
	docs, err := c.docs.ListByCase(ctx, caseID)
	if err != nil {
		return fmt.Errorf("list case documents: %w", err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if !d.Status.Terminal() {
			ids = append(ids, d.ID)
		}
	}
	if err := c.processAll(ctx, ids); err != nil {
		return err
	}
	c.RequestAggregation(caseID)
	return nil
}

// ResumeUnfinished resumes documents left mid-pipeline by a previous process.
func (c *Coordinator) ResumeUnfinished(ctx context.Context, limit int) (int, error) {
	docs, err := c.docs.ListUnfinished(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list unfinished documents: %w", err)
	}
	ids := make([]string, 0, len(docs))
	cases := make(map[string]struct{})
	for _, d := range docs {
		ids = append(ids, d.ID)
		cases[d.CaseID] = struct{}{}
	}
	if err := c.processAll(ctx, ids); err != nil {
		return len(ids), err
	}
	for caseID := range cases {
		c.RequestAggregation(caseID)
	}
	return len(ids), nil
}

// ResumeStale re-dispatches PENDING documents older than pendingAfter and
// documents left in a processing stage for longer than inFlightAfter. It
// recovers documents whose upload event was never published and documents
// whose worker died mid-stage.
func (c *Coordinator) ResumeStale(ctx context.Context, limit int, pendingAfter, inFlightAfter time.Duration) (int, error) {
	docs, err := c.docs.ListUnfinished(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list unfinished documents: %w", err)
	}
	now := c.now()
	ids := make([]string, 0, len(docs))
	cases := make(map[string]struct{})
	for _, d := range docs {
		age := now.Sub(d.UpdatedAt)
		if d.Status == domain.ProcessingPending && age < pendingAfter {
			continue
		}
		if d.Status != domain.ProcessingPending && age < inFlightAfter {
			continue
		}
		ids = append(ids, d.ID)
		cases[d.CaseID] = struct{}{}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	c.logger.Info("resume_stale_documents", "documents", len(ids), "cases", len(cases))
	if err := c.processAll(ctx, ids); err != nil {
		return len(ids), err
	}
	for caseID := range cases {
		c.RequestAggregation(caseID)
	}
	return len(ids), nil
}

// processAll runs documents with bounded parallelism. A failing document is
// logged and never stops the others.
func (c *Coordinator) processAll(ctx context.Context, ids []string) error {
	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := c.ProcessByID(ctx, id); err != nil {
				c.logger.Warn("document_resume_failed", "document_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// WaitIdle blocks until no aggregation pass is running or pending.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops pending passes and waits for running ones to return.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return c.WaitIdle(ctx)
}

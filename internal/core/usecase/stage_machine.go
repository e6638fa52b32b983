package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/ports"
)

// TransitionListener is told about every persisted document transition.
type TransitionListener interface {
	OnDocumentTransition(ctx context.Context, doc domain.Document, from, to domain.ProcessingStatus)
}

// StageMachine drives one document through PENDING -> EXTRACTING_TEXT ->
// CLASSIFYING -> EXTRACTING_DATA -> COMPLETED. Each status is written before
// the work it names starts, so a restart resumes at the persisted stage.
type StageMachine struct {
	docs     ports.DocumentRepository
	cases    ports.CaseRepository
	client   ports.ExtractionClient
	listener TransitionListener
	observer PipelineObserver
	logger   *slog.Logger
	now      func() time.Time
}

func NewStageMachine(
	docs ports.DocumentRepository,
	cases ports.CaseRepository,
	client ports.ExtractionClient,
	listener TransitionListener,
	observer PipelineObserver,
	logger *slog.Logger,
) *StageMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StageMachine{
		docs:     docs,
		cases:    cases,
		client:   client,
		listener: listener,
		observer: observerOrNoop(observer),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// errStageConflict means another writer moved the document first.
var errStageConflict = errors.New("document advanced by another worker")

func (m *StageMachine) ProcessByID(ctx context.Context, documentID string) error {
	doc, err := m.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.Status.Terminal() {
		m.logger.Debug("document_already_terminal", "document_id", doc.ID, "status", doc.Status)
		return nil
	}

	hints := m.hints(ctx, doc)
	for !doc.Status.Terminal() {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := m.step(ctx, doc, hints)
		if errors.Is(err, errStageConflict) {
			m.logger.Info("document_stage_conflict", "document_id", doc.ID, "status", doc.Status)
			return nil
		}
		if err != nil {
			return err
		}
	}

	if doc.Status == domain.ProcessingFailed {
		return domain.WrapError(domain.ErrExtraction, "process document", errors.New(doc.ProcessingError))
	}
	return nil
}

func (m *StageMachine) hints(ctx context.Context, doc *domain.Document) domain.ClassificationHints {
	hints := domain.ClassificationHints{
		Filename:     doc.Filename,
		MimeType:     doc.MimeType,
		CategoryHint: doc.CategoryHint,
	}
	c, err := m.cases.GetByID(ctx, doc.CaseID)
	if err != nil {
		m.logger.Warn("classification_hint_unavailable", "document_id", doc.ID, "case_id", doc.CaseID, "error", err)
		return hints
	}
	hints.IncidentType = c.Intake.IncidentType
	return hints
}

func (m *StageMachine) step(ctx context.Context, doc *domain.Document, hints domain.ClassificationHints) error {
	switch doc.Status {
	case domain.ProcessingPending:
		return m.advance(ctx, doc, domain.DocumentUpdate{To: domain.ProcessingExtractingText})

	case domain.ProcessingExtractingText:
		text, err := m.client.ExtractText(ctx, doc)
		if err != nil {
			return m.fail(ctx, doc, fmt.Errorf("extract text: %w", err))
		}
		if strings.TrimSpace(text) == "" {
			return m.fail(ctx, doc, domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text")))
		}
		return m.advance(ctx, doc, domain.DocumentUpdate{To: domain.ProcessingClassifying, StagedText: &text})

	case domain.ProcessingClassifying:
		if doc.StagedText == "" {
			return m.fail(ctx, doc, domain.WrapError(domain.ErrInvalidInput, "classify document", errors.New("no staged text to resume from")))
		}
		category, err := m.client.Classify(ctx, doc.StagedText, hints)
		if err != nil {
			return m.fail(ctx, doc, fmt.Errorf("classify document: %w", err))
		}
		if !category.Valid() {
			return m.fail(ctx, doc, domain.WrapError(domain.ErrClassification, "classify document", fmt.Errorf("unknown category %q", category)))
		}
		return m.advance(ctx, doc, domain.DocumentUpdate{To: domain.ProcessingExtractingData, Category: category})

	case domain.ProcessingExtractingData:
		if doc.StagedText == "" {
			return m.fail(ctx, doc, domain.WrapError(domain.ErrInvalidInput, "extract data", errors.New("no staged text to resume from")))
		}
		data, err := m.client.ExtractData(ctx, doc.StagedText, doc.Category)
		if err != nil {
			return m.fail(ctx, doc, fmt.Errorf("extract data: %w", err))
		}
		if data == nil {
			data = domain.ExtractedData{}
		}
		if note, ok := data.Note(); ok && note.Truncated {
			m.logger.Warn("document_extraction_truncated",
				"document_id", doc.ID,
				"case_id", doc.CaseID,
				"processed_runes", note.ProcessedRunes,
				"total_runes", note.TotalRunes,
			)
		}
		text := doc.StagedText
		cleared := ""
		return m.advance(ctx, doc, domain.DocumentUpdate{
			To:            domain.ProcessingCompleted,
			ExtractedText: &text,
			ExtractedData: data,
			StagedText:    &cleared,
		})

	default:
		return domain.WrapError(domain.ErrInvalidTransition, "process document", fmt.Errorf("unexpected status %s", doc.Status))
	}
}

// fail records cause as a FAILED transition. A cancelled caller writes
// nothing so the document stays resumable at its current stage.
func (m *StageMachine) fail(ctx context.Context, doc *domain.Document, cause error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ctxErr, cause)
	}
	stage := doc.Status
	m.logger.Warn("document_stage_failed", "document_id", doc.ID, "case_id", doc.CaseID, "stage", stage, "error", cause)
	return m.advance(ctx, doc, domain.DocumentUpdate{
		To:              domain.ProcessingFailed,
		ProcessingError: domain.FailureReason(stage, cause),
	})
}

func (m *StageMachine) advance(ctx context.Context, doc *domain.Document, update domain.DocumentUpdate) error {
	update.From = doc.Status
	update.At = m.now()
	if err := domain.ValidateDocumentTransition(update.From, update.To); err != nil {
		return err
	}
	if err := m.docs.Advance(ctx, doc.ID, update); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return errStageConflict
		}
		return fmt.Errorf("persist %s -> %s: %w", update.From, update.To, err)
	}
	update.Apply(doc)

	m.logger.Info("document_transition", "document_id", doc.ID, "case_id", doc.CaseID, "from", update.From, "to", update.To)
	m.observer.ObserveTransition(update.From, update.To)
	if m.listener != nil {
		m.listener.OnDocumentTransition(ctx, *doc, update.From, update.To)
	}
	return nil
}

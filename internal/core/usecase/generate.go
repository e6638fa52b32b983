package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/ports"
)

// generationPolicy states what a document type needs before it can render.
type generationPolicy struct {
	// AllowIntakeOnly permits rendering before any document completed.
	AllowIntakeOnly bool
	Missing         func(view domain.GenerationView) []string
}

var generationPolicies = map[domain.DocumentType]generationPolicy{
	domain.DocumentDemandLetter: {
		Missing: func(v domain.GenerationView) []string {
			var missing []string
			if v.Intake.ClientName == "" {
				missing = append(missing, "client name")
			}
			if v.Intake.IncidentDate.IsZero() {
				missing = append(missing, "incident date")
			}
			if recipientOf(v) == "" {
				missing = append(missing, "recipient (defendant, insurance carrier or recipient parameter)")
			}
			if v.Damages.Total == 0 {
				missing = append(missing, "documented damages")
			}
			return missing
		},
	},
	domain.DocumentExecutiveSummary: {
		AllowIntakeOnly: true,
		Missing: func(v domain.GenerationView) []string {
			if v.Intake.ClientName == "" {
				return []string{"client name"}
			}
			return nil
		},
	},
	domain.DocumentGapAnalysis: {
		Missing: func(v domain.GenerationView) []string {
			if len(v.Timeline.Events) == 0 {
				return []string{"treatment events"}
			}
			return nil
		},
	},
	domain.DocumentTreatmentTimeline: {
		Missing: func(v domain.GenerationView) []string {
			if len(v.Timeline.Events) == 0 {
				return []string{"treatment events"}
			}
			return nil
		},
	},
	domain.DocumentDamagesWorksheet: {
		Missing: func(v domain.GenerationView) []string {
			if len(v.Damages.LineItems) == 0 {
				return []string{"damages line items"}
			}
			return nil
		},
	},
}

func recipientOf(v domain.GenerationView) string {
	if r, ok := v.Parameters["recipient"].(string); ok && strings.TrimSpace(r) != "" {
		return strings.TrimSpace(r)
	}
	if v.Intake.InsuranceCarrier != "" {
		return v.Intake.InsuranceCarrier
	}
	return v.Intake.DefendantName
}

type GenerateDocumentUseCase struct {
	cases     ports.CaseRepository
	generated ports.GeneratedDocumentRepository
	renderer  ports.DocumentRenderer
	status    *CaseStatusService
	exporter  ports.DocumentExporter
	locks     *keyedMutex
	observer  PipelineObserver
	logger    *slog.Logger
	now       func() time.Time
}

func NewGenerateDocumentUseCase(
	cases ports.CaseRepository,
	generated ports.GeneratedDocumentRepository,
	renderer ports.DocumentRenderer,
	status *CaseStatusService,
	exporter ports.DocumentExporter,
	observer PipelineObserver,
	logger *slog.Logger,
) *GenerateDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateDocumentUseCase{
		cases:     cases,
		generated: generated,
		renderer:  renderer,
		status:    status,
		exporter:  exporter,
		locks:     newKeyedMutex(),
		observer:  observerOrNoop(observer),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Generate renders and stores the next version of a document. Nothing is
// written unless rendering succeeded and the caller is still waiting.
func (uc *GenerateDocumentUseCase) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GeneratedDocument, error) {
	started := time.Now()
	doc, err := uc.generate(ctx, req)
	uc.observer.ObserveGeneration(req.DocumentType, time.Since(started), err)
	if err != nil {
		uc.logger.Warn("generation_failed", "case_id", req.CaseID, "document_type", req.DocumentType, "error", err)
		return nil, err
	}
	uc.logger.Info("document_generated", "case_id", doc.CaseID, "document_type", doc.DocumentType, "version", doc.Version)
	return doc, nil
}

func (uc *GenerateDocumentUseCase) generate(ctx context.Context, req domain.GenerationRequest) (*domain.GeneratedDocument, error) {
	docType, err := domain.ParseDocumentType(string(req.DocumentType))
	if err != nil {
		return nil, err
	}
	tone, err := domain.ParseTone(string(req.Tone))
	if err != nil {
		return nil, err
	}
	policy := generationPolicies[docType]

	c, err := uc.cases.GetByID(ctx, req.CaseID)
	if err != nil {
		return nil, fmt.Errorf("load case: %w", err)
	}

	intakeOnly := !c.HasDerived()
	if intakeOnly && !policy.AllowIntakeOnly {
		return nil, domain.NewGenerationError(docType, "the case has no processed documents yet", domain.ErrNotReady)
	}

	view := buildView(c, docType, tone, req.Parameters, intakeOnly, uc.now())
	if missing := policy.Missing(view); len(missing) > 0 {
		return nil, domain.NewGenerationError(docType, "missing required case data: "+strings.Join(missing, ", "), domain.ErrInvalidInput)
	}

	rendered, err := uc.renderer.Render(docType, view)
	if err != nil {
		return nil, domain.NewGenerationError(docType, "template rendering failed", err)
	}
	if strings.TrimSpace(rendered.Content) == "" {
		return nil, domain.NewGenerationError(docType, "template produced no content", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := &domain.GeneratedDocument{
		ID:           uuid.NewString(),
		CaseID:       c.ID,
		DocumentType: docType,
		Tone:         tone,
		Parameters:   view.Parameters,
		Content:      rendered.Content,
		ContentHTML:  rendered.ContentHTML,
		Warnings:     view.Warnings,
		CreatedAt:    uc.now(),
	}

	unlock := uc.locks.Lock(c.ID + "|" + string(docType))
	err = uc.generated.CreateVersioned(ctx, doc)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("store generated document: %w", err)
	}

	// Post-commit work runs even if the caller has gone away.
	after := context.WithoutCancel(ctx)
	if docType == domain.DocumentDemandLetter {
		if _, err := uc.status.AdvanceFrom(after, c.ID, domain.CaseExtractionComplete, domain.CaseDraftReady); err != nil {
			uc.logger.Error("case_status_advance_failed", "case_id", c.ID, "target", domain.CaseDraftReady, "error", err)
		}
	}
	if uc.exporter != nil {
		if err := uc.exporter.Export(after, doc); err != nil {
			uc.logger.Error("generated_export_failed", "case_id", c.ID, "generated_id", doc.ID, "error", err)
		}
	}
	return doc, nil
}

func buildView(
	c *domain.Case,
	docType domain.DocumentType,
	tone domain.Tone,
	params map[string]any,
	intakeOnly bool,
	now time.Time,
) domain.GenerationView {
	view := domain.GenerationView{
		CaseID:       c.ID,
		DocumentType: docType,
		Tone:         tone,
		Parameters:   copyParams(params),
		Intake:       c.Intake,
		IntakeOnly:   intakeOnly,
		GeneratedAt:  domain.NewDate(now),
		Warnings:     append([]domain.Warning{}, c.Warnings()...),
	}
	if c.Derived != nil {
		view.Extracted = c.Derived.ExtractedData
		view.Timeline = c.Derived.TreatmentTimeline
		view.Damages = c.Derived.DamagesCalculation
	}
	return view
}

func copyParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

package usecase

import (
	"context"
	"fmt"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/ports"
)

// StatusUseCase serves polling reads. It never writes.
type StatusUseCase struct {
	cases     ports.CaseRepository
	docs      ports.DocumentRepository
	generated ports.GeneratedDocumentRepository
}

func NewStatusUseCase(
	cases ports.CaseRepository,
	docs ports.DocumentRepository,
	generated ports.GeneratedDocumentRepository,
) *StatusUseCase {
	return &StatusUseCase{cases: cases, docs: docs, generated: generated}
}

func (uc *StatusUseCase) GetCase(ctx context.Context, id string) (*domain.Case, error) {
	c, err := uc.cases.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

func (uc *StatusUseCase) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := uc.docs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (uc *StatusUseCase) ListDocuments(ctx context.Context, caseID string) ([]domain.Document, error) {
	if _, err := uc.cases.GetByID(ctx, caseID); err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	docs, err := uc.docs.ListByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// ListGenerated returns every version of every type when docType is empty.
func (uc *StatusUseCase) ListGenerated(ctx context.Context, caseID string, docType domain.DocumentType) ([]domain.GeneratedDocument, error) {
	if _, err := uc.cases.GetByID(ctx, caseID); err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	out, err := uc.generated.ListByCase(ctx, caseID, docType)
	if err != nil {
		return nil, fmt.Errorf("list generated documents: %w", err)
	}
	return out, nil
}

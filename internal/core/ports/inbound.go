package ports

import (
	"context"
	"io"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

// CaseService creates cases from intake data.
type CaseService interface {
	CreateCase(ctx context.Context, intake domain.CaseIntake) (*domain.Case, error)
}

// UploadRequest describes one file handed over by the routing layer.
type UploadRequest struct {
	CaseID       string
	Filename     string
	MimeType     string
	CategoryHint domain.DocumentCategory
}

// DocumentIntake is the inbound contract for document upload orchestration.
type DocumentIntake interface {
	Upload(ctx context.Context, req UploadRequest, body io.Reader) (*domain.Document, error)
	// RegisterDocument accepts a file that is already in object storage.
	RegisterDocument(ctx context.Context, req UploadRequest, storagePath string) (*domain.Document, error)
}

// StatusReader is the side-effect free read model used for polling.
type StatusReader interface {
	GetCase(ctx context.Context, id string) (*domain.Case, error)
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	ListDocuments(ctx context.Context, caseID string) ([]domain.Document, error)
	ListGenerated(ctx context.Context, caseID string, docType domain.DocumentType) ([]domain.GeneratedDocument, error)
}

// DocumentGenerator renders a versioned output document for a case.
type DocumentGenerator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GeneratedDocument, error)
}

// CaseWorkflow applies external workflow actions to the later case states.
type CaseWorkflow interface {
	ApplyWorkflowAction(ctx context.Context, caseID string, target domain.CaseStatus) (*domain.Case, error)
}

// DocumentProcessor is the inbound contract for asynchronous document processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}

package ports

import (
	"context"
	"io"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

// CaseRepository persists cases. Status writes and derived replaces are
// single atomic statements.
type CaseRepository interface {
	Create(ctx context.Context, c *domain.Case) error
	GetByID(ctx context.Context, id string) (*domain.Case, error)
	// UpdateStatus moves a case from one status to another and returns
	// domain.ErrConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to domain.CaseStatus) error
	// ReplaceDerived swaps every derived field at once. It reports false when
	// a run with a newer watermark has already been stored.
	ReplaceDerived(ctx context.Context, id string, derived domain.CaseDerived, aggregatedAt, watermark time.Time) (bool, error)
}

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByCase(ctx context.Context, caseID string) ([]domain.Document, error)
	// Advance applies a stage transition and returns domain.ErrConflict when
	// the stored status is no longer update.From.
	Advance(ctx context.Context, id string, update domain.DocumentUpdate) error
	// ListUnfinished returns documents that are not COMPLETED or FAILED.
	ListUnfinished(ctx context.Context, limit int) ([]domain.Document, error)
}

// GeneratedDocumentRepository stores immutable generated documents.
type GeneratedDocumentRepository interface {
	// CreateVersioned assigns the next version for (case, type) and inserts
	// doc in the same atomic step. doc.Version is set on success.
	CreateVersioned(ctx context.Context, doc *domain.GeneratedDocument) error
	ListByCase(ctx context.Context, caseID string, docType domain.DocumentType) ([]domain.GeneratedDocument, error)
	Exists(ctx context.Context, caseID string, docType domain.DocumentType) (bool, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// DocumentQueue publishes/consumes document processing events.
type DocumentQueue interface {
	PublishDocumentUploaded(ctx context.Context, documentID string) error
	SubscribeDocumentUploaded(ctx context.Context, handler func(context.Context, string) error) error
}

// DocumentExporter hands finished generated content to the rendering/export
// collaborator.
type DocumentExporter interface {
	Export(ctx context.Context, doc *domain.GeneratedDocument) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// DocumentClassifier assigns a category to extracted text.
type DocumentClassifier interface {
	Classify(ctx context.Context, text string, hints domain.ClassificationHints) (domain.DocumentCategory, error)
}

// DataExtractor pulls category-specific structured fields out of text.
type DataExtractor interface {
	ExtractData(ctx context.Context, text string, category domain.DocumentCategory) (domain.ExtractedData, error)
}

// ExtractionClient is the resilient facade the stage machine talks to.
// Implementations own timeouts and retries.
type ExtractionClient interface {
	ExtractText(ctx context.Context, doc *domain.Document) (string, error)
	Classify(ctx context.Context, text string, hints domain.ClassificationHints) (domain.DocumentCategory, error)
	ExtractData(ctx context.Context, text string, category domain.DocumentCategory) (domain.ExtractedData, error)
}

// DocumentRenderer turns a bound template view into markdown and HTML.
type DocumentRenderer interface {
	Render(docType domain.DocumentType, view domain.GenerationView) (domain.RenderedDocument, error)
}

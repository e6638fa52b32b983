package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/ports"
)

type IntakeUseCase struct {
	cases   ports.CaseRepository
	docs    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.DocumentQueue
	status  *CaseStatusService
	logger  *slog.Logger
	now     func() time.Time
}

func NewIntakeUseCase(
	cases ports.CaseRepository,
	docs ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.DocumentQueue,
	status *CaseStatusService,
	logger *slog.Logger,
) *IntakeUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeUseCase{
		cases:   cases,
		docs:    docs,
		storage: storage,
		queue:   queue,
		status:  status,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (uc *IntakeUseCase) CreateCase(ctx context.Context, intake domain.CaseIntake) (*domain.Case, error) {
	if err := intake.Validate(); err != nil {
		return nil, err
	}
	now := uc.now()
	c := &domain.Case{
		ID:        uuid.NewString(),
		Status:    domain.CaseIntakeStatus,
		Intake:    intake,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.cases.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}
	uc.logger.Info("case_created", "case_id", c.ID, "jurisdiction", intake.Jurisdiction)
	return c, nil
}

// Upload stores the file and registers it as a new PENDING document.
func (uc *IntakeUseCase) Upload(ctx context.Context, req ports.UploadRequest, body io.Reader) (*domain.Document, error) {
	if err := validateUpload(req); err != nil {
		return nil, err
	}
	if _, err := uc.cases.GetByID(ctx, req.CaseID); err != nil {
		return nil, fmt.Errorf("load case: %w", err)
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s/%s_%s", req.CaseID, id, sanitizeFilename(req.Filename))
	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}
	return uc.register(ctx, id, req, storageKey)
}

// RegisterDocument accepts a file that another collaborator already stored.
func (uc *IntakeUseCase) RegisterDocument(ctx context.Context, req ports.UploadRequest, storagePath string) (*domain.Document, error) {
	if err := validateUpload(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(storagePath) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "register document", errors.New("storage path is required"))
	}
	if _, err := uc.cases.GetByID(ctx, req.CaseID); err != nil {
		return nil, fmt.Errorf("load case: %w", err)
	}
	return uc.register(ctx, uuid.NewString(), req, storagePath)
}

func (uc *IntakeUseCase) register(ctx context.Context, id string, req ports.UploadRequest, storagePath string) (*domain.Document, error) {
	now := uc.now()
	doc := &domain.Document{
		ID:           id,
		CaseID:       req.CaseID,
		Filename:     req.Filename,
		MimeType:     req.MimeType,
		StoragePath:  storagePath,
		CategoryHint: req.CategoryHint,
		Status:       domain.ProcessingPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := uc.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document metadata: %w", err)
	}

	if _, err := uc.status.AdvanceTo(ctx, req.CaseID, domain.CaseDocumentsUploaded); err != nil {
		return nil, fmt.Errorf("advance case status: %w", err)
	}

	if err := uc.queue.PublishDocumentUploaded(ctx, doc.ID); err != nil {
		// The document is stored and stays PENDING until the worker's resume
		// sweep dispatches it.
		uc.logger.Warn("document_dispatch_deferred", "case_id", doc.CaseID, "document_id", doc.ID, "error", err)
		doc.DispatchDeferred = true
		return doc, nil
	}

	uc.logger.Info("document_registered", "case_id", doc.CaseID, "document_id", doc.ID, "filename", doc.Filename)
	return doc, nil
}

func validateUpload(req ports.UploadRequest) error {
	switch {
	case strings.TrimSpace(req.CaseID) == "":
		return domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("case id is required"))
	case strings.TrimSpace(req.Filename) == "":
		return domain.WrapError(domain.ErrInvalidInput, "upload document", errors.New("filename is required"))
	case req.CategoryHint != "" && !req.CategoryHint.Valid():
		return domain.WrapError(domain.ErrInvalidInput, "upload document", fmt.Errorf("unknown category hint %q", req.CategoryHint))
	}
	return nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

const defaultUnfinishedLimit = 500

const documentColumns = `id, case_id, filename, mime_type, storage_path, category_hint, category, status,
	processing_error, staged_text, extracted_text, extracted_data, created_at, updated_at`

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	dataJSON, err := marshalExtracted(doc.ExtractedData)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`,
		doc.ID, doc.CaseID, doc.Filename, doc.MimeType, doc.StoragePath,
		nullableString(string(doc.CategoryHint)), nullableString(string(doc.Category)), string(doc.Status),
		nullableString(doc.ProcessingError), nullableString(doc.StagedText), nullableString(doc.ExtractedText),
		dataJSON, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		switch pgErrorCode(err) {
		case pgForeignKeyViolation:
			return domain.ErrCaseNotFound
		case pgUniqueViolation:
			return domain.WrapError(domain.ErrConflict, "create document", fmt.Errorf("document %s already exists", doc.ID))
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByCase(ctx context.Context, caseID string) ([]domain.Document, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE case_id = $1
ORDER BY created_at, id
`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list case documents: %w", err)
	}
	return collectDocuments(rows)
}

func (r *DocumentRepository) ListUnfinished(ctx context.Context, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = defaultUnfinishedLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE status NOT IN ('COMPLETED', 'FAILED')
ORDER BY created_at, id
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unfinished documents: %w", err)
	}
	return collectDocuments(rows)
}

// Advance writes one stage transition. Absent update fields keep their stored
// values and processing_error changes only on failure.
func (r *DocumentRepository) Advance(ctx context.Context, id string, update domain.DocumentUpdate) error {
	if err := domain.ValidateDocumentTransition(update.From, update.To); err != nil {
		return err
	}
	dataJSON, err := marshalExtracted(update.ExtractedData)
	if err != nil {
		return err
	}
	var processingError any
	if update.To == domain.ProcessingFailed {
		processingError = update.ProcessingError
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $3,
	category = COALESCE($4, category),
	staged_text = COALESCE($5, staged_text),
	extracted_text = COALESCE($6, extracted_text),
	extracted_data = COALESCE($7, extracted_data),
	processing_error = COALESCE($8, processing_error),
	updated_at = $9
WHERE id = $1 AND status = $2
`,
		id, string(update.From), string(update.To), nullableString(string(update.Category)),
		optionalText(update.StagedText), optionalText(update.ExtractedText), dataJSON,
		processingError, update.At,
	)
	if err != nil {
		return fmt.Errorf("advance document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance document rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("document exists: %w", err)
	}
	if !exists {
		return domain.ErrDocumentNotFound
	}
	return domain.WrapError(domain.ErrConflict, "advance document", fmt.Errorf("status is no longer %s", update.From))
}

func collectDocuments(rows *sql.Rows) ([]domain.Document, error) {
	defer rows.Close()
	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var doc domain.Document
	var hint, category, processingError, staged, extracted sql.NullString
	var status string
	var dataRaw []byte
	if err := row.Scan(
		&doc.ID,
		&doc.CaseID,
		&doc.Filename,
		&doc.MimeType,
		&doc.StoragePath,
		&hint,
		&category,
		&status,
		&processingError,
		&staged,
		&extracted,
		&dataRaw,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	); err != nil {
		return domain.Document{}, err
	}
	doc.CategoryHint = domain.DocumentCategory(hint.String)
	doc.Category = domain.DocumentCategory(category.String)
	doc.Status = domain.ProcessingStatus(status)
	doc.ProcessingError = processingError.String
	doc.StagedText = staged.String
	doc.ExtractedText = extracted.String
	if len(dataRaw) > 0 {
		if err := json.Unmarshal(dataRaw, &doc.ExtractedData); err != nil {
			return domain.Document{}, fmt.Errorf("unmarshal extracted data: %w", err)
		}
	}
	return doc, nil
}

func marshalExtracted(data domain.ExtractedData) (any, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal extracted data: %w", err)
	}
	return raw, nil
}

func optionalText(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

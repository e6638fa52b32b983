package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

type GeneratedRepository struct {
	db *sql.DB
}

func NewGeneratedRepository(db *sql.DB) *GeneratedRepository {
	return &GeneratedRepository{db: db}
}

// CreateVersioned bumps the per-type counter and inserts the document in one
// transaction, so a rolled back insert never consumes a version.
func (r *GeneratedRepository) CreateVersioned(ctx context.Context, doc *domain.GeneratedDocument) error {
	paramsJSON, err := json.Marshal(doc.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	warnings := doc.Warnings
	if warnings == nil {
		warnings = []domain.Warning{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin generated tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var version int
	err = tx.QueryRowContext(ctx, `
INSERT INTO generated_versions (case_id, document_type, last_version)
VALUES ($1, $2, 1)
ON CONFLICT (case_id, document_type)
DO UPDATE SET last_version = generated_versions.last_version + 1
RETURNING last_version
`, doc.CaseID, string(doc.DocumentType)).Scan(&version)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return domain.ErrCaseNotFound
		}
		return fmt.Errorf("next generated version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO generated_documents (id, case_id, document_type, version, tone, parameters, content, content_html, warnings, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`,
		doc.ID, doc.CaseID, string(doc.DocumentType), version, string(doc.Tone), paramsJSON,
		doc.Content, nullableString(doc.ContentHTML), warningsJSON, doc.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert generated document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit generated tx: %w", err)
	}
	doc.Version = version
	return nil
}

// ListByCase returns every version of docType, or of all types when docType
// is empty, ordered by type then version.
func (r *GeneratedRepository) ListByCase(ctx context.Context, caseID string, docType domain.DocumentType) ([]domain.GeneratedDocument, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, case_id, document_type, version, tone, parameters, content, content_html, warnings, created_at
FROM generated_documents
WHERE case_id = $1 AND ($2 = '' OR document_type = $2)
ORDER BY document_type, version
`, caseID, string(docType))
	if err != nil {
		return nil, fmt.Errorf("list generated documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.GeneratedDocument, 0)
	for rows.Next() {
		g, err := scanGenerated(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generated document: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generated documents: %w", err)
	}
	return out, nil
}

func (r *GeneratedRepository) Exists(ctx context.Context, caseID string, docType domain.DocumentType) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS(SELECT 1 FROM generated_documents WHERE case_id = $1 AND document_type = $2)
`, caseID, string(docType)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("generated document exists: %w", err)
	}
	return exists, nil
}

func scanGenerated(row rowScanner) (domain.GeneratedDocument, error) {
	var g domain.GeneratedDocument
	var docType, tone string
	var paramsRaw, warningsRaw []byte
	var html sql.NullString
	if err := row.Scan(
		&g.ID,
		&g.CaseID,
		&docType,
		&g.Version,
		&tone,
		&paramsRaw,
		&g.Content,
		&html,
		&warningsRaw,
		&g.CreatedAt,
	); err != nil {
		return domain.GeneratedDocument{}, err
	}
	g.DocumentType = domain.DocumentType(docType)
	g.Tone = domain.Tone(tone)
	g.ContentHTML = html.String
	if len(paramsRaw) > 0 {
		if err := json.Unmarshal(paramsRaw, &g.Parameters); err != nil {
			return domain.GeneratedDocument{}, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if err := json.Unmarshal(warningsRaw, &g.Warnings); err != nil {
		return domain.GeneratedDocument{}, fmt.Errorf("unmarshal warnings: %w", err)
	}
	return g, nil
}

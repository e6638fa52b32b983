package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

type CaseRepository struct {
	db *sql.DB
}

func NewCaseRepository(db *sql.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

func (r *CaseRepository) Create(ctx context.Context, c *domain.Case) error {
	intakeJSON, err := json.Marshal(c.Intake)
	if err != nil {
		return fmt.Errorf("marshal intake: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO cases (id, status, intake, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5)
`, c.ID, string(c.Status), intakeJSON, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return domain.WrapError(domain.ErrConflict, "create case", fmt.Errorf("case %s already exists", c.ID))
		}
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (r *CaseRepository) GetByID(ctx context.Context, id string) (*domain.Case, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, status, intake, derived, aggregated_at, aggregation_watermark, created_at, updated_at
FROM cases
WHERE id = $1
`, id)

	c, err := scanCase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCaseNotFound
		}
		return nil, fmt.Errorf("scan case: %w", err)
	}
	return c, nil
}

func (r *CaseRepository) UpdateStatus(ctx context.Context, id string, from, to domain.CaseStatus) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE cases
SET status = $3, updated_at = $4
WHERE id = $1 AND status = $2
`, id, string(from), string(to), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update case status rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}
	exists, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrCaseNotFound
	}
	return domain.WrapError(domain.ErrConflict, "update case status", fmt.Errorf("status is no longer %s", from))
}

func (r *CaseRepository) ReplaceDerived(ctx context.Context, id string, derived domain.CaseDerived, aggregatedAt, watermark time.Time) (bool, error) {
	derivedJSON, err := json.Marshal(derived)
	if err != nil {
		return false, fmt.Errorf("marshal derived: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE cases
SET derived = $2, aggregated_at = $3, aggregation_watermark = $4, updated_at = $3
WHERE id = $1 AND (aggregation_watermark IS NULL OR aggregation_watermark <= $4)
`, id, derivedJSON, aggregatedAt, watermark)
	if err != nil {
		return false, fmt.Errorf("replace derived: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replace derived rows affected: %w", err)
	}
	if rows > 0 {
		return true, nil
	}
	exists, err := r.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrCaseNotFound
	}
	return false, nil
}

func (r *CaseRepository) exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM cases WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("case exists: %w", err)
	}
	return exists, nil
}

func scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	var status string
	var intakeRaw, derivedRaw []byte
	var aggregatedAt, watermark sql.NullTime
	if err := row.Scan(
		&c.ID,
		&status,
		&intakeRaw,
		&derivedRaw,
		&aggregatedAt,
		&watermark,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Status = domain.CaseStatus(status)
	if err := json.Unmarshal(intakeRaw, &c.Intake); err != nil {
		return nil, fmt.Errorf("unmarshal intake: %w", err)
	}
	if len(derivedRaw) > 0 {
		var derived domain.CaseDerived
		if err := json.Unmarshal(derivedRaw, &derived); err != nil {
			return nil, fmt.Errorf("unmarshal derived: %w", err)
		}
		c.Derived = &derived
	}
	if aggregatedAt.Valid {
		at := aggregatedAt.Time
		c.AggregatedAt = &at
	}
	if watermark.Valid {
		mark := watermark.Time
		c.AggregationWatermark = &mark
	}
	return &c, nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/ports"
)

const maxStatusConflictRetries = 3

// CaseStatusService is the single writer of case status. Pipeline events
// only ever move a case forward; workflow actions take one edge at a time.
type CaseStatusService struct {
	cases  ports.CaseRepository
	locks  *keyedMutex
	logger *slog.Logger
}

func NewCaseStatusService(cases ports.CaseRepository, logger *slog.Logger) *CaseStatusService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CaseStatusService{
		cases:  cases,
		locks:  newKeyedMutex(),
		logger: logger,
	}
}

// AdvanceTo walks the case forward to target. A case already at or beyond
// target is left untouched.
func (s *CaseStatusService) AdvanceTo(ctx context.Context, caseID string, target domain.CaseStatus) (*domain.Case, error) {
	return s.advance(ctx, caseID, target, func(c *domain.Case) bool {
		return !c.Status.AtLeast(target)
	})
}

// AdvanceFrom moves the case to target only while it sits exactly at from.
func (s *CaseStatusService) AdvanceFrom(ctx context.Context, caseID string, from, target domain.CaseStatus) (*domain.Case, error) {
	return s.advance(ctx, caseID, target, func(c *domain.Case) bool {
		return c.Status == from
	})
}

func (s *CaseStatusService) advance(
	ctx context.Context,
	caseID string,
	target domain.CaseStatus,
	shouldMove func(*domain.Case) bool,
) (*domain.Case, error) {
	unlock := s.locks.Lock(caseID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		c, err := s.cases.GetByID(ctx, caseID)
		if err != nil {
			return nil, fmt.Errorf("load case: %w", err)
		}
		if !shouldMove(c) {
			return c, nil
		}

		path := domain.CasePathTo(c.Status, target)
		if len(path) == 0 {
			return nil, domain.WrapError(domain.ErrInvalidTransition, "advance case", fmt.Errorf("%s does not lead to %s", c.Status, target))
		}
		err = s.walk(ctx, c, path)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= maxStatusConflictRetries {
			return nil, err
		}
		// Another process moved the case; re-read and try again.
		s.logger.Debug("case_status_conflict", "case_id", caseID, "target", target, "attempt", attempt+1)
	}
}

func (s *CaseStatusService) walk(ctx context.Context, c *domain.Case, path []domain.CaseStatus) error {
	for _, next := range path {
		if err := domain.ValidateCaseTransition(c.Status, next); err != nil {
			return err
		}
		if err := s.cases.UpdateStatus(ctx, c.ID, c.Status, next); err != nil {
			return fmt.Errorf("update case status: %w", err)
		}
		s.logger.Info("case_status_changed", "case_id", c.ID, "from", c.Status, "to", next)
		c.Status = next
	}
	return nil
}

// ApplyWorkflowAction handles the externally driven statuses after DRAFT_READY.
func (s *CaseStatusService) ApplyWorkflowAction(ctx context.Context, caseID string, target domain.CaseStatus) (*domain.Case, error) {
	if !target.WorkflowStatus() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "apply workflow action", fmt.Errorf("%q is not a workflow status", target))
	}

	unlock := s.locks.Lock(caseID)
	defer unlock()

	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case: %w", err)
	}
	if err := s.walk(ctx, c, []domain.CaseStatus{target}); err != nil {
		return nil, err
	}
	return c, nil
}

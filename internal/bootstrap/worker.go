package bootstrap

import (
	"context"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/observability/metrics"
)

const documentProcessTimeout = 5 * time.Minute

// RunWorker resumes documents left unfinished by a previous process, keeps
// sweeping for stranded or stale documents, and consumes upload events until
// ctx is done. wm may be nil.
func (a *App) RunWorker(ctx context.Context, wm *metrics.WorkerMetrics) error {
	go func() {
		resumed, err := a.Coordinator.ResumeUnfinished(ctx, a.Config.ResumeBatchSize)
		if err != nil {
			a.Logger.Error("resume_unfinished_failed", "resumed", resumed, "error", err)
		} else {
			a.Logger.Info("resume_unfinished_done", "resumed", resumed)
		}
		a.runResumeSweep(ctx)
	}()

	a.Logger.Info("worker_subscribed", "subject", a.Config.NATSProcessSubject, "concurrency", a.Config.WorkerConcurrency)
	return a.Queue.SubscribeDocumentUploaded(ctx, func(handlerCtx context.Context, documentID string) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, documentProcessTimeout)
		defer cancel()

		if wm == nil {
			return a.Coordinator.ProcessByID(processCtx, documentID)
		}
		if doc, err := a.Status.GetDocument(processCtx, documentID); err == nil && doc.Status == domain.ProcessingPending {
			wm.ObserveQueueLag(time.Since(doc.CreatedAt))
		}
		finish := wm.StartDocument()
		err := a.Coordinator.ProcessByID(processCtx, documentID)
		finish(err)
		return err
	})
}

// runResumeSweep re-dispatches PENDING documents whose upload event was lost
// and documents stuck in a stage past the stale age. It returns when ctx is
// done or the sweep is disabled.
func (a *App) runResumeSweep(ctx context.Context) {
	if a.Config.ResumeIntervalSeconds <= 0 {
		return
	}
	interval := time.Duration(a.Config.ResumeIntervalSeconds) * time.Second
	stale := time.Duration(a.Config.ResumeStaleSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		swept, err := a.Coordinator.ResumeStale(ctx, a.Config.ResumeBatchSize, interval, stale)
		if err != nil {
			a.Logger.Warn("resume_sweep_failed", "swept", swept, "error", err)
			continue
		}
		if swept > 0 {
			a.Logger.Info("resume_sweep_done", "swept", swept)
		}
	}
}

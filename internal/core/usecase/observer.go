package usecase

import (
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

// PipelineObserver receives pipeline events for metrics.
type PipelineObserver interface {
	ObserveTransition(from, to domain.ProcessingStatus)
	ObserveAggregation(duration time.Duration, applied bool, err error)
	ObserveCoalesced()
	ObserveGeneration(docType domain.DocumentType, duration time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveTransition(domain.ProcessingStatus, domain.ProcessingStatus) {}
func (noopObserver) ObserveAggregation(time.Duration, bool, error)                      {}
func (noopObserver) ObserveCoalesced()                                                  {}
func (noopObserver) ObserveGeneration(domain.DocumentType, time.Duration, error)        {}

func observerOrNoop(o PipelineObserver) PipelineObserver {
	if o == nil {
		return noopObserver{}
	}
	return o
}

package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/ports"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/chunking"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/resilience"
)

// Client wraps the text, classification and data backends behind one rate
// limiter and one resilience executor.
type Client struct {
	text       ports.TextExtractor
	classifier ports.DocumentClassifier
	extractor  ports.DataExtractor
	executor   *resilience.Executor
	limiter    *rate.Limiter
	splitter   *chunking.Splitter
	logger     *slog.Logger
}

type Options struct {
	Resilience resilience.Config
	// RateLimit caps backend calls per second across all documents; zero disables it.
	RateLimit float64
	Burst     int
	// Retries is told about every scheduled retry; nil disables it.
	Retries resilience.RetryObserver

	// Text longer than WindowRunes is extracted window by window, each with
	// its own attempts. MaxWindows caps the windows read; zero reads all.
	WindowRunes   int
	WindowOverlap int
	MaxWindows    int
}

const (
	defaultWindowRunes   = 4000
	defaultWindowOverlap = 300
)

func NewClient(
	text ports.TextExtractor,
	classifier ports.DocumentClassifier,
	extractor ports.DataExtractor,
	opts Options,
	logger *slog.Logger,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &Client{
		text:       text,
		classifier: classifier,
		extractor:  extractor,
		executor:   resilience.NewExecutor(opts.Resilience, logger).WithRetryObserver(opts.Retries),
		limiter:    limiter,
		splitter:   newSplitter(opts),
		logger:     logger,
	}
}

func newSplitter(opts Options) *chunking.Splitter {
	runes, overlap := opts.WindowRunes, opts.WindowOverlap
	if runes <= 0 {
		runes, overlap = defaultWindowRunes, defaultWindowOverlap
	}
	return chunking.NewSplitter(runes, overlap, opts.MaxWindows)
}

func (c *Client) ExtractText(ctx context.Context, doc *domain.Document) (string, error) {
	var text string
	err := c.call(ctx, "extract_text", func(ctx context.Context) error {
		out, err := c.text.Extract(ctx, doc)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return "", c.surface("extract text", err, domain.ErrExtraction)
	}
	return text, nil
}

func (c *Client) Classify(ctx context.Context, text string, hints domain.ClassificationHints) (domain.DocumentCategory, error) {
	var category domain.DocumentCategory
	err := c.call(ctx, "classify", func(ctx context.Context) error {
		out, err := c.classifier.Classify(ctx, text, hints)
		if err != nil {
			return err
		}
		category = out
		return nil
	})
	if err != nil {
		return "", c.surface("classify document", err, domain.ErrClassification)
	}
	return category, nil
}

// ExtractData extracts each text window separately and merges the results.
// When the window cap stops short of the end of the text, the result carries
// a truncation note.
func (c *Client) ExtractData(ctx context.Context, text string, category domain.DocumentCategory) (domain.ExtractedData, error) {
	windows := c.splitter.Windows(text)
	chunks := windows.Chunks
	if len(chunks) == 0 {
		chunks = []string{text}
	}

	merged := make(domain.ExtractedData)
	for i, chunk := range chunks {
		data, err := c.extractWindow(ctx, chunk, category)
		if err != nil {
			if len(chunks) > 1 {
				return nil, fmt.Errorf("window %d of %d: %w", i+1, len(chunks), err)
			}
			return nil, err
		}
		mergeWindow(merged, data)
	}

	if windows.Truncated() {
		c.logger.Warn("extraction_text_truncated",
			"category", category,
			"windows", len(chunks),
			"processed_runes", windows.CoveredRunes,
			"total_runes", windows.TotalRunes,
		)
		merged = merged.WithNote(domain.ExtractionNote{
			Truncated:      true,
			Windows:        len(chunks),
			ProcessedRunes: windows.CoveredRunes,
			TotalRunes:     windows.TotalRunes,
		})
	}
	return merged, nil
}

func (c *Client) extractWindow(ctx context.Context, text string, category domain.DocumentCategory) (domain.ExtractedData, error) {
	var data domain.ExtractedData
	err := c.call(ctx, "extract_data", func(ctx context.Context) error {
		out, err := c.extractor.ExtractData(ctx, text, category)
		if err != nil {
			return err
		}
		data = out
		return nil
	})
	if err != nil {
		return nil, c.surface("extract data", err, domain.ErrExtraction)
	}
	return data, nil
}

func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	return c.executor.Execute(ctx, operation, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.WrapError(domain.ErrTemporary, operation, fmt.Errorf("rate limiter: %w", err))
		}
		return fn(ctx)
	}, classifyError)
}

// surface turns an exhausted or permanent failure into a domain error kind.
// Caller cancellation is passed through untouched.
func (c *Client) surface(operation string, err error, kind error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case resilience.IsCircuitOpen(err):
		return domain.WrapError(domain.ErrTemporary, operation, fmt.Errorf("extraction backend circuit open: %w", err))
	case errors.Is(err, resilience.ErrAttemptTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrTemporary, operation, err)
	case domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrUnsupportedFormat),
		domain.IsKind(err, domain.ErrUnreadable),
		domain.IsKind(err, domain.ErrClassification),
		domain.IsKind(err, domain.ErrExtraction),
		domain.IsKind(err, domain.ErrInvalidInput):
		return err
	default:
		return domain.WrapError(kind, operation, err)
	}
}

func classifyError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case errors.Is(err, resilience.ErrAttemptTimeout), domain.IsKind(err, domain.ErrTemporary):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		// Permanent document errors do not count against the backend.
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
}

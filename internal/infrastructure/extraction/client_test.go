package extraction

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/infrastructure/resilience"
)

type textStub struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int32) (string, error)
}

func (s *textStub) Extract(ctx context.Context, _ *domain.Document) (string, error) {
	return s.fn(ctx, s.calls.Add(1))
}

type classifierStub struct {
	category domain.DocumentCategory
	err      error
}

func (s classifierStub) Classify(context.Context, string, domain.ClassificationHints) (domain.DocumentCategory, error) {
	return s.category, s.err
}

type dataStub struct {
	data domain.ExtractedData
	err  error
}

func (s dataStub) ExtractData(context.Context, string, domain.DocumentCategory) (domain.ExtractedData, error) {
	return s.data, s.err
}

func fastOptions(attempts int, timeout time.Duration) Options {
	return Options{Resilience: resilience.Config{
		AttemptTimeout:      timeout,
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
	}}
}

func TestExtractTextRetriesTemporaryFailures(t *testing.T) {
	text := &textStub{fn: func(_ context.Context, call int32) (string, error) {
		if call < 3 {
			return "", domain.WrapError(domain.ErrTemporary, "extract", errors.New("503"))
		}
		return "page one", nil
	}}
	client := NewClient(text, classifierStub{}, dataStub{}, fastOptions(3, 0), nil)

	got, err := client.ExtractText(context.Background(), &domain.Document{ID: "doc-1"})
	if err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}
	if got != "page one" || text.calls.Load() != 3 {
		t.Fatalf("unexpected result %q after %d calls", got, text.calls.Load())
	}
}

func TestExtractTextTimeoutSurfacesAsTemporary(t *testing.T) {
	text := &textStub{fn: func(ctx context.Context, _ int32) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	client := NewClient(text, classifierStub{}, dataStub{}, fastOptions(2, 5*time.Millisecond), nil)

	_, err := client.ExtractText(context.Background(), &domain.Document{ID: "doc-1"})
	if !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error after timeouts, got %v", err)
	}
	if text.calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", text.calls.Load())
	}
	if got := domain.FailureReason(domain.ProcessingExtractingText, err); got != "text extraction failed: extraction service unavailable after retries" {
		t.Fatalf("unexpected failure reason %q", got)
	}
}

func TestExtractTextPermanentFailureIsNotRetried(t *testing.T) {
	text := &textStub{fn: func(context.Context, int32) (string, error) {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, "extract", errors.New("image/heic"))
	}}
	client := NewClient(text, classifierStub{}, dataStub{}, fastOptions(3, 0), nil)

	_, err := client.ExtractText(context.Background(), &domain.Document{ID: "doc-1"})
	if !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	if text.calls.Load() != 1 {
		t.Fatalf("permanent failure retried %d times", text.calls.Load())
	}
}

func TestClassifyWrapsUnknownErrors(t *testing.T) {
	client := NewClient(&textStub{}, classifierStub{err: errors.New("boom")}, dataStub{}, fastOptions(1, 0), nil)

	_, err := client.Classify(context.Background(), "text", domain.ClassificationHints{})
	if !errors.Is(err, domain.ErrClassification) {
		t.Fatalf("expected classification error, got %v", err)
	}
}

func TestExtractDataPassesThrough(t *testing.T) {
	client := NewClient(&textStub{}, classifierStub{}, dataStub{data: domain.ExtractedData{"provider": "City Clinic"}}, fastOptions(1, 0), nil)

	data, err := client.ExtractData(context.Background(), "text", domain.CategoryMedicalBills)
	if err != nil {
		t.Fatalf("ExtractData() error = %v", err)
	}
	if data["provider"] != "City Clinic" {
		t.Fatalf("unexpected data %+v", data)
	}
}

func TestCancelledCallerIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	text := &textStub{fn: func(context.Context, int32) (string, error) {
		cancel()
		return "", domain.WrapError(domain.ErrTemporary, "extract", errors.New("503"))
	}}
	client := NewClient(text, classifierStub{}, dataStub{}, fastOptions(3, 0), nil)

	_, err := client.ExtractText(ctx, &domain.Document{ID: "doc-1"})
	if err == nil || text.calls.Load() != 1 {
		t.Fatalf("expected single attempt and error, got %d calls, err=%v", text.calls.Load(), err)
	}
}

func TestRateLimiterHonoursCancellation(t *testing.T) {
	text := &textStub{fn: func(context.Context, int32) (string, error) { return "ok", nil }}
	opts := fastOptions(1, 0)
	opts.RateLimit = 0.001
	opts.Burst = 1
	client := NewClient(text, classifierStub{}, dataStub{}, opts, nil)

	if _, err := client.ExtractText(context.Background(), &domain.Document{}); err != nil {
		t.Fatalf("first call uses the burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := client.ExtractText(ctx, &domain.Document{}); err == nil {
		t.Fatalf("expected limiter to refuse a call it cannot serve before the deadline")
	}
}

type windowStub struct {
	calls atomic.Int32
	fn    func(ctx context.Context, call int32, text string) (domain.ExtractedData, error)
}

func (s *windowStub) ExtractData(ctx context.Context, text string, _ domain.DocumentCategory) (domain.ExtractedData, error) {
	return s.fn(ctx, s.calls.Add(1), text)
}

func windowedOptions(maxWindows int) Options {
	opts := fastOptions(1, 0)
	opts.WindowRunes = 100
	opts.WindowOverlap = 0
	opts.MaxWindows = maxWindows
	return opts
}

// longRecord is about 340 runes, several 100-rune windows.
var longRecord = strings.Repeat("Visit note line.\n", 19) + "Final visit: discharged."

func TestExtractDataMergesWindows(t *testing.T) {
	stub := &windowStub{fn: func(_ context.Context, call int32, _ string) (domain.ExtractedData, error) {
		if call == 1 {
			return domain.ExtractedData{
				"provider":       "City Clinic",
				"statement_date": "",
				"line_items":     []any{map[string]any{"date": "2024-01-05", "amount": 500.0}},
			}, nil
		}
		return domain.ExtractedData{
			"provider":       "Other Name",
			"statement_date": "2024-02-01",
			"line_items": []any{
				map[string]any{"date": "2024-01-05", "amount": 500.0},
				map[string]any{"date": "2024-01-20", "amount": 75.0},
			},
		}, nil
	}}
	client := NewClient(&textStub{}, classifierStub{}, stub, windowedOptions(0), nil)

	data, err := client.ExtractData(context.Background(), longRecord, domain.CategoryMedicalBills)
	if err != nil {
		t.Fatalf("ExtractData() error = %v", err)
	}
	if stub.calls.Load() < 3 {
		t.Fatalf("expected one call per window, got %d", stub.calls.Load())
	}
	if data["provider"] != "City Clinic" || data["statement_date"] != "2024-02-01" {
		t.Fatalf("unexpected scalar merge: %+v", data)
	}
	if items, _ := data["line_items"].([]any); len(items) != 2 {
		t.Fatalf("expected repeated line item dropped, got %+v", items)
	}
	if _, ok := data.Note(); ok {
		t.Fatalf("fully read text must not carry a truncation note")
	}
}

func TestExtractDataReportsTruncatedText(t *testing.T) {
	var sawFinal atomic.Bool
	stub := &windowStub{fn: func(_ context.Context, _ int32, text string) (domain.ExtractedData, error) {
		if strings.Contains(text, "Final visit") {
			sawFinal.Store(true)
		}
		return domain.ExtractedData{"provider": "City Clinic"}, nil
	}}
	client := NewClient(&textStub{}, classifierStub{}, stub, windowedOptions(2), nil)

	data, err := client.ExtractData(context.Background(), longRecord, domain.CategoryMedicalRecords)
	if err != nil {
		t.Fatalf("ExtractData() error = %v", err)
	}
	if stub.calls.Load() != 2 || sawFinal.Load() {
		t.Fatalf("expected two capped windows, got %d calls (final seen: %v)", stub.calls.Load(), sawFinal.Load())
	}
	note, ok := data.Note()
	if !ok || !note.Truncated || note.Windows != 2 {
		t.Fatalf("expected truncation note, got %+v (present %v)", note, ok)
	}
	if note.ProcessedRunes >= note.TotalRunes || note.TotalRunes != utf8.RuneCountInString(longRecord) {
		t.Fatalf("unexpected rune counts: %+v", note)
	}
	if data["provider"] != "City Clinic" {
		t.Fatalf("fields must survive next to the note: %+v", data)
	}
}

func TestEachWindowGetsItsOwnAttemptBudget(t *testing.T) {
	stub := &windowStub{fn: func(ctx context.Context, _ int32, _ string) (domain.ExtractedData, error) {
		select {
		case <-time.After(40 * time.Millisecond):
			return domain.ExtractedData{"provider": "City Clinic"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	opts := windowedOptions(0)
	opts.Resilience.AttemptTimeout = 100 * time.Millisecond
	client := NewClient(&textStub{}, classifierStub{}, stub, opts, nil)

	// Five windows take longer together than one attempt allows.
	if _, err := client.ExtractData(context.Background(), longRecord, domain.CategoryMedicalRecords); err != nil {
		t.Fatalf("ExtractData() error = %v", err)
	}
	if stub.calls.Load() < 4 {
		t.Fatalf("expected at least 4 windows, got %d", stub.calls.Load())
	}
}

func TestWindowFailureNamesTheWindow(t *testing.T) {
	stub := &windowStub{fn: func(_ context.Context, call int32, _ string) (domain.ExtractedData, error) {
		if call == 2 {
			return nil, domain.WrapError(domain.ErrExtraction, "parse extraction json", errors.New("unexpected end of JSON input"))
		}
		return domain.ExtractedData{}, nil
	}}
	client := NewClient(&textStub{}, classifierStub{}, stub, windowedOptions(0), nil)

	_, err := client.ExtractData(context.Background(), longRecord, domain.CategoryMedicalRecords)
	if !errors.Is(err, domain.ErrExtraction) || !strings.Contains(err.Error(), "window 2 of") {
		t.Fatalf("expected extraction error for window 2, got %v", err)
	}
}

func TestMergeWindowNestedObjects(t *testing.T) {
	dst := map[string]any{"coverage_limits": map[string]any{"bodily_injury": 50000.0}}
	mergeWindow(dst, map[string]any{"coverage_limits": map[string]any{"bodily_injury": 1.0, "property": 25000.0}, "carrier": "Acme"})
	limits := dst["coverage_limits"].(map[string]any)
	if limits["bodily_injury"] != 50000.0 || limits["property"] != 25000.0 || dst["carrier"] != "Acme" {
		t.Fatalf("unexpected merge: %+v", dst)
	}
}

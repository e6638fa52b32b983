// Package aggregation recomputes a case's derived record from its completed
// documents. Every function here is pure: the same documents and options
// always produce the same output, and the previous derived state is never read.
package aggregation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

// TieBreak selects how conflicting field values are ordered.
type TieBreak string

const (
	// TieBreakDocumentDate prefers the later document date, then the later upload.
	TieBreakDocumentDate TieBreak = "document_date"
	// TieBreakUploadTime ignores document dates and prefers the later upload.
	TieBreakUploadTime TieBreak = "upload_time"
)

func ParseTieBreak(raw string) (TieBreak, error) {
	switch TieBreak(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TieBreakDocumentDate:
		return TieBreakDocumentDate, nil
	case TieBreakUploadTime:
		return TieBreakUploadTime, nil
	}
	return "", domain.WrapError(domain.ErrInvalidInput, "parse tie break", fmt.Errorf("unknown policy %q", raw))
}

// DedupField is one component of the damages line-item identity.
type DedupField string

const (
	DedupProvider    DedupField = "provider"
	DedupDate        DedupField = "date"
	DedupAmount      DedupField = "amount"
	DedupDescription DedupField = "description"
)

func ParseDedupFields(raw string) ([]DedupField, error) {
	var out []DedupField
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		switch f := DedupField(part); f {
		case DedupProvider, DedupDate, DedupAmount, DedupDescription:
			out = append(out, f)
		default:
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse dedup fields", fmt.Errorf("unknown field %q", part))
		}
	}
	if len(out) == 0 {
		return DefaultDedupFields(), nil
	}
	return out, nil
}

func DefaultDedupFields() []DedupField {
	return []DedupField{DedupProvider, DedupDate, DedupAmount}
}

type Options struct {
	GapThresholdDays int
	TieBreak         TieBreak
	DedupFields      []DedupField
}

func DefaultOptions() Options {
	return Options{
		GapThresholdDays: 30,
		TieBreak:         TieBreakDocumentDate,
		DedupFields:      DefaultDedupFields(),
	}
}

func (o Options) normalized() Options {
	if o.GapThresholdDays <= 0 {
		o.GapThresholdDays = 30
	}
	if o.TieBreak == "" {
		o.TieBreak = TieBreakDocumentDate
	}
	if len(o.DedupFields) == 0 {
		o.DedupFields = DefaultDedupFields()
	}
	return o
}

// source is a completed document with the date used for ordering.
type source struct {
	doc  domain.Document
	date domain.Date
	note domain.ExtractionNote
}

// Aggregate builds every derived field except the warnings. Documents that
// are not COMPLETED are ignored.
func Aggregate(docs []domain.Document, opts Options) domain.CaseDerived {
	opts = opts.normalized()
	sources := orderSources(docs, opts.TieBreak)

	diag := &diagnostics{}
	derived := domain.CaseDerived{
		ExtractedData:      mergeExtractions(sources),
		TreatmentTimeline:  buildTimeline(sources, opts.GapThresholdDays, diag),
		DamagesCalculation: calculateDamages(sources, opts.DedupFields, diag),
		AttorneyWarnings:   []domain.Warning{},
		SourceDocumentIDs:  make([]string, 0, len(sources)),
	}
	for _, src := range sources {
		derived.SourceDocumentIDs = append(derived.SourceDocumentIDs, src.doc.ID)
		if src.note.Truncated {
			diag.add(src, domain.ExtractionNoteKey, "only %d of %d characters reached data extraction; later text was not read",
				src.note.ProcessedRunes, src.note.TotalRunes)
		}
	}
	sort.Strings(derived.SourceDocumentIDs)
	derived.Diagnostics = diag.sorted()
	return derived
}

// Watermark is the latest update time across a case's documents. A derived
// record computed at a watermark reflects every document change up to it.
func Watermark(docs []domain.Document) time.Time {
	var mark time.Time
	for _, d := range docs {
		if d.UpdatedAt.After(mark) {
			mark = d.UpdatedAt
		}
		if d.CreatedAt.After(mark) {
			mark = d.CreatedAt
		}
	}
	return mark.UTC()
}

// orderSources sorts completed documents from oldest to newest so later
// entries win when merged.
func orderSources(docs []domain.Document, tieBreak TieBreak) []source {
	out := make([]source, 0, len(docs))
	for _, d := range docs {
		if d.Status != domain.ProcessingCompleted {
			continue
		}
		note, _ := d.ExtractedData.Note()
		d.ExtractedData = d.ExtractedData.Fields()
		out = append(out, source{doc: d, date: documentDate(d.ExtractedData), note: note})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if tieBreak == TieBreakDocumentDate && !a.date.Equal(b.date.Time) {
			return a.date.Before(b.date.Time)
		}
		if !a.doc.CreatedAt.Equal(b.doc.CreatedAt) {
			return a.doc.CreatedAt.Before(b.doc.CreatedAt)
		}
		return a.doc.ID < b.doc.ID
	})
	return out
}

type diagnostics struct {
	items []domain.AggregationDiagnostic
}

func (d *diagnostics) add(src source, field string, format string, args ...any) {
	d.items = append(d.items, domain.AggregationDiagnostic{
		DocumentID: src.doc.ID,
		Category:   src.doc.Category,
		Field:      field,
		Message:    fmt.Sprintf(format, args...),
	})
}

func (d *diagnostics) sorted() []domain.AggregationDiagnostic {
	out := append([]domain.AggregationDiagnostic(nil), d.items...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].Field < out[j].Field
	})
	return out
}

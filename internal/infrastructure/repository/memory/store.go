// Package memory is an in-process implementation of the case, document and
// generated-document repositories for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

type Store struct {
	mu        sync.RWMutex
	cases     map[string]domain.Case
	docs      map[string]domain.Document
	generated map[string][]domain.GeneratedDocument
	versions  map[string]int
}

func New() *Store {
	return &Store{
		cases:     make(map[string]domain.Case),
		docs:      make(map[string]domain.Document),
		generated: make(map[string][]domain.GeneratedDocument),
		versions:  make(map[string]int),
	}
}

// Each accessor views the store through one repository port.
func (s *Store) Cases() *CaseRepository          { return &CaseRepository{s: s} }
func (s *Store) Documents() *DocumentRepository  { return &DocumentRepository{s: s} }
func (s *Store) Generated() *GeneratedRepository { return &GeneratedRepository{s: s} }

type CaseRepository struct{ s *Store }

func (r *CaseRepository) Create(_ context.Context, c *domain.Case) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.cases[c.ID]; ok {
		return domain.WrapError(domain.ErrConflict, "create case", fmt.Errorf("case %s already exists", c.ID))
	}
	r.s.cases[c.ID] = copyCase(*c)
	return nil
}

func (r *CaseRepository) GetByID(_ context.Context, id string) (*domain.Case, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.cases[id]
	if !ok {
		return nil, domain.ErrCaseNotFound
	}
	out := copyCase(c)
	return &out, nil
}

func (r *CaseRepository) UpdateStatus(_ context.Context, id string, from, to domain.CaseStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.cases[id]
	if !ok {
		return domain.ErrCaseNotFound
	}
	if c.Status != from {
		return domain.WrapError(domain.ErrConflict, "update case status", fmt.Errorf("status is %s, expected %s", c.Status, from))
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	r.s.cases[id] = c
	return nil
}

func (r *CaseRepository) ReplaceDerived(_ context.Context, id string, derived domain.CaseDerived, aggregatedAt, watermark time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.cases[id]
	if !ok {
		return false, domain.ErrCaseNotFound
	}
	if c.AggregationWatermark != nil && c.AggregationWatermark.After(watermark) {
		return false, nil
	}
	stored := copyDerived(derived)
	c.Derived = &stored
	c.AggregatedAt = &aggregatedAt
	c.AggregationWatermark = &watermark
	c.UpdatedAt = aggregatedAt
	r.s.cases[id] = c
	return true, nil
}

type DocumentRepository struct{ s *Store }

func (r *DocumentRepository) Create(_ context.Context, doc *domain.Document) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.cases[doc.CaseID]; !ok {
		return domain.ErrCaseNotFound
	}
	if _, ok := r.s.docs[doc.ID]; ok {
		return domain.WrapError(domain.ErrConflict, "create document", fmt.Errorf("document %s already exists", doc.ID))
	}
	r.s.docs[doc.ID] = copyDocument(*doc)
	return nil
}

func (r *DocumentRepository) GetByID(_ context.Context, id string) (*domain.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	doc, ok := r.s.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	out := copyDocument(doc)
	return &out, nil
}

func (r *DocumentRepository) ListByCase(_ context.Context, caseID string) ([]domain.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.Document, 0)
	for _, doc := range r.s.docs {
		if doc.CaseID == caseID {
			out = append(out, copyDocument(doc))
		}
	}
	sortDocuments(out)
	return out, nil
}

func (r *DocumentRepository) Advance(_ context.Context, id string, update domain.DocumentUpdate) error {
	if err := domain.ValidateDocumentTransition(update.From, update.To); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	doc, ok := r.s.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	if doc.Status != update.From {
		return domain.WrapError(domain.ErrConflict, "advance document", fmt.Errorf("status is %s, expected %s", doc.Status, update.From))
	}
	update.Apply(&doc)
	r.s.docs[id] = copyDocument(doc)
	return nil
}

func (r *DocumentRepository) ListUnfinished(_ context.Context, limit int) ([]domain.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.Document, 0)
	for _, doc := range r.s.docs {
		if !doc.Status.Terminal() {
			out = append(out, copyDocument(doc))
		}
	}
	sortDocuments(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type GeneratedRepository struct{ s *Store }

func versionKey(caseID string, docType domain.DocumentType) string {
	return caseID + "|" + string(docType)
}

func (r *GeneratedRepository) CreateVersioned(ctx context.Context, doc *domain.GeneratedDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.cases[doc.CaseID]; !ok {
		return domain.ErrCaseNotFound
	}
	key := versionKey(doc.CaseID, doc.DocumentType)
	next := r.s.versions[key] + 1
	r.s.versions[key] = next

	stored := *doc
	stored.Version = next
	stored.Parameters = maps.Clone(doc.Parameters)
	stored.Warnings = append([]domain.Warning(nil), doc.Warnings...)
	r.s.generated[doc.CaseID] = append(r.s.generated[doc.CaseID], stored)
	doc.Version = next
	return nil
}

func (r *GeneratedRepository) ListByCase(_ context.Context, caseID string, docType domain.DocumentType) ([]domain.GeneratedDocument, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.GeneratedDocument, 0)
	for _, g := range r.s.generated[caseID] {
		if docType == "" || g.DocumentType == docType {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DocumentType != out[j].DocumentType {
			return out[i].DocumentType < out[j].DocumentType
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

func (r *GeneratedRepository) Exists(_ context.Context, caseID string, docType domain.DocumentType) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.versions[versionKey(caseID, docType)] > 0, nil
}

func copyCase(c domain.Case) domain.Case {
	if c.Derived != nil {
		derived := copyDerived(*c.Derived)
		c.Derived = &derived
	}
	if c.AggregatedAt != nil {
		at := *c.AggregatedAt
		c.AggregatedAt = &at
	}
	if c.AggregationWatermark != nil {
		mark := *c.AggregationWatermark
		c.AggregationWatermark = &mark
	}
	return c
}

// copyDerived shares no slice or map with d.
func copyDerived(d domain.CaseDerived) domain.CaseDerived {
	if d.ExtractedData.Fields != nil {
		fields := make(map[domain.DocumentCategory]map[string]any, len(d.ExtractedData.Fields))
		for category, values := range d.ExtractedData.Fields {
			fields[category] = copyFields(values)
		}
		d.ExtractedData.Fields = fields
	}
	d.ExtractedData.Superseded = slices.Clone(d.ExtractedData.Superseded)
	for i := range d.ExtractedData.Superseded {
		d.ExtractedData.Superseded[i].Value = copyValue(d.ExtractedData.Superseded[i].Value)
	}
	d.TreatmentTimeline.Events = slices.Clone(d.TreatmentTimeline.Events)
	d.TreatmentTimeline.Gaps = slices.Clone(d.TreatmentTimeline.Gaps)
	d.DamagesCalculation.LineItems = slices.Clone(d.DamagesCalculation.LineItems)
	if d.DamagesCalculation.LostWagePeriod != nil {
		period := *d.DamagesCalculation.LostWagePeriod
		d.DamagesCalculation.LostWagePeriod = &period
	}
	d.AttorneyWarnings = slices.Clone(d.AttorneyWarnings)
	d.Diagnostics = slices.Clone(d.Diagnostics)
	d.SourceDocumentIDs = slices.Clone(d.SourceDocumentIDs)
	return d
}

func copyDocument(d domain.Document) domain.Document {
	if d.ExtractedData != nil {
		d.ExtractedData = copyFields(d.ExtractedData)
	}
	return d
}

func copyFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyFields(t)
	case domain.ExtractedData:
		return domain.ExtractedData(copyFields(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

func sortDocuments(docs []domain.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}

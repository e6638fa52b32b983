package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/ports"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/warnings"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// storeFake implements the three repository ports over maps.
type storeFake struct {
	mu        sync.Mutex
	cases     map[string]domain.Case
	docs      map[string]domain.Document
	generated []domain.GeneratedDocument
	versions  map[string]int

	updates        []domain.DocumentUpdate
	statusWrites   []domain.CaseStatus
	replaceCalls   int
	advanceErr     error
	createGenErr   error
	statusConflict int
	onReplace      func()
}

func newStoreFake() *storeFake {
	return &storeFake{
		cases:    make(map[string]domain.Case),
		docs:     make(map[string]domain.Document),
		versions: make(map[string]int),
	}
}

func (f *storeFake) addCase(c domain.Case) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cases[c.ID] = c
}

func (f *storeFake) addDocument(d domain.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[d.ID] = d
}

func (f *storeFake) caseByID(id string) domain.Case {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cases[id]
}

func (f *storeFake) docByID(id string) domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id]
}

type caseRepoFake struct{ *storeFake }
type docRepoFake struct{ *storeFake }
type generatedRepoFake struct{ *storeFake }

func (f caseRepoFake) Create(_ context.Context, c *domain.Case) error {
	f.addCase(*c)
	return nil
}

func (f caseRepoFake) GetByID(_ context.Context, id string) (*domain.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	if !ok {
		return nil, domain.ErrCaseNotFound
	}
	return &c, nil
}

func (f caseRepoFake) UpdateStatus(_ context.Context, id string, from, to domain.CaseStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusConflict > 0 {
		f.statusConflict--
		return domain.WrapError(domain.ErrConflict, "update case status", errors.New("stale"))
	}
	c, ok := f.cases[id]
	if !ok {
		return domain.ErrCaseNotFound
	}
	if c.Status != from {
		return domain.WrapError(domain.ErrConflict, "update case status", errors.New("stale"))
	}
	c.Status = to
	f.cases[id] = c
	f.statusWrites = append(f.statusWrites, to)
	return nil
}

func (f caseRepoFake) ReplaceDerived(_ context.Context, id string, derived domain.CaseDerived, at, watermark time.Time) (bool, error) {
	if f.onReplace != nil {
		f.onReplace()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls++
	c, ok := f.cases[id]
	if !ok {
		return false, domain.ErrCaseNotFound
	}
	if c.AggregationWatermark != nil && c.AggregationWatermark.After(watermark) {
		return false, nil
	}
	c.Derived = &derived
	c.AggregatedAt = &at
	c.AggregationWatermark = &watermark
	f.cases[id] = c
	return true, nil
}

func (f docRepoFake) Create(_ context.Context, d *domain.Document) error {
	f.addDocument(*d)
	return nil
}

func (f docRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return &d, nil
}

func (f docRepoFake) ListByCase(_ context.Context, caseID string) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Document
	for _, d := range f.docs {
		if d.CaseID == caseID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f docRepoFake) Advance(ctx context.Context, id string, update domain.DocumentUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advanceErr != nil {
		return f.advanceErr
	}
	d, ok := f.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	if d.Status != update.From {
		return domain.WrapError(domain.ErrConflict, "advance document", errors.New("stale"))
	}
	update.Apply(&d)
	f.docs[id] = d
	f.updates = append(f.updates, update)
	return nil
}

func (f docRepoFake) ListUnfinished(_ context.Context, _ int) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Document
	for _, d := range f.docs {
		if !d.Status.Terminal() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f generatedRepoFake) CreateVersioned(_ context.Context, g *domain.GeneratedDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createGenErr != nil {
		return f.createGenErr
	}
	key := g.CaseID + "|" + string(g.DocumentType)
	f.versions[key]++
	g.Version = f.versions[key]
	f.generated = append(f.generated, *g)
	return nil
}

func (f generatedRepoFake) ListByCase(_ context.Context, caseID string, docType domain.DocumentType) ([]domain.GeneratedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.GeneratedDocument
	for _, g := range f.generated {
		if g.CaseID == caseID && (docType == "" || g.DocumentType == docType) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f generatedRepoFake) Exists(_ context.Context, caseID string, docType domain.DocumentType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versions[caseID+"|"+string(docType)] > 0, nil
}

// extractionFake returns canned results per document filename.
type extractionFake struct {
	mu         sync.Mutex
	texts      map[string]string
	categories map[string]domain.DocumentCategory
	data       map[domain.DocumentCategory]domain.ExtractedData
	textErr    map[string]error
	classErr   error
	calls      []string
}

func newExtractionFake() *extractionFake {
	return &extractionFake{
		texts:      make(map[string]string),
		categories: make(map[string]domain.DocumentCategory),
		data:       make(map[domain.DocumentCategory]domain.ExtractedData),
		textErr:    make(map[string]error),
	}
}

func (f *extractionFake) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *extractionFake) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *extractionFake) ExtractText(ctx context.Context, doc *domain.Document) (string, error) {
	f.record("extract_text")
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.textErr[doc.Filename]; err != nil {
		return "", err
	}
	if text, ok := f.texts[doc.Filename]; ok {
		return text, nil
	}
	return "text of " + doc.Filename, nil
}

func (f *extractionFake) Classify(_ context.Context, text string, _ domain.ClassificationHints) (domain.DocumentCategory, error) {
	f.record("classify")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.classErr != nil {
		return "", f.classErr
	}
	for name, category := range f.categories {
		if strings.Contains(text, name) {
			return category, nil
		}
	}
	return domain.CategoryOther, nil
}

func (f *extractionFake) ExtractData(_ context.Context, _ string, category domain.DocumentCategory) (domain.ExtractedData, error) {
	f.record("extract_data")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[category], nil
}

type queueFake struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (f *queueFake) PublishDocumentUploaded(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, documentID)
	return nil
}

func (f *queueFake) SubscribeDocumentUploaded(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

type storageFake struct {
	saved map[string]string
	err   error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.saved == nil {
		f.saved = make(map[string]string)
	}
	f.saved[key] = string(raw)
	return nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

type rendererFake struct {
	err   error
	views []domain.GenerationView
	mu    sync.Mutex
}

func (f *rendererFake) Render(docType domain.DocumentType, view domain.GenerationView) (domain.RenderedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.RenderedDocument{}, f.err
	}
	f.views = append(f.views, view)
	body := "# " + string(docType) + "\n\nTotal: " + view.Damages.Total.String()
	return domain.RenderedDocument{Content: body, ContentHTML: "<h1>" + string(docType) + "</h1>"}, nil
}

type exporterFake struct {
	mu       sync.Mutex
	exported []string
	err      error
}

func (f *exporterFake) Export(_ context.Context, doc *domain.GeneratedDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exported = append(f.exported, doc.ID)
	return f.err
}

// pipeline wires the use cases over shared fakes.
type pipeline struct {
	store     *storeFake
	client    *extractionFake
	queue     *queueFake
	storage   *storageFake
	renderer  *rendererFake
	exporter  *exporterFake
	status    *CaseStatusService
	coord     *Coordinator
	stage     *StageMachine
	intake    *IntakeUseCase
	generator *GenerateDocumentUseCase
}

func newPipeline(t *testing.T, opts CoordinatorOptions) *pipeline {
	t.Helper()
	p := &pipeline{
		store:    newStoreFake(),
		client:   newExtractionFake(),
		queue:    &queueFake{},
		storage:  &storageFake{},
		renderer: &rendererFake{},
		exporter: &exporterFake{},
	}
	logger := discardLogger()
	cases := caseRepoFake{p.store}
	docs := docRepoFake{p.store}
	generated := generatedRepoFake{p.store}

	p.status = NewCaseStatusService(cases, logger)
	p.coord = NewCoordinator(cases, docs, generated, p.status, warnings.NewDefaultEngine(warnings.DefaultConfig()), opts, nil, logger)
	p.stage = NewStageMachine(docs, cases, p.client, p.coord, nil, logger)
	p.coord.SetProcessor(p.stage)
	p.intake = NewIntakeUseCase(cases, docs, p.storage, p.queue, p.status, logger)
	p.generator = NewGenerateDocumentUseCase(cases, generated, p.renderer, p.status, p.exporter, nil, logger)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.coord.Shutdown(ctx)
	})
	return p
}

func (p *pipeline) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.coord.WaitIdle(ctx); err != nil {
		t.Fatalf("coordinator did not go idle: %v", err)
	}
}

func sampleIntake() domain.CaseIntake {
	return domain.CaseIntake{
		ClientName:       "Dana Reyes",
		IncidentDate:     time.Now().UTC().AddDate(0, -2, 0),
		IncidentType:     "auto_accident",
		Jurisdiction:     "CA",
		DefendantName:    "Sam Driver",
		InsuranceCarrier: "Acme Mutual",
	}
}

var (
	_ ports.CaseRepository              = caseRepoFake{}
	_ ports.DocumentRepository          = docRepoFake{}
	_ ports.GeneratedDocumentRepository = generatedRepoFake{}
	_ ports.ExtractionClient            = (*extractionFake)(nil)
)

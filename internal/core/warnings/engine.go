// Package warnings evaluates an aggregated case record against a registry of
// independent rules and returns severity-ranked attorney warnings.
package warnings

import (
	"sort"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

// Record is the read-only input every rule sees.
type Record struct {
	Intake  domain.CaseIntake
	Derived domain.CaseDerived

	// Categories counts completed documents per category.
	Categories map[domain.DocumentCategory]int
	AsOf       domain.Date
}

func NewRecord(intake domain.CaseIntake, derived domain.CaseDerived, docs []domain.Document, asOf time.Time) Record {
	categories := make(map[domain.DocumentCategory]int)
	for _, d := range docs {
		if d.Status == domain.ProcessingCompleted && d.Category != "" {
			categories[d.Category]++
		}
	}
	return Record{Intake: intake, Derived: derived, Categories: categories, AsOf: domain.NewDate(asOf)}
}

func (r Record) Has(category domain.DocumentCategory) bool {
	return r.Categories[category] > 0
}

// Rule yields at most one warning. The engine stamps Severity onto the
// warning so ordering cannot drift from the declared tier.
type Rule struct {
	Name     string
	Severity domain.Severity
	Evaluate func(Record) (domain.Warning, bool)
}

type Engine struct {
	rules []Rule
}

func NewEngine(rules ...Rule) *Engine {
	e := &Engine{}
	for _, r := range rules {
		e.Register(r)
	}
	return e
}

// NewDefaultEngine registers the built-in rules.
func NewDefaultEngine(cfg Config) *Engine {
	return NewEngine(DefaultRules(cfg)...)
}

// Register appends a rule; within a severity tier, registration order is
// evaluation order.
func (e *Engine) Register(r Rule) {
	if r.Evaluate == nil {
		return
	}
	e.rules = append(e.rules, r)
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Severity.Tier() < e.rules[j].Severity.Tier()
	})
}

func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate runs every rule independently. The result is never nil.
func (e *Engine) Evaluate(rec Record) []domain.Warning {
	out := make([]domain.Warning, 0, len(e.rules))
	for _, r := range e.rules {
		w, ok := r.Evaluate(rec)
		if !ok {
			continue
		}
		w.Severity = r.Severity
		out = append(out, w)
	}
	return out
}

package warnings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/aggregation"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func fixedRule(name string, severity domain.Severity) Rule {
	return Rule{
		Name:     name,
		Severity: severity,
		Evaluate: func(Record) (domain.Warning, bool) {
			return domain.Warning{Category: name}, true
		},
	}
}

func medicalDocs(dates ...string) []domain.Document {
	events := make([]any, 0, len(dates))
	for _, d := range dates {
		events = append(events, map[string]any{"date": d, "provider": "City Clinic"})
	}
	return []domain.Document{
		{
			ID:            "records",
			Category:      domain.CategoryMedicalRecords,
			Status:        domain.ProcessingCompleted,
			ExtractedData: domain.ExtractedData{"events": events},
		},
		{
			ID:            "bill",
			Category:      domain.CategoryMedicalBills,
			Status:        domain.ProcessingCompleted,
			ExtractedData: domain.ExtractedData{"total_amount": 100.0},
		},
	}
}

func recordFor(intake domain.CaseIntake, docs []domain.Document, asOf string) Record {
	derived := aggregation.Aggregate(docs, aggregation.DefaultOptions())
	return NewRecord(intake, derived, docs, day(asOf))
}

func byCategory(ws []domain.Warning, category string) []domain.Warning {
	var out []domain.Warning
	for _, w := range ws {
		if w.Category == category {
			out = append(out, w)
		}
	}
	return out
}

func TestEngineOrdersBySeverityThenRegistration(t *testing.T) {
	engine := NewEngine(
		fixedRule("minor-a", domain.SeverityMinor),
		fixedRule("critical-a", domain.SeverityCritical),
		fixedRule("moderate-a", domain.SeverityModerate),
		fixedRule("critical-b", domain.SeverityCritical),
	)
	engine.Register(fixedRule("moderate-b", domain.SeverityModerate))

	got := engine.Evaluate(Record{})
	want := []string{"critical-a", "critical-b", "moderate-a", "moderate-b", "minor-a"}
	if len(got) != len(want) {
		t.Fatalf("expected %d warnings, got %d", len(want), len(got))
	}
	for i, w := range got {
		if w.Category != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], w.Category)
		}
	}
	if got[0].Severity != domain.SeverityCritical || got[4].Severity != domain.SeverityMinor {
		t.Fatalf("engine must stamp rule severity, got %+v", got)
	}
}

func TestEngineSkipsRulesThatDoNotFire(t *testing.T) {
	engine := NewEngine(Rule{
		Name:     "never",
		Severity: domain.SeverityCritical,
		Evaluate: func(Record) (domain.Warning, bool) { return domain.Warning{}, false },
	})
	got := engine.Evaluate(Record{})
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", got)
	}
}

func TestTreatmentGapProducesSingleWarning(t *testing.T) {
	intake := domain.CaseIntake{IncidentDate: day("2024-01-01"), Jurisdiction: "CA"}
	engine := NewDefaultEngine(DefaultConfig())

	gaps := byCategory(engine.Evaluate(recordFor(intake, medicalDocs("2024-01-01", "2024-02-15"), "2024-03-01")), "treatment_gap")
	if len(gaps) != 1 {
		t.Fatalf("expected exactly one gap warning, got %+v", gaps)
	}
	if !strings.Contains(gaps[0].Message, "2024-01-01 to 2024-02-15 (45 days)") {
		t.Fatalf("gap warning must reference the interval, got %q", gaps[0].Message)
	}
	if gaps[0].Severity != domain.SeverityModerate {
		t.Fatalf("unexpected severity %s", gaps[0].Severity)
	}

	none := byCategory(engine.Evaluate(recordFor(intake, medicalDocs("2024-01-01", "2024-01-21"), "2024-03-01")), "treatment_gap")
	if len(none) != 0 {
		t.Fatalf("expected no gap warning, got %+v", none)
	}
}

func TestStatuteOfLimitationsTiers(t *testing.T) {
	intake := domain.CaseIntake{IncidentDate: day("2023-01-01"), Jurisdiction: "CA"}
	engine := NewDefaultEngine(DefaultConfig())
	docs := medicalDocs("2023-01-02")

	cases := []struct {
		asOf     string
		severity domain.Severity
		contains string
	}{
		{asOf: "2024-12-01", severity: domain.SeverityCritical, contains: "31 days remaining"},
		{asOf: "2024-09-01", severity: domain.SeverityModerate, contains: "122 days remaining"},
		{asOf: "2025-02-01", severity: domain.SeverityCritical, contains: "expired on 2025-01-01"},
	}
	for _, tc := range cases {
		got := byCategory(engine.Evaluate(recordFor(intake, docs, tc.asOf)), "statute_of_limitations")
		if len(got) != 1 {
			t.Fatalf("asOf %s: expected one statute warning, got %+v", tc.asOf, got)
		}
		if got[0].Severity != tc.severity || !strings.Contains(got[0].Message, tc.contains) {
			t.Fatalf("asOf %s: unexpected warning %+v", tc.asOf, got[0])
		}
	}

	if got := byCategory(engine.Evaluate(recordFor(intake, docs, "2023-06-01")), "statute_of_limitations"); len(got) != 0 {
		t.Fatalf("expected no statute warning far from the deadline, got %+v", got)
	}
}

func TestUnknownJurisdictionWarns(t *testing.T) {
	intake := domain.CaseIntake{IncidentDate: day("2024-01-01"), Jurisdiction: "Narnia"}
	got := byCategory(NewDefaultEngine(DefaultConfig()).Evaluate(recordFor(intake, medicalDocs("2024-01-02"), "2024-02-01")), "statute_of_limitations")
	if len(got) != 1 || !strings.Contains(got[0].Message, "Narnia") {
		t.Fatalf("expected unknown jurisdiction warning, got %+v", got)
	}
}

func TestMissingExpectedCategories(t *testing.T) {
	intake := domain.CaseIntake{IncidentDate: day("2024-01-01"), Jurisdiction: "TX", IncidentType: "Auto Accident"}
	got := byCategory(NewDefaultEngine(DefaultConfig()).Evaluate(recordFor(intake, medicalDocs("2024-01-02"), "2024-02-01")), "documentation")
	if len(got) != 1 {
		t.Fatalf("expected one documentation warning, got %+v", got)
	}
	if !strings.Contains(got[0].Message, "police report") || !strings.Contains(got[0].Message, "insurance policy") {
		t.Fatalf("expected missing police report and insurance policy, got %q", got[0].Message)
	}
}

func TestNoMedicalDocumentationIsCriticalAndFirst(t *testing.T) {
	intake := domain.CaseIntake{IncidentDate: day("2024-01-01"), Jurisdiction: "TX"}
	docs := []domain.Document{{ID: "police", Category: domain.CategoryPoliceReport, Status: domain.ProcessingCompleted}}

	got := NewDefaultEngine(DefaultConfig()).Evaluate(recordFor(intake, docs, "2024-02-01"))
	if len(got) == 0 || got[0].Severity != domain.SeverityCritical || got[0].Category != "documentation" {
		t.Fatalf("expected critical documentation warning first, got %+v", got)
	}
}

func TestDelayedInitialTreatment(t *testing.T) {
	intake := domain.CaseIntake{IncidentDate: day("2024-01-01"), Jurisdiction: "TX"}
	got := byCategory(NewDefaultEngine(DefaultConfig()).Evaluate(recordFor(intake, medicalDocs("2024-01-20"), "2024-02-01")), "treatment")
	if len(got) != 1 || !strings.Contains(got[0].Message, "19 days") {
		t.Fatalf("expected delayed treatment warning, got %+v", got)
	}
}

func TestDamagesInconsistencyLostWagesWithoutMedicalBills(t *testing.T) {
	intake := domain.CaseIntake{IncidentDate: day("2024-01-01"), Jurisdiction: "TX"}
	docs := []domain.Document{{
		ID:       "wages",
		Category: domain.CategoryWageDocumentation,
		Status:   domain.ProcessingCompleted,
		ExtractedData: domain.ExtractedData{
			"lost_wages":        1200.0,
			"missed_work_start": "2024-01-02",
			"missed_work_end":   "2024-01-16",
		},
	}}

	got := byCategory(NewDefaultEngine(DefaultConfig()).Evaluate(recordFor(intake, docs, "2024-02-01")), "damages")
	if len(got) != 1 || !strings.Contains(got[0].Message, "$1,200.00") {
		t.Fatalf("expected damages inconsistency warning, got %+v", got)
	}
}

func TestLookupJurisdictionByCodeOrName(t *testing.T) {
	cfg := DefaultConfig()
	for _, raw := range []string{"CA", "ca", " California ", "california"} {
		j, ok := cfg.LookupJurisdiction(raw)
		if !ok || j.Years != 2 {
			t.Fatalf("LookupJurisdiction(%q) = %+v, %v", raw, j, ok)
		}
	}
	if _, ok := cfg.LookupJurisdiction(""); ok {
		t.Fatalf("empty jurisdiction must not match")
	}
}

func TestLoadConfigOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := `
statute_of_limitations:
  critical_days: 30
  jurisdictions:
    ca: {name: California, years: 3}
    GU: {name: Guam, years: 2}
expected_categories:
  boating accident: [INCIDENT_REPORT]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Statute.CriticalDays != 30 || cfg.Statute.WarningDays != 180 {
		t.Fatalf("unexpected statute windows: %+v", cfg.Statute)
	}
	if j, _ := cfg.LookupJurisdiction("CA"); j.Years != 3 {
		t.Fatalf("expected CA override, got %+v", j)
	}
	if _, ok := cfg.LookupJurisdiction("Guam"); !ok {
		t.Fatalf("expected new jurisdiction")
	}
	if _, ok := cfg.LookupJurisdiction("NY"); !ok {
		t.Fatalf("defaults must survive the overlay")
	}
	if got := cfg.ExpectedCategories["boating_accident"]; len(got) != 1 {
		t.Fatalf("expected normalized incident type key, got %+v", cfg.ExpectedCategories)
	}
}

func TestLoadConfigRejectsInvalidWindows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("statute_of_limitations:\n  critical_days: 400\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := LoadConfig(path); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

package warnings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

// DefaultRules lists the built-in rules in declaration order.
func DefaultRules(cfg Config) []Rule {
	return []Rule{
		NoMedicalDocumentationRule(),
		StatuteImminentRule(cfg.Statute),
		StatuteApproachingRule(cfg.Statute),
		UnknownJurisdictionRule(cfg.Statute),
		MissingCategoriesRule(cfg.ExpectedCategories),
		TreatmentGapRule(),
		DelayedTreatmentRule(cfg.Treatment),
		DamagesInconsistencyRule(cfg.Damages),
		ConflictingValuesRule(),
		PreExistingConditionRule(),
	}
}

func NoMedicalDocumentationRule() Rule {
	return Rule{
		Name:     "no_medical_documentation",
		Severity: domain.SeverityCritical,
		Evaluate: func(r Record) (domain.Warning, bool) {
			if r.Has(domain.CategoryMedicalRecords) || r.Has(domain.CategoryMedicalBills) {
				return domain.Warning{}, false
			}
			return domain.Warning{
				Category:       "documentation",
				Message:        "No medical records or medical bills have been processed for this case.",
				Recommendation: "Request treatment records and itemized bills from every provider before preparing a demand.",
			}, true
		},
	}
}

// statuteDeadline reports the filing deadline and the days left as of r.AsOf.
func statuteDeadline(cfg StatuteConfig, r Record) (domain.Date, int, bool) {
	if r.Intake.IncidentDate.IsZero() || r.AsOf.IsZero() {
		return domain.Date{}, 0, false
	}
	j, ok := Config{Statute: cfg}.LookupJurisdiction(r.Intake.Jurisdiction)
	if !ok {
		return domain.Date{}, 0, false
	}
	deadline := domain.NewDate(r.Intake.IncidentDate.AddDate(j.Years, 0, 0))
	return deadline, domain.DaysBetween(r.AsOf, deadline), true
}

func StatuteImminentRule(cfg StatuteConfig) Rule {
	return Rule{
		Name:     "statute_of_limitations_imminent",
		Severity: domain.SeverityCritical,
		Evaluate: func(r Record) (domain.Warning, bool) {
			deadline, left, ok := statuteDeadline(cfg, r)
			if !ok || left > cfg.CriticalDays {
				return domain.Warning{}, false
			}
			if left < 0 {
				return domain.Warning{
					Category:       "statute_of_limitations",
					Message:        fmt.Sprintf("The statute of limitations for %s appears to have expired on %s.", r.Intake.Jurisdiction, deadline),
					Recommendation: "Confirm tolling or exceptions immediately before any further work on the claim.",
				}, true
			}
			return domain.Warning{
				Category:       "statute_of_limitations",
				Message:        fmt.Sprintf("The statute of limitations for %s expires on %s (%d days remaining).", r.Intake.Jurisdiction, deadline, left),
				Recommendation: "Prioritize this case and prepare to file suit if settlement is not reached before the deadline.",
			}, true
		},
	}
}

func StatuteApproachingRule(cfg StatuteConfig) Rule {
	return Rule{
		Name:     "statute_of_limitations_approaching",
		Severity: domain.SeverityModerate,
		Evaluate: func(r Record) (domain.Warning, bool) {
			deadline, left, ok := statuteDeadline(cfg, r)
			if !ok || left <= cfg.CriticalDays || left > cfg.WarningDays {
				return domain.Warning{}, false
			}
			return domain.Warning{
				Category:       "statute_of_limitations",
				Message:        fmt.Sprintf("The statute of limitations for %s expires on %s (%d days remaining).", r.Intake.Jurisdiction, deadline, left),
				Recommendation: "Schedule the demand so there is time to file suit if negotiations stall.",
			}, true
		},
	}
}

func UnknownJurisdictionRule(cfg StatuteConfig) Rule {
	return Rule{
		Name:     "unknown_jurisdiction_limit",
		Severity: domain.SeverityModerate,
		Evaluate: func(r Record) (domain.Warning, bool) {
			if _, ok := (Config{Statute: cfg}).LookupJurisdiction(r.Intake.Jurisdiction); ok {
				return domain.Warning{}, false
			}
			return domain.Warning{
				Category:       "statute_of_limitations",
				Message:        fmt.Sprintf("No statute of limitations is configured for jurisdiction %q.", r.Intake.Jurisdiction),
				Recommendation: "Verify the filing deadline manually and add the jurisdiction to the rules configuration.",
			}, true
		},
	}
}

func MissingCategoriesRule(expected map[string][]domain.DocumentCategory) Rule {
	return Rule{
		Name:     "missing_expected_categories",
		Severity: domain.SeverityModerate,
		Evaluate: func(r Record) (domain.Warning, bool) {
			want, ok := expected[normalizeIncidentType(r.Intake.IncidentType)]
			if !ok {
				return domain.Warning{}, false
			}
			var missing []string
			for _, c := range want {
				if !r.Has(c) {
					missing = append(missing, humanCategory(c))
				}
			}
			if len(missing) == 0 {
				return domain.Warning{}, false
			}
			return domain.Warning{
				Category:       "documentation",
				Message:        fmt.Sprintf("Expected documents for a %s case are missing: %s.", humanIncidentType(r.Intake.IncidentType), strings.Join(missing, ", ")),
				Recommendation: "Obtain the missing documents or note why they are unavailable.",
			}, true
		},
	}
}

// TreatmentGapRule reports every unexplained gap in a single warning.
func TreatmentGapRule() Rule {
	return Rule{
		Name:     "treatment_gap",
		Severity: domain.SeverityModerate,
		Evaluate: func(r Record) (domain.Warning, bool) {
			gaps := r.Derived.TreatmentTimeline.UnexplainedGaps()
			if len(gaps) == 0 {
				return domain.Warning{}, false
			}
			parts := make([]string, 0, len(gaps))
			for _, g := range gaps {
				parts = append(parts, fmt.Sprintf("%s to %s (%d days)", g.From, g.To, g.Days))
			}
			noun := "gap"
			if len(gaps) > 1 {
				noun = "gaps"
			}
			msg := fmt.Sprintf("Treatment %s longer than %d days: %s.",
				noun, r.Derived.TreatmentTimeline.ThresholdDays, strings.Join(parts, "; "))
			return domain.Warning{
				Category:       "treatment_gap",
				Message:        msg,
				Recommendation: "Ask the client to explain each gap and collect any records covering the period.",
			}, true
		},
	}
}

func DelayedTreatmentRule(cfg TreatmentConfig) Rule {
	return Rule{
		Name:     "delayed_initial_treatment",
		Severity: domain.SeverityModerate,
		Evaluate: func(r Record) (domain.Warning, bool) {
			if cfg.InitialDelayDays <= 0 || r.Intake.IncidentDate.IsZero() {
				return domain.Warning{}, false
			}
			first, ok := r.Derived.TreatmentTimeline.FirstTreatment()
			if !ok {
				return domain.Warning{}, false
			}
			delay := domain.DaysBetween(domain.NewDate(r.Intake.IncidentDate), first)
			if delay <= cfg.InitialDelayDays {
				return domain.Warning{}, false
			}
			return domain.Warning{
				Category:       "treatment",
				Message:        fmt.Sprintf("First documented treatment was %d days after the incident (%s).", delay, first),
				Recommendation: "Document the reason for the delay; insurers often use late treatment to dispute causation.",
			}, true
		},
	}
}

func DamagesInconsistencyRule(cfg DamagesConfig) Rule {
	return Rule{
		Name:     "damages_inconsistency",
		Severity: domain.SeverityModerate,
		Evaluate: func(r Record) (domain.Warning, bool) {
			d := r.Derived.DamagesCalculation
			switch {
			case d.LostWages > 0 && d.MedicalExpenses == 0:
				return domain.Warning{
					Category:       "damages",
					Message:        fmt.Sprintf("Lost wages of %s are claimed but no medical expenses were billed.", d.LostWages),
					Recommendation: "Confirm the injury kept the client from work and obtain the supporting medical bills.",
				}, true
			case d.LostWages > 0 && d.LostWagePeriod == nil:
				return domain.Warning{
					Category:       "damages",
					Message:        fmt.Sprintf("Lost wages of %s are claimed without a documented missed-work period.", d.LostWages),
					Recommendation: "Request an employer letter stating the dates of missed work.",
				}, true
			case d.LostWagePeriod != nil && d.LostWages == 0:
				return domain.Warning{
					Category:       "damages",
					Message:        fmt.Sprintf("A missed-work period from %s to %s is documented but no lost wage amount was found.", d.LostWagePeriod.Start, d.LostWagePeriod.End),
					Recommendation: "Obtain pay stubs or a wage verification covering the period.",
				}, true
			}
			if d.LostWagePeriod == nil || cfg.WagePeriodSlackDays <= 0 {
				return domain.Warning{}, false
			}
			last, ok := r.Derived.TreatmentTimeline.LastTreatment()
			if !ok {
				return domain.Warning{}, false
			}
			if over := domain.DaysBetween(last, d.LostWagePeriod.End); over > cfg.WagePeriodSlackDays {
				return domain.Warning{
					Category:       "damages",
					Message:        fmt.Sprintf("The missed-work period ends %s, %d days after the last documented treatment on %s.", d.LostWagePeriod.End, over, last),
					Recommendation: "Confirm a provider restricted work for the full period or reduce the wage claim.",
				}, true
			}
			return domain.Warning{}, false
		},
	}
}

func ConflictingValuesRule() Rule {
	return Rule{
		Name:     "conflicting_values",
		Severity: domain.SeverityMinor,
		Evaluate: func(r Record) (domain.Warning, bool) {
			superseded := r.Derived.ExtractedData.Superseded
			if len(superseded) == 0 {
				return domain.Warning{}, false
			}
			seen := make(map[string]struct{})
			fields := make([]string, 0, len(superseded))
			for _, s := range superseded {
				name := humanCategory(s.Category) + " " + s.Field
				if _, ok := seen[name]; ok {
					continue
				}
				seen[name] = struct{}{}
				fields = append(fields, name)
			}
			sort.Strings(fields)
			return domain.Warning{
				Category:       "data_conflict",
				Message:        fmt.Sprintf("Documents disagree on %d field(s): %s. The most recent document was used.", len(fields), strings.Join(fields, ", ")),
				Recommendation: "Review the conflicting values before relying on them in a demand.",
			}, true
		},
	}
}

func PreExistingConditionRule() Rule {
	return Rule{
		Name:     "pre_existing_condition",
		Severity: domain.SeverityMinor,
		Evaluate: func(r Record) (domain.Warning, bool) {
			var earliest domain.Date
			count := 0
			for _, ev := range r.Derived.TreatmentTimeline.Events {
				if !ev.Prior {
					continue
				}
				if count == 0 {
					earliest = ev.Date
				}
				count++
			}
			if count == 0 && !r.Has(domain.CategoryPriorMedicalRecords) {
				return domain.Warning{}, false
			}
			msg := "Prior medical records are on file and may show a pre-existing condition."
			if count > 0 {
				msg = fmt.Sprintf("Prior medical records show %d treatment event(s) before this claim, the earliest on %s.", count, earliest)
			}
			return domain.Warning{
				Category:       "medical_history",
				Message:        msg,
				Recommendation: "Distinguish the new injury from prior conditions or argue aggravation of a pre-existing condition.",
			}, true
		},
	}
}

func humanCategory(c domain.DocumentCategory) string {
	return strings.ToLower(strings.ReplaceAll(string(c), "_", " "))
}

func humanIncidentType(raw string) string {
	s := strings.TrimSpace(strings.ReplaceAll(normalizeIncidentType(raw), "_", " "))
	if s == "" {
		return "this"
	}
	return s
}

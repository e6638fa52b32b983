package aggregation

import (
	"fmt"
	"sort"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

var eventListKeys = []string{"events", "treatments", "visits", "encounters"}

func buildTimeline(sources []source, thresholdDays int, diag *diagnostics) domain.TreatmentTimeline {
	events := make([]domain.TreatmentEvent, 0)
	seen := make(map[string]struct{})

	for _, src := range sources {
		if src.doc.Category != domain.CategoryMedicalRecords && src.doc.Category != domain.CategoryPriorMedicalRecords {
			continue
		}
		for _, ev := range documentEvents(src, diag) {
			key := fmt.Sprintf("%s|%s|%s|%t", ev.Date, normalizeKey(ev.Provider), normalizeKey(ev.Description), ev.Prior)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			events = append(events, ev)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Date.Equal(b.Date.Time) {
			return a.Date.Before(b.Date.Time)
		}
		if a.Prior != b.Prior {
			return a.Prior
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Description != b.Description {
			return a.Description < b.Description
		}
		return a.DocumentID < b.DocumentID
	})

	return domain.TreatmentTimeline{
		Events:        events,
		Gaps:          detectGaps(events, thresholdDays),
		ThresholdDays: thresholdDays,
	}
}

func documentEvents(src source, diag *diagnostics) []domain.TreatmentEvent {
	data := src.doc.ExtractedData
	prior := src.doc.Category == domain.CategoryPriorMedicalRecords
	defaultProvider := stringField(data, "provider", "provider_name", "facility")

	key, raw, ok := firstPresent(data, eventListKeys...)
	if !ok {
		// A record without an event list still speaks for a single visit.
		_, dateValue, hasDate := firstPresent(data, "date_of_service", "visit_date", "service_date", "date")
		if !hasDate {
			diag.add(src, "events", "no dated treatment events")
			return nil
		}
		date, err := parseDate(dateValue)
		if err != nil {
			diag.add(src, "date_of_service", "%v", err)
			return nil
		}
		return []domain.TreatmentEvent{{
			Date:        date,
			Provider:    defaultProvider,
			Description: stringField(data, "description", "diagnosis", "summary", "treatment"),
			EventType:   stringField(data, "event_type", "visit_type"),
			GapReason:   stringField(data, "gap_reason"),
			Prior:       prior,
			DocumentID:  src.doc.ID,
			Category:    src.doc.Category,
		}}
	}

	items, ok := asList(raw)
	if !ok {
		diag.add(src, key, "expected a list, got %T", raw)
		return nil
	}
	out := make([]domain.TreatmentEvent, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("%s[%d]", key, i)
		entry, ok := asMap(item)
		if !ok {
			diag.add(src, field, "expected an object, got %T", item)
			continue
		}
		_, dateValue, _ := firstPresent(entry, "date", "date_of_service", "visit_date")
		date, err := parseDate(dateValue)
		if err != nil {
			diag.add(src, field+".date", "%v", err)
			continue
		}
		provider := stringField(entry, "provider", "provider_name", "facility")
		if provider == "" {
			provider = defaultProvider
		}
		out = append(out, domain.TreatmentEvent{
			Date:        date,
			Provider:    provider,
			Description: stringField(entry, "description", "diagnosis", "summary", "treatment"),
			EventType:   stringField(entry, "event_type", "type", "visit_type"),
			GapReason:   stringField(entry, "gap_reason"),
			Prior:       prior,
			DocumentID:  src.doc.ID,
			Category:    src.doc.Category,
		})
	}
	return out
}

// detectGaps compares consecutive treatment dates after the incident.
// Pre-existing records are listed on the timeline but never open a gap.
func detectGaps(events []domain.TreatmentEvent, thresholdDays int) []domain.TreatmentGap {
	gaps := make([]domain.TreatmentGap, 0)
	var prev *domain.TreatmentEvent
	for i := range events {
		ev := &events[i]
		if ev.Prior {
			continue
		}
		if prev != nil && !prev.Date.Equal(ev.Date.Time) {
			days := domain.DaysBetween(prev.Date, ev.Date)
			if days > thresholdDays {
				reason := ev.GapReason
				if reason == "" {
					reason = prev.GapReason
				}
				gaps = append(gaps, domain.TreatmentGap{
					From:      prev.Date,
					To:        ev.Date,
					Days:      days,
					Explained: reason != "",
					Reason:    reason,
				})
			}
		}
		prev = ev
	}
	return gaps
}

func asList(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []map[string]any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	default:
		return nil, false
	}
}

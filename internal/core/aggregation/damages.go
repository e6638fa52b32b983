package aggregation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

var (
	billItemKeys  = []string{"line_items", "charges", "items"}
	wageItemKeys  = []string{"wage_entries", "line_items", "entries"}
	billTotalKeys = []string{"total_amount", "amount_due", "total_charges", "total"}
	wageTotalKeys = []string{"lost_wages", "total_lost_wages", "amount", "total"}
)

func calculateDamages(sources []source, dedupFields []DedupField, diag *diagnostics) domain.DamagesCalculation {
	calc := domain.DamagesCalculation{LineItems: make([]domain.DamageLineItem, 0)}
	firstSeenIn := make(map[string]string)

	var wageStart, wageEnd domain.Date
	for _, src := range sources {
		var (
			items       []domain.DamageLineItem
			defaultKind domain.DamageKind
		)
		switch src.doc.Category {
		case domain.CategoryMedicalBills:
			defaultKind = domain.DamageMedical
			items = documentLineItems(src, billItemKeys, billTotalKeys, defaultKind, diag)
		case domain.CategoryWageDocumentation:
			defaultKind = domain.DamageLostWages
			items = documentLineItems(src, wageItemKeys, wageTotalKeys, defaultKind, diag)
			start, end := wagePeriod(src, diag)
			if !start.IsZero() && (wageStart.IsZero() || start.Before(wageStart.Time)) {
				wageStart = start
			}
			if !end.IsZero() && end.After(wageEnd.Time) {
				wageEnd = end
			}
		default:
			continue
		}

		for _, item := range items {
			key := dedupKey(item, dedupFields)
			// The same bill uploaded twice counts once; repeats inside one
			// document are separate charges.
			if owner, ok := firstSeenIn[key]; ok && owner != item.DocumentID {
				calc.DuplicatesRemoved++
				continue
			}
			firstSeenIn[key] = item.DocumentID
			calc.LineItems = append(calc.LineItems, item)
			switch item.Kind {
			case domain.DamageMedical:
				calc.MedicalExpenses += item.Amount
			case domain.DamageLostWages:
				calc.LostWages += item.Amount
			default:
				calc.Other += item.Amount
			}
		}
	}
	calc.Total = calc.MedicalExpenses + calc.LostWages + calc.Other

	if !wageStart.IsZero() && !wageEnd.IsZero() && !wageEnd.Before(wageStart.Time) {
		calc.LostWagePeriod = &domain.WagePeriod{
			Start: wageStart,
			End:   wageEnd,
			Days:  domain.DaysBetween(wageStart, wageEnd) + 1,
		}
	}

	kindOrder := map[domain.DamageKind]int{domain.DamageMedical: 0, domain.DamageLostWages: 1, domain.DamageOther: 2}
	sort.SliceStable(calc.LineItems, func(i, j int) bool {
		a, b := calc.LineItems[i], calc.LineItems[j]
		if a.Kind != b.Kind {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		if !a.Date.Equal(b.Date.Time) {
			return a.Date.Before(b.Date.Time)
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Amount != b.Amount {
			return a.Amount < b.Amount
		}
		return a.DocumentID < b.DocumentID
	})
	return calc
}

func documentLineItems(src source, listKeys, totalKeys []string, defaultKind domain.DamageKind, diag *diagnostics) []domain.DamageLineItem {
	data := src.doc.ExtractedData
	defaultProvider := stringField(data, "provider", "provider_name", "employer", "payee")
	defaultDate := src.date

	key, raw, ok := firstPresent(data, listKeys...)
	if !ok {
		totalKey, total, hasTotal := firstPresent(data, totalKeys...)
		if !hasTotal {
			diag.add(src, listKeys[0], "no monetary line items")
			return nil
		}
		amount, err := parseAmount(total)
		if err != nil {
			diag.add(src, totalKey, "%v", err)
			return nil
		}
		return []domain.DamageLineItem{{
			Kind:        itemKind(data, defaultKind),
			Provider:    defaultProvider,
			Date:        defaultDate,
			Amount:      amount,
			Description: stringField(data, "description"),
			DocumentID:  src.doc.ID,
			Category:    src.doc.Category,
		}}
	}

	list, ok := asList(raw)
	if !ok {
		diag.add(src, key, "expected a list, got %T", raw)
		return nil
	}
	out := make([]domain.DamageLineItem, 0, len(list))
	for i, entry := range list {
		field := fmt.Sprintf("%s[%d]", key, i)
		m, ok := asMap(entry)
		if !ok {
			diag.add(src, field, "expected an object, got %T", entry)
			continue
		}
		amountKey, amountValue, _ := firstPresent(m, "amount", "charge", "billed_amount", "gross_amount", "total")
		if amountKey == "" {
			amountKey = "amount"
		}
		amount, err := parseAmount(amountValue)
		if err != nil {
			diag.add(src, field+"."+amountKey, "%v", err)
			continue
		}
		date := defaultDate
		if _, dv, has := firstPresent(m, "date", "date_of_service", "service_date", "period_end", "pay_date"); has {
			parsed, err := parseDate(dv)
			if err != nil {
				diag.add(src, field+".date", "%v", err)
				continue
			}
			date = parsed
		}
		provider := stringField(m, "provider", "provider_name", "employer", "payee")
		if provider == "" {
			provider = defaultProvider
		}
		out = append(out, domain.DamageLineItem{
			Kind:        itemKind(m, defaultKind),
			Provider:    provider,
			Date:        date,
			Amount:      amount,
			Description: stringField(m, "description", "service", "code"),
			DocumentID:  src.doc.ID,
			Category:    src.doc.Category,
		})
	}
	return out
}

func itemKind(m map[string]any, fallback domain.DamageKind) domain.DamageKind {
	switch strings.ToLower(stringField(m, "kind", "damage_type", "category")) {
	case "other", "other_damages", "out_of_pocket", "property_damage":
		return domain.DamageOther
	default:
		return fallback
	}
}

// wagePeriod reads the missed-work window from the document and its entries.
func wagePeriod(src source, diag *diagnostics) (domain.Date, domain.Date) {
	data := src.doc.ExtractedData
	var start, end domain.Date

	widen := func(field string, startValue, endValue any) {
		if startValue != nil {
			d, err := parseDate(startValue)
			if err != nil {
				diag.add(src, field+".start", "%v", err)
			} else if start.IsZero() || d.Before(start.Time) {
				start = d
			}
		}
		if endValue != nil {
			d, err := parseDate(endValue)
			if err != nil {
				diag.add(src, field+".end", "%v", err)
			} else if d.After(end.Time) {
				end = d
			}
		}
	}

	_, s, _ := firstPresent(data, "missed_work_start", "period_start", "leave_start")
	_, e, _ := firstPresent(data, "missed_work_end", "period_end", "leave_end")
	widen("period", s, e)

	if key, raw, ok := firstPresent(data, wageItemKeys...); ok {
		if list, ok := asList(raw); ok {
			for i, entry := range list {
				m, ok := asMap(entry)
				if !ok {
					continue
				}
				_, s, _ := firstPresent(m, "period_start", "start")
				_, e, _ := firstPresent(m, "period_end", "end")
				widen(fmt.Sprintf("%s[%d]", key, i), s, e)
			}
		}
	}
	return start, end
}

func dedupKey(item domain.DamageLineItem, fields []DedupField) string {
	parts := make([]string, 0, len(fields)+1)
	parts = append(parts, string(item.Kind))
	for _, f := range fields {
		switch f {
		case DedupProvider:
			parts = append(parts, normalizeKey(item.Provider))
		case DedupDate:
			parts = append(parts, item.Date.String())
		case DedupAmount:
			parts = append(parts, fmt.Sprintf("%d", int64(item.Amount)))
		case DedupDescription:
			parts = append(parts, normalizeKey(item.Description))
		}
	}
	return strings.Join(parts, "|")
}

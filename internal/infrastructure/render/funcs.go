package render

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

type tonePhrases struct {
	Opening string
	Demand  string
	Closing string
}

// Opening takes the client name as its single verb argument.
var tones = map[domain.Tone]tonePhrases{
	domain.ToneProfessional: {
		Opening: "This firm represents %s in connection with the injuries described below. We write to present the claim and to invite a resolution without litigation.",
		Demand:  "Based on the damages documented above, we demand payment in the amount of",
		Closing: "We look forward to your response within thirty days of the date of this letter.",
	},
	domain.ToneFirm: {
		Opening: "This firm represents %s. Liability in this matter is clear and the damages are fully documented.",
		Demand:  "Our client will accept no less than",
		Closing: "If we do not receive a written response within thirty days, we will advise our client on further action.",
	},
	domain.ToneAggressive: {
		Opening: "This firm represents %s, who suffered serious and avoidable injuries as a direct result of your insured's conduct.",
		Demand:  "We demand immediate payment of",
		Closing: "Absent full payment within twenty-one days, we are prepared to file suit without further notice.",
	},
	domain.ToneConciliatory: {
		Opening: "This firm represents %s. We believe this matter can be resolved fairly, and we share the information below in that spirit.",
		Demand:  "To resolve this claim in full, our client is prepared to accept",
		Closing: "We welcome a conversation about resolution at your earliest convenience.",
	},
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"tone":      phrasesFor,
		"money":     formatMoney,
		"date":      formatDate,
		"humanize":  humanize,
		"cell":      cell,
		"param":     param,
		"recipient": recipient,
		"demand":    demandAmount,
		"field":     field,
		"first":     firstTreatment,
		"last":      lastTreatment,
		"severity":  bySeverity,
	}
}

func bySeverity(ws []domain.Warning, severity string) []domain.Warning {
	out := make([]domain.Warning, 0, len(ws))
	for _, w := range ws {
		if string(w.Severity) == severity {
			out = append(out, w)
		}
	}
	return out
}

func phrasesFor(t domain.Tone) tonePhrases {
	if p, ok := tones[t]; ok {
		return p
	}
	return tones[domain.DefaultTone]
}

func formatMoney(v any) string {
	switch m := v.(type) {
	case domain.Money:
		return m.String()
	case float64:
		return domain.Dollars(m).String()
	case int:
		return domain.Dollars(float64(m)).String()
	default:
		return fmt.Sprint(v)
	}
}

func formatDate(v any) string {
	var t time.Time
	switch d := v.(type) {
	case domain.Date:
		t = d.Time
	case time.Time:
		t = d
	case *time.Time:
		if d != nil {
			t = *d
		}
	}
	if t.IsZero() {
		return "an unknown date"
	}
	return t.Format("January 2, 2006")
}

func humanize(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", " "))
}

// cell keeps a value from breaking a markdown table row.
func cell(v any) string {
	s := strings.TrimSpace(fmt.Sprint(v))
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func param(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func recipient(v domain.GenerationView) string {
	if r := param(v.Parameters, "recipient"); r != "" {
		return r
	}
	if v.Intake.InsuranceCarrier != "" {
		return v.Intake.InsuranceCarrier
	}
	return v.Intake.DefendantName
}

// demandAmount prefers an explicit demand_amount parameter over total damages.
func demandAmount(v domain.GenerationView) domain.Money {
	switch raw := v.Parameters["demand_amount"].(type) {
	case float64:
		if raw > 0 {
			return domain.Dollars(raw)
		}
	case int:
		if raw > 0 {
			return domain.Dollars(float64(raw))
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimPrefix(strings.ReplaceAll(raw, ",", ""), "$"), 64); err == nil && f > 0 {
			return domain.Dollars(f)
		}
	}
	return v.Damages.Total
}

func field(m domain.MergedExtraction, category, key string) string {
	v, ok := m.Fields[domain.DocumentCategory(category)][key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(val)
	}
}

func firstTreatment(t domain.TreatmentTimeline) string {
	if d, ok := t.FirstTreatment(); ok {
		return formatDate(d)
	}
	return ""
}

func lastTreatment(t domain.TreatmentTimeline) string {
	if d, ok := t.LastTreatment(); ok {
		return formatDate(d)
	}
	return ""
}

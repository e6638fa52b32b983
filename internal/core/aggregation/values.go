package aggregation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

// documentDateKeys are checked in order to find the date a document speaks for.
var documentDateKeys = []string{
	"document_date",
	"date_of_service",
	"service_date",
	"visit_date",
	"report_date",
	"statement_date",
	"date",
}

func parseDate(v any) (domain.Date, error) {
	switch x := v.(type) {
	case nil:
		return domain.Date{}, fmt.Errorf("missing date")
	case time.Time:
		return domain.NewDate(x), nil
	case domain.Date:
		return x, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return domain.Date{}, fmt.Errorf("missing date")
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return domain.NewDate(t), nil
			}
		}
		return domain.Date{}, fmt.Errorf("unrecognized date %q", s)
	default:
		return domain.Date{}, fmt.Errorf("date has type %T", v)
	}
}

// parseAmount accepts JSON numbers and strings such as "$1,200.50".
func parseAmount(v any) (domain.Money, error) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, fmt.Errorf("missing amount")
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("amount %q: %w", x.String(), err)
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		s = strings.ReplaceAll(s, " ", "")
		if s == "" {
			return 0, fmt.Errorf("missing amount")
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("amount %q is not a number", x)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("amount has type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("amount is not finite")
	}
	if f < 0 {
		return 0, fmt.Errorf("amount %.2f is negative", f)
	}
	return domain.Dollars(f), nil
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstPresent(m map[string]any, keys ...string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return k, v, true
		}
	}
	return "", nil, false
}

// documentDate returns the zero Date for undated documents.
func documentDate(data domain.ExtractedData) domain.Date {
	for _, k := range documentDateKeys {
		v, ok := data[k]
		if !ok {
			continue
		}
		if d, err := parseDate(v); err == nil {
			return d
		}
	}
	return domain.Date{}
}

func normalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func deepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, inner := range x {
			out[k] = deepCopy(inner)
		}
		return out
	case domain.ExtractedData:
		return deepCopy(map[string]any(x))
	case []any:
		out := make([]any, len(x))
		for i, inner := range x {
			out[i] = deepCopy(inner)
		}
		return out
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case domain.ExtractedData:
		return map[string]any(x), true
	default:
		return nil, false
	}
}

package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Money is an amount in US cents.
type Money int64

func Dollars(d float64) Money {
	return Money(math.Round(d * 100))
}

func (m Money) Dollars() float64 {
	return float64(m) / 100
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := strconv.FormatInt(v/100, 10)
	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}
	return fmt.Sprintf("%s$%s.%02d", sign, grouped.String(), v%100)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(m.Dollars(), 'f', 2, 64)), nil
}

func (m *Money) UnmarshalJSON(raw []byte) error {
	f, err := strconv.ParseFloat(strings.Trim(string(raw), `"`), 64)
	if err != nil {
		return fmt.Errorf("parse money: %w", err)
	}
	*m = Dollars(f)
	return nil
}

// Date is a calendar day serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(raw []byte) error {
	s := strings.Trim(string(raw), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("parse date: %w", err)
	}
	*d = Date{Time: t}
	return nil
}

// DaysBetween counts whole calendar days from a to b.
func DaysBetween(a, b Date) int {
	return int(b.Sub(a.Time).Hours() / 24)
}

// MergedExtraction is the deep merge of every completed document's fields,
// keyed by category then field.
type MergedExtraction struct {
	Fields map[DocumentCategory]map[string]any `json:"fields"`

	// Superseded keeps losing values for audit; API views omit it.
	Superseded []SupersededValue `json:"superseded,omitempty"`
}

type SupersededValue struct {
	Category     DocumentCategory `json:"category"`
	Field        string           `json:"field"`
	Value        any              `json:"value"`
	DocumentID   string           `json:"document_id"`
	WinnerID     string           `json:"winner_document_id"`
	DocumentDate Date             `json:"document_date"`
}

type TreatmentEvent struct {
	Date        Date             `json:"date"`
	Provider    string           `json:"provider,omitempty"`
	Description string           `json:"description,omitempty"`
	EventType   string           `json:"event_type,omitempty"`
	GapReason   string           `json:"gap_reason,omitempty"`
	Prior       bool             `json:"prior,omitempty"`
	DocumentID  string           `json:"document_id"`
	Category    DocumentCategory `json:"category"`
}

type TreatmentGap struct {
	From      Date   `json:"from"`
	To        Date   `json:"to"`
	Days      int    `json:"days"`
	Explained bool   `json:"explained"`
	Reason    string `json:"reason,omitempty"`
}

type TreatmentTimeline struct {
	Events        []TreatmentEvent `json:"events"`
	Gaps          []TreatmentGap   `json:"gaps"`
	ThresholdDays int              `json:"threshold_days"`
}

// FirstTreatment returns the earliest non-prior event date.
func (t TreatmentTimeline) FirstTreatment() (Date, bool) {
	for _, ev := range t.Events {
		if !ev.Prior {
			return ev.Date, true
		}
	}
	return Date{}, false
}

func (t TreatmentTimeline) LastTreatment() (Date, bool) {
	for i := len(t.Events) - 1; i >= 0; i-- {
		if !t.Events[i].Prior {
			return t.Events[i].Date, true
		}
	}
	return Date{}, false
}

func (t TreatmentTimeline) UnexplainedGaps() []TreatmentGap {
	out := make([]TreatmentGap, 0, len(t.Gaps))
	for _, g := range t.Gaps {
		if !g.Explained {
			out = append(out, g)
		}
	}
	return out
}

type DamageKind string

const (
	DamageMedical   DamageKind = "medical_expenses"
	DamageLostWages DamageKind = "lost_wages"
	DamageOther     DamageKind = "other"
)

type DamageLineItem struct {
	Kind        DamageKind       `json:"kind"`
	Provider    string           `json:"provider,omitempty"`
	Date        Date             `json:"date"`
	Amount      Money            `json:"amount"`
	Description string           `json:"description,omitempty"`
	DocumentID  string           `json:"document_id"`
	Category    DocumentCategory `json:"category"`
}

type WagePeriod struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
	Days  int  `json:"days"`
}

type DamagesCalculation struct {
	MedicalExpenses   Money            `json:"medical_expenses"`
	LostWages         Money            `json:"lost_wages"`
	Other             Money            `json:"other"`
	Total             Money            `json:"total"`
	LineItems         []DamageLineItem `json:"line_items"`
	DuplicatesRemoved int              `json:"duplicates_removed"`
	LostWagePeriod    *WagePeriod      `json:"lost_wage_period,omitempty"`
}

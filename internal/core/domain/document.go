package domain

import (
	"fmt"
	"time"
)

type DocumentCategory string

const (
	CategoryMedicalRecords      DocumentCategory = "MEDICAL_RECORDS"
	CategoryPriorMedicalRecords DocumentCategory = "PRIOR_MEDICAL_RECORDS"
	CategoryMedicalBills        DocumentCategory = "MEDICAL_BILLS"
	CategoryPoliceReport        DocumentCategory = "POLICE_REPORT"
	CategoryWageDocumentation   DocumentCategory = "WAGE_DOCUMENTATION"
	CategoryInsurancePolicy     DocumentCategory = "INSURANCE_POLICY"
	CategoryCorrespondence      DocumentCategory = "CORRESPONDENCE"
	CategoryPhotographs         DocumentCategory = "PHOTOGRAPHS"
	CategoryIncidentReport      DocumentCategory = "INCIDENT_REPORT"
	CategoryOther               DocumentCategory = "OTHER"
)

var documentCategories = []DocumentCategory{
	CategoryMedicalRecords,
	CategoryPriorMedicalRecords,
	CategoryMedicalBills,
	CategoryPoliceReport,
	CategoryWageDocumentation,
	CategoryInsurancePolicy,
	CategoryCorrespondence,
	CategoryPhotographs,
	CategoryIncidentReport,
	CategoryOther,
}

// DocumentCategories returns the closed set of categories in declaration order.
func DocumentCategories() []DocumentCategory {
	out := make([]DocumentCategory, len(documentCategories))
	copy(out, documentCategories)
	return out
}

func (c DocumentCategory) Valid() bool {
	for _, known := range documentCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseDocumentCategory accepts an empty value as "no hint".
func ParseDocumentCategory(raw string) (DocumentCategory, error) {
	if raw == "" {
		return "", nil
	}
	c := DocumentCategory(raw)
	if !c.Valid() {
		return "", WrapError(ErrInvalidInput, "parse document category", fmt.Errorf("unknown category %q", raw))
	}
	return c, nil
}

type ProcessingStatus string

const (
	ProcessingPending        ProcessingStatus = "PENDING"
	ProcessingExtractingText ProcessingStatus = "EXTRACTING_TEXT"
	ProcessingClassifying    ProcessingStatus = "CLASSIFYING"
	ProcessingExtractingData ProcessingStatus = "EXTRACTING_DATA"
	ProcessingCompleted      ProcessingStatus = "COMPLETED"
	ProcessingFailed         ProcessingStatus = "FAILED"
)

// documentTransitions is the only source of legal processing transitions.
var documentTransitions = map[ProcessingStatus][]ProcessingStatus{
	ProcessingPending:        {ProcessingExtractingText, ProcessingFailed},
	ProcessingExtractingText: {ProcessingClassifying, ProcessingFailed},
	ProcessingClassifying:    {ProcessingExtractingData, ProcessingFailed},
	ProcessingExtractingData: {ProcessingCompleted, ProcessingFailed},
}

func (s ProcessingStatus) Terminal() bool {
	return s == ProcessingCompleted || s == ProcessingFailed
}

// InFlight reports whether a document has started but not finished processing.
func (s ProcessingStatus) InFlight() bool {
	return !s.Terminal() && s != ProcessingPending
}

func (s ProcessingStatus) Label() string {
	switch s {
	case ProcessingPending:
		return "queueing"
	case ProcessingExtractingText:
		return "text extraction"
	case ProcessingClassifying:
		return "classification"
	case ProcessingExtractingData:
		return "data extraction"
	default:
		return "processing"
	}
}

func ValidateDocumentTransition(from, to ProcessingStatus) error {
	for _, next := range documentTransitions[from] {
		if next == to {
			return nil
		}
	}
	return WrapError(ErrInvalidTransition, "document transition", fmt.Errorf("%s -> %s", from, to))
}

// ExtractedData is the category-dependent field mapping produced by data extraction.
type ExtractedData map[string]any

// ExtractionNoteKey holds extraction metadata inside ExtractedData. It is
// never merged into case fields.
const ExtractionNoteKey = "_extraction"

// ExtractionNote describes how much of a document's text reached data
// extraction.
type ExtractionNote struct {
	Truncated      bool
	Windows        int
	ProcessedRunes int
	TotalRunes     int
}

// WithNote returns d with n stored under ExtractionNoteKey.
func (d ExtractedData) WithNote(n ExtractionNote) ExtractedData {
	out := make(ExtractedData, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	out[ExtractionNoteKey] = map[string]any{
		"truncated":       n.Truncated,
		"windows":         n.Windows,
		"processed_runes": n.ProcessedRunes,
		"total_runes":     n.TotalRunes,
	}
	return out
}

// Note reads the extraction note, including one decoded from JSON.
func (d ExtractedData) Note() (ExtractionNote, bool) {
	raw, ok := d[ExtractionNoteKey].(map[string]any)
	if !ok {
		return ExtractionNote{}, false
	}
	truncated, _ := raw["truncated"].(bool)
	return ExtractionNote{
		Truncated:      truncated,
		Windows:        noteInt(raw["windows"]),
		ProcessedRunes: noteInt(raw["processed_runes"]),
		TotalRunes:     noteInt(raw["total_runes"]),
	}, true
}

// Fields returns d without the extraction note.
func (d ExtractedData) Fields() ExtractedData {
	if _, ok := d[ExtractionNoteKey]; !ok {
		return d
	}
	out := make(ExtractedData, len(d))
	for k, v := range d {
		if k != ExtractionNoteKey {
			out[k] = v
		}
	}
	return out
}

func noteInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

type Document struct {
	ID              string           `json:"id"`
	CaseID          string           `json:"case_id"`
	Filename        string           `json:"filename"`
	MimeType        string           `json:"mime_type"`
	StoragePath     string           `json:"storage_path"`
	CategoryHint    DocumentCategory `json:"category_hint,omitempty"`
	Category        DocumentCategory `json:"category,omitempty"`
	Status          ProcessingStatus `json:"processing_status"`
	ProcessingError string           `json:"processing_error,omitempty"`
	ExtractedText   string           `json:"extracted_text,omitempty"`
	ExtractedData   ExtractedData    `json:"extracted_data,omitempty"`

	// StagedText holds text between EXTRACTING_TEXT and COMPLETED so a
	// restarted worker can resume at CLASSIFYING or EXTRACTING_DATA.
	StagedText string `json:"-"`

	// DispatchDeferred marks an intake response whose processing event was
	// not published. It is never stored; the worker's resume sweep picks the
	// document up.
	DispatchDeferred bool `json:"dispatch_deferred,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentUpdate is the set of fields a single stage transition writes.
type DocumentUpdate struct {
	From            ProcessingStatus
	To              ProcessingStatus
	Category        DocumentCategory
	StagedText      *string
	ExtractedText   *string
	ExtractedData   ExtractedData
	ProcessingError string
	At              time.Time
}

// Apply mutates doc the same way a repository write does.
func (u DocumentUpdate) Apply(doc *Document) {
	doc.Status = u.To
	if u.Category != "" {
		doc.Category = u.Category
	}
	if u.StagedText != nil {
		doc.StagedText = *u.StagedText
	}
	if u.ExtractedText != nil {
		doc.ExtractedText = *u.ExtractedText
	}
	if u.ExtractedData != nil {
		doc.ExtractedData = u.ExtractedData
	}
	if u.To == ProcessingFailed {
		doc.ProcessingError = u.ProcessingError
	}
	doc.UpdatedAt = u.At
}

// ClassificationHints are the signals passed alongside text to the classifier.
type ClassificationHints struct {
	Filename     string           `json:"filename"`
	MimeType     string           `json:"mime_type"`
	CategoryHint DocumentCategory `json:"category_hint,omitempty"`
	IncidentType string           `json:"incident_type,omitempty"`
}

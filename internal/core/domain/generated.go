package domain

import (
	"fmt"
	"time"
)

type DocumentType string

const (
	DocumentDemandLetter      DocumentType = "DEMAND_LETTER"
	DocumentExecutiveSummary  DocumentType = "EXECUTIVE_SUMMARY"
	DocumentGapAnalysis       DocumentType = "GAP_ANALYSIS"
	DocumentTreatmentTimeline DocumentType = "TREATMENT_TIMELINE"
	DocumentDamagesWorksheet  DocumentType = "DAMAGES_WORKSHEET"
)

var documentTypes = []DocumentType{
	DocumentDemandLetter,
	DocumentExecutiveSummary,
	DocumentGapAnalysis,
	DocumentTreatmentTimeline,
	DocumentDamagesWorksheet,
}

func DocumentTypes() []DocumentType {
	out := make([]DocumentType, len(documentTypes))
	copy(out, documentTypes)
	return out
}

func ParseDocumentType(raw string) (DocumentType, error) {
	for _, t := range documentTypes {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", WrapError(ErrInvalidInput, "parse document type", fmt.Errorf("unknown document type %q", raw))
}

type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneFirm         Tone = "firm"
	ToneAggressive   Tone = "aggressive"
	ToneConciliatory Tone = "conciliatory"
)

const DefaultTone = ToneProfessional

func ParseTone(raw string) (Tone, error) {
	if raw == "" {
		return DefaultTone, nil
	}
	switch t := Tone(raw); t {
	case ToneProfessional, ToneFirm, ToneAggressive, ToneConciliatory:
		return t, nil
	}
	return "", WrapError(ErrInvalidInput, "parse tone", fmt.Errorf("unknown tone %q", raw))
}

// GeneratedDocument is immutable once stored; regeneration stores a new version.
type GeneratedDocument struct {
	ID           string         `json:"id"`
	CaseID       string         `json:"case_id"`
	DocumentType DocumentType   `json:"document_type"`
	Version      int            `json:"version"`
	Tone         Tone           `json:"tone"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Content      string         `json:"content"`
	ContentHTML  string         `json:"content_html,omitempty"`
	Warnings     []Warning      `json:"warnings"`
	CreatedAt    time.Time      `json:"created_at"`
}

type GenerationRequest struct {
	CaseID       string         `json:"case_id"`
	DocumentType DocumentType   `json:"document_type"`
	Tone         Tone           `json:"tone"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// GenerationView is everything a template may bind to.
type GenerationView struct {
	CaseID       string
	DocumentType DocumentType
	Tone         Tone
	Parameters   map[string]any
	Intake       CaseIntake
	Extracted    MergedExtraction
	Timeline     TreatmentTimeline
	Damages      DamagesCalculation
	Warnings     []Warning
	IntakeOnly   bool
	GeneratedAt  Date
}

type RenderedDocument struct {
	Content     string
	ContentHTML string
}

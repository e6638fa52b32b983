package domain

import (
	"fmt"
	"time"
)

type CaseStatus string

const (
	CaseIntakeStatus       CaseStatus = "INTAKE"
	CaseDocumentsUploaded  CaseStatus = "DOCUMENTS_UPLOADED"
	CaseProcessing         CaseStatus = "PROCESSING"
	CaseExtractionComplete CaseStatus = "EXTRACTION_COMPLETE"
	CaseDraftReady         CaseStatus = "DRAFT_READY"
	CaseUnderReview        CaseStatus = "UNDER_REVIEW"
	CaseSent               CaseStatus = "SENT"
	CaseSettled            CaseStatus = "SETTLED"
	CaseLitigation         CaseStatus = "LITIGATION"
	CaseClosed             CaseStatus = "CLOSED"
)

var caseTransitions = map[CaseStatus][]CaseStatus{
	CaseIntakeStatus:       {CaseDocumentsUploaded},
	CaseDocumentsUploaded:  {CaseProcessing},
	CaseProcessing:         {CaseExtractionComplete},
	CaseExtractionComplete: {CaseDraftReady},
	CaseDraftReady:         {CaseUnderReview},
	CaseUnderReview:        {CaseSent},
	CaseSent:               {CaseSettled, CaseLitigation},
	CaseSettled:            {CaseClosed},
	CaseLitigation:         {CaseSettled, CaseClosed},
}

var caseRank = map[CaseStatus]int{
	CaseIntakeStatus:       0,
	CaseDocumentsUploaded:  1,
	CaseProcessing:         2,
	CaseExtractionComplete: 3,
	CaseDraftReady:         4,
	CaseUnderReview:        5,
	CaseSent:               6,
	CaseSettled:            7,
	CaseLitigation:         7,
	CaseClosed:             8,
}

func (s CaseStatus) Valid() bool {
	_, ok := caseRank[s]
	return ok
}

func (s CaseStatus) Rank() int {
	if r, ok := caseRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at or beyond other on the forward path.
func (s CaseStatus) AtLeast(other CaseStatus) bool {
	return s.Rank() >= other.Rank()
}

func ValidateCaseTransition(from, to CaseStatus) error {
	for _, next := range caseTransitions[from] {
		if next == to {
			return nil
		}
	}
	return WrapError(ErrInvalidTransition, "case transition", fmt.Errorf("%s -> %s", from, to))
}

// CasePathTo returns the single-edge steps leading from one status to a later
// one, or nil when to is not reachable.
func CasePathTo(from, to CaseStatus) []CaseStatus {
	if from == to {
		return nil
	}
	type node struct {
		status CaseStatus
		path   []CaseStatus
	}
	queue := []node{{status: from}}
	seen := map[CaseStatus]bool{from: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range caseTransitions[cur.status] {
			if seen[next] {
				continue
			}
			path := append(append([]CaseStatus(nil), cur.path...), next)
			if next == to {
				return path
			}
			seen[next] = true
			queue = append(queue, node{status: next, path: path})
		}
	}
	return nil
}

// WorkflowStatus reports whether a status is driven by external workflow
// actions rather than pipeline events.
func (s CaseStatus) WorkflowStatus() bool {
	switch s {
	case CaseUnderReview, CaseSent, CaseSettled, CaseLitigation, CaseClosed:
		return true
	default:
		return false
	}
}

type CaseIntake struct {
	ClientName          string    `json:"client_name"`
	ClientEmail         string    `json:"client_email,omitempty"`
	ClientPhone         string    `json:"client_phone,omitempty"`
	IncidentDate        time.Time `json:"incident_date"`
	IncidentType        string    `json:"incident_type"`
	IncidentLocation    string    `json:"incident_location,omitempty"`
	IncidentDescription string    `json:"incident_description,omitempty"`
	InjuryDescription   string    `json:"injury_description,omitempty"`
	Jurisdiction        string    `json:"jurisdiction"`
	DefendantName       string    `json:"defendant_name,omitempty"`
	InsuranceCarrier    string    `json:"insurance_carrier,omitempty"`
	ClaimNumber         string    `json:"claim_number,omitempty"`
}

func (in CaseIntake) Validate() error {
	switch {
	case in.ClientName == "":
		return WrapError(ErrInvalidInput, "validate intake", fmt.Errorf("client name is required"))
	case in.IncidentDate.IsZero():
		return WrapError(ErrInvalidInput, "validate intake", fmt.Errorf("incident date is required"))
	case in.Jurisdiction == "":
		return WrapError(ErrInvalidInput, "validate intake", fmt.Errorf("jurisdiction is required"))
	}
	return nil
}

// CaseDerived holds every field owned by the aggregation pipeline. It is
// always replaced as a whole.
type CaseDerived struct {
	ExtractedData      MergedExtraction        `json:"extracted_data"`
	TreatmentTimeline  TreatmentTimeline       `json:"treatment_timeline"`
	DamagesCalculation DamagesCalculation      `json:"damages_calculation"`
	AttorneyWarnings   []Warning               `json:"attorney_warnings"`
	Diagnostics        []AggregationDiagnostic `json:"diagnostics,omitempty"`
	SourceDocumentIDs  []string                `json:"source_document_ids"`
}

type Case struct {
	ID     string     `json:"id"`
	Status CaseStatus `json:"status"`
	Intake CaseIntake `json:"intake"`

	// Derived is nil until the first aggregation run.
	Derived *CaseDerived `json:"derived,omitempty"`

	// AggregatedAt and AggregationWatermark sit outside Derived so repeated
	// runs over the same documents produce identical derived fields.
	AggregatedAt         *time.Time `json:"aggregated_at,omitempty"`
	AggregationWatermark *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Case) HasDerived() bool {
	return c != nil && c.Derived != nil && len(c.Derived.SourceDocumentIDs) > 0
}

func (c *Case) Warnings() []Warning {
	if c == nil || c.Derived == nil {
		return nil
	}
	return c.Derived.AttorneyWarnings
}

type AggregationDiagnostic struct {
	DocumentID string           `json:"document_id"`
	Category   DocumentCategory `json:"category"`
	Field      string           `json:"field"`
	Message    string           `json:"message"`
}

package ollama

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

const maxSnippet = 6000

// categorySchemas lists the keys the aggregator understands for each category.
var categorySchemas = map[domain.DocumentCategory]string{
	domain.CategoryMedicalRecords: `document_date (YYYY-MM-DD), provider, diagnosis,
events: array of {date (YYYY-MM-DD), provider, description, event_type, gap_reason}`,
	domain.CategoryPriorMedicalRecords: `document_date (YYYY-MM-DD), provider, conditions (array of strings),
events: array of {date (YYYY-MM-DD), provider, description, event_type}`,
	domain.CategoryMedicalBills: `statement_date (YYYY-MM-DD), provider, total_amount (number),
line_items: array of {date (YYYY-MM-DD), provider, description, amount (number)}`,
	domain.CategoryWageDocumentation: `document_date (YYYY-MM-DD), employer, missed_work_start (YYYY-MM-DD), missed_work_end (YYYY-MM-DD),
lost_wages (number), wage_entries: array of {period_start, period_end, amount (number), description}`,
	domain.CategoryPoliceReport:    `report_date (YYYY-MM-DD), report_number, agency, officer, location, at_fault_party, citations (array of strings), narrative`,
	domain.CategoryInsurancePolicy: `document_date (YYYY-MM-DD), carrier, policy_number, policyholder, coverage_limits (object of name -> number)`,
	domain.CategoryCorrespondence:  `document_date (YYYY-MM-DD), sender, recipient, subject, summary`,
	domain.CategoryPhotographs:     `document_date (YYYY-MM-DD), description, depicted (array of strings)`,
	domain.CategoryIncidentReport:  `report_date (YYYY-MM-DD), location, description, witnesses (array of strings)`,
	domain.CategoryOther:           `document_date (YYYY-MM-DD), summary`,
}

// snippetOf cuts text to at most maxSnippet bytes without splitting a rune.
func snippetOf(text string) string {
	if len(text) <= maxSnippet {
		return text
	}
	n := maxSnippet
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}

func buildClassificationPrompt(text string, hints domain.ClassificationHints) string {
	categories := make([]string, 0, len(domain.DocumentCategories()))
	for _, c := range domain.DocumentCategories() {
		categories = append(categories, string(c))
	}

	var hintLines strings.Builder
	if hints.Filename != "" {
		fmt.Fprintf(&hintLines, "filename: %s\n", hints.Filename)
	}
	if hints.MimeType != "" {
		fmt.Fprintf(&hintLines, "mime type: %s\n", hints.MimeType)
	}
	if hints.CategoryHint != "" {
		fmt.Fprintf(&hintLines, "uploader's category hint: %s\n", hints.CategoryHint)
	}
	if hints.IncidentType != "" {
		fmt.Fprintf(&hintLines, "case incident type: %s\n", hints.IncidentType)
	}

	return `You classify documents for a personal injury case file.
Return strict JSON object with keys:
category (one of ` + strings.Join(categories, ", ") + `), confidence (number from 0 to 1).
No markdown, no extra keys.

Hints:
` + hintLines.String() + `
Document:
` + snippetOf(text)
}

func buildExtractionPrompt(text string, category domain.DocumentCategory) string {
	schema, ok := categorySchemas[category]
	if !ok {
		schema = categorySchemas[domain.CategoryOther]
	}
	return fmt.Sprintf(`You extract structured facts from a %s document of a personal injury case.
Return strict JSON object with these keys when present in the document:
%s
Omit keys that the document does not state. Amounts are plain numbers in US dollars.
No markdown, no commentary.

Document:
%s
`, category, schema, text)
}

package domain

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityModerate Severity = "moderate"
	SeverityMinor    Severity = "minor"
)

// Tier orders severities for evaluation: lower runs first.
func (s Severity) Tier() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityModerate:
		return 1
	default:
		return 2
	}
}

type Warning struct {
	Severity       Severity `json:"severity"`
	Category       string   `json:"category"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

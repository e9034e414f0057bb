package models

import "time"

// GoldenPathOutcome records how a golden path was last confirmed.
type GoldenPathOutcome string

// Golden path outcomes.
const (
	OutcomeApproved  GoldenPathOutcome = "approved"
	OutcomeCorrected GoldenPathOutcome = "corrected"
	OutcomeRejected  GoldenPathOutcome = "rejected"
)

// GoldenPath is a proven resolution keyed by a 16-hex content fingerprint
// over (blueprint, category, normalized input query prefix).
type GoldenPath struct {
	Fingerprint string `json:"fingerprint"`
	TenantID    string `json:"tenant_id"`
	Blueprint   string `json:"blueprint"`
	Category    string `json:"category"`
	Query       string `json:"query"`

	Resolution string   `json:"resolution"`
	Steps      []string `json:"steps,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Confidence float64  `json:"confidence"`

	Outcome      GoldenPathOutcome `json:"outcome"`
	SuccessCount int               `json:"success_count"`
	FailureCount int               `json:"failure_count"`

	UpdatedAt time.Time `json:"updated_at"`
}

// SuccessRate is success_count / (success_count + failure_count).
// A path with no observations reports 0.
func (g *GoldenPath) SuccessRate() float64 {
	total := g.SuccessCount + g.FailureCount
	if total == 0 {
		return 0
	}
	return float64(g.SuccessCount) / float64(total)
}

// ResolutionTrace is the confirmed outcome of one agent run, as captured
// by the feedback collector.
type ResolutionTrace struct {
	Blueprint  string   `json:"blueprint"`
	Category   string   `json:"category"`
	Query      string   `json:"query"`
	Resolution string   `json:"resolution"`
	Steps      []string `json:"steps,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Confidence float64  `json:"confidence"`
}

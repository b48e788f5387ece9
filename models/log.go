package models

import "time"

// IPOUpdateLog is one field-level change written during a sync update
type IPOUpdateLog struct {
	ID        string    `json:"id"`
	RunID     string    `json:"runId"`
	Symbol    string    `json:"symbol"`
	FieldName string    `json:"fieldName"`
	OldValue  string    `json:"oldValue"`
	NewValue  string    `json:"newValue"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Analysis is the narrative produced for one merged record
type Analysis struct {
	Symbol         string   `json:"symbol"`
	Summary        string   `json:"summary"`
	Recommendation string   `json:"recommendation"`
	RiskAssessment string   `json:"riskAssessment"`
	KeyInsights    []string `json:"keyInsights"`
	Provider       string   `json:"provider"`
	Fallback       bool     `json:"fallback"`
}

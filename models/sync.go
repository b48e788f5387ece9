package models

import "time"

// SyncResult summarizes one sync run
type SyncResult struct {
	RunID          string `json:"runId"`
	Success        bool   `json:"success"`
	Created        int    `json:"created"`
	Updated        int    `json:"updated"`
	Unchanged      int    `json:"unchanged"`
	Skipped        int    `json:"skipped,omitempty"` // name key matched several rows
	MarkedAsListed int    `json:"markedAsListed"`
	Total          int    `json:"total"`
	Clean          bool   `json:"clean"`
	TotalOutage    bool   `json:"totalOutage,omitempty"`
	ArchiveSkipped bool   `json:"archiveSkipped,omitempty"`
	DurationMs     int64  `json:"durationMs"`
	Error          string `json:"error,omitempty"`
}

// StoredIPO is the persisted form of a merged record
type StoredIPO struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	CompanyName string          `json:"companyName"`
	Status      string          `json:"status"`
	Record      MergedIpoRecord `json:"record"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	ArchivedAt  *time.Time      `json:"archivedAt,omitempty"`
}

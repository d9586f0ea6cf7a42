package domain

import "time"

// LongTarget is a canonical long URL shared by every mapping that points at it.
type LongTarget struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// ShortMapping pairs a short code with a long target and its owner.
type ShortMapping struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	TargetID  int64     `json:"target_id"` // 0 once a deleted mapping's target was collected
	LongURL   string    `json:"long_url"`
	OwnerID   int64     `json:"owner_id"`
	Active    bool      `json:"active"`
	Deleted   bool      `json:"deleted"`
	CreatedAt time.Time `json:"created_at"`
	Visits    int64     `json:"visits"` // Aggregated count
}

// MappingDetail is the stable shape every transport serializes for a mapping.
type MappingDetail struct {
	ID                  int64     `json:"id"`
	Code                string    `json:"code"`
	ShortURL            string    `json:"short_url"`
	LongURL             string    `json:"long_url"`
	Active              bool      `json:"active"`
	Visits              int64     `json:"visits"`
	Visitors            []string  `json:"visitors"`
	CreatedAt           time.Time `json:"created_at"`
	PreviouslyShortened bool      `json:"previously_shortened,omitempty"`
}

// ExportedMapping is the portable form used by the export/import CLI.
type ExportedMapping struct {
	Code       string    `json:"code"`
	LongURL    string    `json:"long_url"`
	OwnerEmail string    `json:"owner_email"`
	Active     bool      `json:"active"`
	Deleted    bool      `json:"deleted"`
	CreatedAt  time.Time `json:"created_at"`
}

package domain

import "time"

// Visitor is one recorded visit event to a short mapping
type Visitor struct {
	ID        int64     `json:"id"`
	MappingID int64     `json:"mapping_id"`
	IP        string    `json:"ip"`
	Browser   string    `json:"browser"`
	Platform  string    `json:"platform"`
	UserAgent string    `json:"user_agent"`
	Referer   string    `json:"referer"`
	CreatedAt time.Time `json:"created_at"`
}

// RequestMeta carries the caller attributes a visit is recorded from.
type RequestMeta struct {
	IP        string
	UserAgent string
	Referer   string
}

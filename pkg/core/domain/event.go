package domain

import "time"

// EventKind names a mapping lifecycle transition.
type EventKind string

const (
	EventCreated     EventKind = "created"
	EventRetargeted  EventKind = "retargeted"
	EventDeleted     EventKind = "deleted"
	EventActivated   EventKind = "activated"
	EventDeactivated EventKind = "deactivated"
	EventVisited     EventKind = "visited"
)

// Event is published after a mapping changes or is visited.
type Event struct {
	Kind       EventKind `json:"kind"`
	MappingID  int64     `json:"mapping_id"`
	Code       string    `json:"code"`
	OwnerID    int64     `json:"owner_id,omitempty"`
	LongURL    string    `json:"long_url,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

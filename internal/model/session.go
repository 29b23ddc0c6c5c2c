package model

import (
	"time"
)

// State is the phase of a configuration session.
type State string

const (
	StateAwaitingConsent State = "awaiting_consent"
	StateConfiguring     State = "configuring"
	StateCompleted       State = "completed"
	StateDeclined        State = "declined"
	StateClosedByUser    State = "closed_by_user"
)

// Outcome is how a session ended.
type Outcome string

const (
	OutcomeNone         Outcome = ""
	OutcomeCompleted    Outcome = "completed"
	OutcomeDeclined     Outcome = "declined"
	OutcomeClosedByUser Outcome = "closed_by_user"
	OutcomeAbandoned    Outcome = "abandoned"
)

// SessionInfo describes an active session on an agent worker.
type SessionInfo struct {
	Room      string    `json:"room"`
	JobID     string    `json:"job_id"`
	State     State     `json:"state"`
	Selected  int       `json:"selected_options"`
	StartedAt time.Time `json:"started_at"`
}

// Snapshot is the live view of a session's document kept for late observers.
type Snapshot struct {
	Room      string    `json:"room"`
	State     State     `json:"state"`
	Document  *Document `json:"document"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

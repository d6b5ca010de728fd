package models

import "time"

const (
	EventRunCompleted      = "RUN_COMPLETED"
	EventCandidatesUpdated = "CANDIDATES_UPDATED"
)

// ScreenerEvent represents a Kafka event emitted after a pipeline run
type ScreenerEvent struct {
	EventType  string            `json:"event_type"`
	RunID      string            `json:"run_id"`
	RunDate    string            `json:"run_date"`
	Report     *RunReport        `json:"report,omitempty"`
	Candidates []RankedCandidate `json:"candidates,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

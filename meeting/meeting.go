// Package meeting defines the persistent meeting and agent records consumed
// by the orchestration engine, and the store interface through which status
// transitions are applied.
package meeting

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a meeting record.
type Status string

const (
	StatusUpcoming   Status = "upcoming"
	StatusActive     Status = "active"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ErrNotFound is returned when a referenced meeting or agent does not exist.
var ErrNotFound = errors.New("meeting: not found")

// Meeting is a scheduled call with an assigned AI agent.
type Meeting struct {
	ID            string
	AgentID       string
	Status        Status
	TranscriptURL string
	RecordingURL  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Agent describes an AI participant configuration.
type Agent struct {
	ID           string
	UserID       string
	Name         string
	Instructions string
}

// Store reads meeting/agent records and applies guarded status transitions.
// Transitions are conditional updates: they take effect only when the
// current status satisfies the predicate, so concurrent webhook deliveries
// resolve without locks.
type Store interface {
	// Meeting returns the meeting record or ErrNotFound.
	Meeting(ctx context.Context, id string) (*Meeting, error)

	// Agent returns the agent record or ErrNotFound.
	Agent(ctx context.Context, id string) (*Agent, error)

	// TransitionFrom moves the meeting to the target status only when it
	// currently holds from. It reports whether the transition was applied.
	TransitionFrom(ctx context.Context, id string, from, to Status) (bool, error)

	// TransitionUnless moves the meeting to the target status only when its
	// current status is outside deny. It reports whether the transition was
	// applied.
	TransitionUnless(ctx context.Context, id string, to Status, deny ...Status) (bool, error)

	// SetTranscriptURL records the transcript asset location.
	SetTranscriptURL(ctx context.Context, id, url string) error

	// SetRecordingURL records the recording asset location.
	SetRecordingURL(ctx context.Context, id, url string) error
}

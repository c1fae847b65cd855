package workflow

import (
	"context"
	"time"

	"dokimi/internal/conversation"
)

// Kind aliases the generation workflow identifier shared with the
// conversation log vocabulary.
type Kind = conversation.GenKind

const (
	KindRequirements = conversation.GenRequirements
	KindScenarios    = conversation.GenScenarios
	KindTestCases    = conversation.GenTestCases
)

// Status is the orchestrator-side lifecycle of one workflow kind.
type Status string

const (
	StatusNotStarted           Status = "not_started"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusInProgress           Status = "in_progress"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
)

// Job status strings as the service reports them.
const (
	JobNotStarted = "Not Started"
	JobInProgress = "In Progress"
	JobCompleted  = "Completed"
	JobFailed     = "Failed"
)

// JobStatus is one poll result for a generation job.
type JobStatus struct {
	State         string
	Confirmed     bool
	TotalInserted int
	HasTotal      bool
}

// JobClient is the slice of the service API the orchestrator needs.
type JobClient interface {
	GenerationStatus(ctx context.Context, kind Kind, conversationID string) (JobStatus, error)
	StartGeneration(ctx context.Context, kind Kind, conversationID string) error
}

// State is the orchestrator's view of one (conversation, kind) workflow.
// It is mutated only under the owning orchestrator's lock.
type State struct {
	Status Status
	// Confirmed is true once the user accepted the confirmation dialog
	// for this conversation+kind. Sourced from server truth on load and
	// set optimistically on accept.
	Confirmed bool
	// Handled is true once the latest turn's confirmation request was
	// acted on (accepted or dismissed), so a log replay cannot reopen
	// the dialog.
	Handled bool
	// StartedAt anchors the polling ceiling. Zero while not polling.
	StartedAt time.Time
}

// Level classifies a notification for the presentation layer.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a one-shot message surfaced to the user on a terminal
// workflow transition or a failed job start.
type Notification struct {
	Kind    Kind
	Level   Level
	Message string
}

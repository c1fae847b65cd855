package conversation

import (
	"encoding/json"
	"time"
)

// EntryKind discriminates raw log entries. The store is append-only and
// entries are never mutated after insert.
type EntryKind string

const (
	EntryUser   EntryKind = "user"
	EntrySystem EntryKind = "system"
	EntryMarker EntryKind = "marker"
)

// GenKind identifies one generation workflow. The same values appear as
// path segments in the service API and as prefixes in envelope event names.
type GenKind string

const (
	GenRequirements GenKind = "requirements"
	GenScenarios    GenKind = "scenarios"
	GenTestCases    GenKind = "testcases"
)

// Kinds lists every generation workflow in a stable order.
func Kinds() []GenKind {
	return []GenKind{GenRequirements, GenScenarios, GenTestCases}
}

// ArtifactKind says what externally stored content a marker points at.
type ArtifactKind string

const (
	ArtifactFile         ArtifactKind = "file"
	ArtifactRequirements ArtifactKind = "requirements"
	ArtifactScenarios    ArtifactKind = "scenarios"
	ArtifactTestCases    ArtifactKind = "testcases"
)

// Attachment describes a file the user sent along with a message.
type Attachment struct {
	Name   string `json:"name"`
	FileID string `json:"file_id"`
}

// Marker is the payload of an EntryMarker log entry. It carries no
// displayable text; the referenced content lives behind the artifact
// fetch endpoints and is spliced into the timeline after the fact.
type Marker struct {
	ArtifactKind    ArtifactKind `json:"artifact_kind"`
	ArtifactRef     string       `json:"artifact_ref"`
	ConversationRef string       `json:"conversation_ref"`
}

// LogEntry is one row of a conversation's append-only log. Text is set
// for user and system entries; Marker for marker entries. The store does
// not guarantee returned order, callers sort by CreatedAt.
type LogEntry struct {
	ID         string          `json:"id"`
	Kind       EntryKind       `json:"kind"`
	CreatedAt  time.Time       `json:"created_at"`
	Text       string          `json:"text,omitempty"`
	Attachment *Attachment     `json:"attachment,omitempty"`
	Marker     *Marker         `json:"marker,omitempty"`
	Traces     json.RawMessage `json:"traces,omitempty"`
}

// Role is the display role of a decoded turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Signal is the workflow transition a system turn asks for.
type Signal string

const (
	SignalConfirmationRequired Signal = "confirmation_required"
	SignalInProgress           Signal = "in_progress"
)

// Event is a workflow transition decoded out of a system turn's envelope.
type Event struct {
	Kind   GenKind
	Signal Signal
}

// DecodedTurn is the derived, displayable form of a user or system entry.
// Event is nil unless the entry's envelope carried a recognized system
// event that survived the latest-turn and already-handled gates.
type DecodedTurn struct {
	ID          string
	Role        Role
	DisplayText string
	Attachment  *Attachment
	Event       *Event
	Traces      json.RawMessage
}

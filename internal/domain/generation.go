package domain

import (
	"time"

	"github.com/google/uuid"
)

// Phase is a state of the generation workflow for one school.
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseResolvingClasses  Phase = "resolving_classes"
	PhaseSubmitting        Phase = "submitting"
	PhaseRefreshingSummary Phase = "refreshing_summary"
	PhaseAborted           Phase = "aborted"
)

// Busy reports whether a run is in flight in this phase.
func (p Phase) Busy() bool {
	return p != PhaseIdle && p != ""
}

// GenerationRequest is built fresh for every attempt and never persisted.
type GenerationRequest struct {
	ClassIDs   []ClassID `json:"class_ids"`
	Regenerate bool      `json:"regenerate"`
}

// NewGenerationRequest collects the ids of classes, dropping duplicates while
// keeping the listing order.
func NewGenerationRequest(classes []Class, regenerate bool) GenerationRequest {
	seen := make(map[ClassID]struct{}, len(classes))
	ids := make([]ClassID, 0, len(classes))
	for _, c := range classes {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		ids = append(ids, c.ID)
	}
	return GenerationRequest{ClassIDs: ids, Regenerate: regenerate}
}

// Accepted is the remote acknowledgement of a generation request.
type Accepted struct {
	Message   string
	Note      string
	Generated int
}

type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeSkipped OutcomeKind = "skipped"
)

// Well-known outcome reasons.
const (
	ReasonNoClasses        = "no classes found"
	ReasonGenerationFailed = "generation failed"
	ReasonSchoolNotFound   = "school not found"
	ReasonCancelled        = "cancelled"
)

// Outcome is the terminal result of one generation attempt.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Reason string      `json:"reason,omitempty"`
}

func Success() Outcome              { return Outcome{Kind: OutcomeSuccess} }
func Failure(reason string) Outcome { return Outcome{Kind: OutcomeFailure, Reason: reason} }
func Skipped(reason string) Outcome { return Outcome{Kind: OutcomeSkipped, Reason: reason} }

// Level classifies how an outcome is presented to the user.
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

func (o Outcome) Level() Level {
	switch o.Kind {
	case OutcomeSuccess:
		return LevelSuccess
	case OutcomeSkipped:
		return LevelWarning
	default:
		return LevelError
	}
}

// Message is the user-facing text for the outcome. Unknown reasons, such as a
// remote validation message, are returned verbatim.
func (o Outcome) Message() string {
	if o.Kind == OutcomeSuccess {
		return "Timetables generated successfully!"
	}
	switch o.Reason {
	case ReasonNoClasses:
		return "No classes found. Please add classes first."
	case ReasonGenerationFailed:
		return "Failed to generate timetables"
	case ReasonSchoolNotFound:
		return "School not found"
	case ReasonCancelled:
		return "Generation cancelled"
	case "":
		if o.Kind == OutcomeSkipped {
			return "Generation skipped"
		}
		return "Failed to generate timetables"
	}
	return o.Reason
}

// StateChange is emitted on every transition of a school's generation phase.
type StateChange struct {
	RunID    uuid.UUID
	SchoolID SchoolID
	From     Phase
	To       Phase
	Reason   string
	At       time.Time
}

// GenerationRun is the audit record of one finished attempt.
type GenerationRun struct {
	ID           uuid.UUID
	SchoolID     SchoolID
	Outcome      Outcome
	ClassCount   int
	RefreshError string

	StartedAt  time.Time
	FinishedAt time.Time
}

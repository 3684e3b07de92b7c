// ABOUTME: Conversation session, state, inbound event, and outbound message types
// ABOUTME: Inbound events are a closed tagged union handled by an exhaustive switch

package conversation

import (
	"time"

	"github.com/2389/herald/internal/media"
)

// State is a step of the publishing conversation.
type State string

const (
	StateIdle                  State = "idle"
	StateAwaitingTopic         State = "awaiting_topic"
	StateGenerating            State = "generating"
	StateAwaitingMediaDecision State = "awaiting_media_decision"
	StateAwaitingMedia         State = "awaiting_media"
	StatePreviewing            State = "previewing"
	StateEditing               State = "editing"
	StatePublishing            State = "publishing"
	StateDone                  State = "done"
	StateCancelled             State = "cancelled"
)

// Terminal reports whether the state ends a conversation.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled
}

// Busy reports whether an async operation owns the session.
func (s State) Busy() bool {
	return s == StateGenerating || s == StatePublishing
}

// Session is the per-user conversation record. At most one exists per user.
type Session struct {
	UserID          string
	State           State
	Topic           string
	DraftText       string
	Media           *media.StagedMedia
	PublishAttempts int
	// OpID names the in-flight async operation; empty when none.
	OpID      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// clone returns a copy safe to hand across the store boundary.
func (s *Session) clone() *Session {
	c := *s
	if s.Media != nil {
		m := *s.Media
		c.Media = &m
	}
	return &c
}

// Choice is an option offered to the user, rendered by the front end as a
// button or keyword.
type Choice string

const (
	ChoicePost        Choice = "post"
	ChoiceAttachMedia Choice = "attach_media"
	ChoiceSkipMedia   Choice = "skip_media"
	ChoiceEdit        Choice = "edit"
	ChoiceApprove     Choice = "approve"
	ChoiceRegenerate  Choice = "regenerate"
	ChoiceCancel      Choice = "cancel"
)

// Event is an inbound user action.
type Event interface {
	eventKind() string
}

// Command is a slash command such as /start or /cancel, without the slash.
type Command struct {
	Name string
	Args string
}

// ButtonChoice is the user picking one of the offered choices.
type ButtonChoice struct {
	Choice Choice
}

// TextMessage is free text.
type TextMessage struct {
	Text string
}

// MediaMessage is an uploaded file.
type MediaMessage struct {
	Data     []byte
	Filename string
	MimeType string
}

func (Command) eventKind() string { return "command" }
func (ButtonChoice) eventKind() string { return "choice" }
func (TextMessage) eventKind() string { return "text" }
func (MediaMessage) eventKind() string { return "media" }

// Outbound is one message for the user. Front ends render Choices as
// buttons or keywords and attach Media when set.
type Outbound struct {
	Text    string
	Media   *media.StagedMedia
	Choices []Choice
}

// PublishRecord is one ledger entry for a publish attempt.
type PublishRecord struct {
	ID          string
	UserID      string
	Topic       string
	Text        string
	HadMedia    bool
	Success     bool
	Locator     string
	ErrorKind   string
	ErrorDetail string
	Attempts    int
	CreatedAt   time.Time
}

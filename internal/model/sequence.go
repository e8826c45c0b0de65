package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/outreach-engine/pkg/errors"
)

// Condition gates whether a step's message is actually sent.
type Condition string

const (
	ConditionAlways       Condition = "ALWAYS"
	ConditionIfNoReply    Condition = "IF_NO_REPLY"
	ConditionIfNotOpened  Condition = "IF_NOT_OPENED"
	ConditionIfNotClicked Condition = "IF_NOT_CLICKED"
)

// ParseCondition converts a stored condition into a Condition. Unknown values
// are rejected rather than treated as ALWAYS.
func ParseCondition(s string) (Condition, error) {
	c := Condition(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case ConditionAlways, ConditionIfNoReply, ConditionIfNotOpened, ConditionIfNotClicked:
		return c, nil
	default:
		return "", apperrors.Wrap(apperrors.ErrInvalidCondition, fmt.Errorf("%q", s))
	}
}

// ContentSource is where a step's subject and body come from. The only
// implementations are TemplateContent and PromptContent.
type ContentSource interface {
	contentSource()
	Kind() string
}

// TemplateContent renders a stored email template verbatim.
type TemplateContent struct {
	TemplateID uuid.UUID
}

func (TemplateContent) contentSource() {}

func (TemplateContent) Kind() string { return "template" }

// PromptContent asks the AI service to write the message.
type PromptContent struct {
	Prompt string
}

func (PromptContent) contentSource() {}

func (PromptContent) Kind() string { return "ai" }

// NewContentSource builds the content source of a stored step, which carries
// exactly one of a template id or an AI prompt.
func NewContentSource(templateID *uuid.UUID, prompt *string) (ContentSource, error) {
	hasTemplate := templateID != nil && *templateID != uuid.Nil
	hasPrompt := prompt != nil && strings.TrimSpace(*prompt) != ""

	switch {
	case hasTemplate && hasPrompt:
		return nil, apperrors.ErrConflictingContent
	case hasTemplate:
		return TemplateContent{TemplateID: *templateID}, nil
	case hasPrompt:
		return PromptContent{Prompt: strings.TrimSpace(*prompt)}, nil
	default:
		return nil, apperrors.ErrMissingContentSource
	}
}

// Step is one unit of a sequence.
type Step struct {
	ID         uuid.UUID     `json:"id"`
	SequenceID uuid.UUID     `json:"sequence_id"`
	StepOrder  int           `json:"step_order"`
	DelayDays  int           `json:"delay_days"`
	Condition  Condition     `json:"condition"`
	Content    ContentSource `json:"-"`
}

// Delay is how long after the previous step this step becomes due.
func (s Step) Delay() time.Duration {
	if s.DelayDays <= 0 {
		return 0
	}
	return time.Duration(s.DelayDays) * 24 * time.Hour
}

type Sequence struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	CreatedByID    uuid.UUID `json:"created_by_id"`
	Name           string    `json:"name"`
	IsActive       bool      `json:"is_active"`
	TrackOpens     bool      `json:"track_opens"`
	Steps          []Step    `json:"steps"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StepAt returns the step at index i. Steps are stored ordered by StepOrder.
func (s *Sequence) StepAt(i int) (Step, bool) {
	if s == nil || i < 0 || i >= len(s.Steps) {
		return Step{}, false
	}
	return s.Steps[i], true
}

// EmailTemplate is a static subject/body pair. Merge variables are left for the
// delivery channel to interpolate.
type EmailTemplate struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	Name           string    `json:"name" db:"name"`
	Subject        string    `json:"subject" db:"subject"`
	Body           string    `json:"body" db:"body"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// MessageContent is a resolved subject and body ready for dispatch.
type MessageContent struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

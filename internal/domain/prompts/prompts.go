package prompts

import (
	"strings"
)

// AttributeValue is one attribute/value pair submitted for prompt generation.
type AttributeValue struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// Name is the attribute with surrounding whitespace removed. Matching stays case-sensitive.
func (a AttributeValue) Name() string { return strings.TrimSpace(a.Attribute) }

type Mode string

const (
	ModeCreate     Mode = "create"
	ModeLookupOnly Mode = "lookup_only"
)

func (m Mode) Valid() bool { return m == ModeCreate || m == ModeLookupOnly }

// Outcome names the terminal state a pipeline run ended in.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomePartial      Outcome = "partial"
	OutcomeEarlySuccess Outcome = "early_success"
	OutcomeEarlyFailure Outcome = "early_failure"
	OutcomeFatal        Outcome = "fatal"
	OutcomeUpdateFailed Outcome = "partial_success_with_update_failure"
)

// Status labels written to the parent record.
const (
	StatusCompleted          = "completed"
	StatusPartiallyCompleted = "partially_completed"
	StatusNoMatchingFields   = "no_matching_fields"
	StatusFailed             = "failed"
)

// Stage names used in per-item errors and detailed results.
const (
	StageResolve = "resolve"
	StageCreate  = "create"
	StageUpdate  = "update"
)

// ItemError is a per-item failure carried in pipeline results.
type ItemError struct {
	Index     int    `json:"index"`
	Attribute string `json:"attribute,omitempty"`
	Stage     string `json:"stage"`
	Kind      string `json:"kind,omitempty"`
	Error     string `json:"error"`
}

// SkippedItem is a lookup-only miss.
type SkippedItem struct {
	Index     int    `json:"index"`
	Attribute string `json:"attribute"`
	Reason    string `json:"reason"`
}

// ItemResult tracks one input attribute through every stage.
type ItemResult struct {
	Index             int    `json:"index"`
	Attribute         string `json:"attribute"`
	Value             string `json:"value"`
	Status            string `json:"status"`
	PromptFieldID     string `json:"prompt_field_id,omitempty"`
	FieldCreated      bool   `json:"field_created"`
	GeneratedPromptID string `json:"generated_prompt_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Item statuses.
const (
	ItemResolved      = "resolved"
	ItemSkipped       = "skipped"
	ItemResolveFailed = "resolve_failed"
	ItemCreated       = "created"
	ItemCreateFailed  = "create_failed"
)

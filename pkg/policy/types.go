package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that are reported but do not block an edit.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block an edit.
	SeverityError Severity = "error"
)

// blocking reports whether a violation of this severity rejects the edit.
func (s Severity) blocking() bool {
	return s == SeverityError
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. It must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Violation is one entry of a policy's deny set.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Attribute is the dotted option path the violation concerns.
	Attribute string `json:"attribute,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy against one
// input.
type Result struct {
	// Allowed is false when any violation has error severity.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that do not block the edit.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	Update  UpdateInput  `json:"update"`
	Option  *OptionInput `json:"option,omitempty"`
	Context Context      `json:"context"`
}

// UpdateInput describes the proposed edit.
type UpdateInput struct {
	// Kind is the update kind: change_definition, create, rename or remove.
	Kind string `json:"kind"`

	// Attribute is the dotted path of the edited option. For a rename it is
	// the path before the rename.
	Attribute string `json:"attribute"`

	// Path holds the segments of Attribute.
	Path []string `json:"path"`

	// RenamedTo is the new dotted path of a rename.
	RenamedTo string `json:"renamed_to,omitempty"`

	// Defined is set when Value holds a definition.
	Defined bool `json:"defined"`

	// Value is the new definition of a change or create.
	Value any `json:"value,omitempty"`

	// ValueKind is the schema kind of Value, or "null".
	ValueKind string `json:"value_kind,omitempty"`

	// Previous is the definition being replaced, if any.
	Previous any `json:"previous,omitempty"`

	// Removed is the number of nodes a remove detaches.
	Removed int `json:"removed,omitempty"`
}

// OptionInput is the schema entry of the edited option.
type OptionInput struct {
	Description string `json:"description"`
	ReadOnly    bool   `json:"read_only"`
	Kind        string `json:"kind"`
	Type        string `json:"type"`
}

// Context carries information about the edit session.
type Context struct {
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrDenied matches every ViolationError with errors.Is.
var ErrDenied = errors.New("edit denied by policy")

// ViolationError is returned by Guard.Check when an edit violates a
// blocking policy.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = fmt.Sprintf("%s: %s", v.Policy, v.Message)
	}
	return fmt.Sprintf("%v: %s", ErrDenied, strings.Join(msgs, "; "))
}

func (e *ViolationError) Unwrap() error {
	return ErrDenied
}

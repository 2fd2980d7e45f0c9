package nixeval

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass classifies evaluator failures.
type ErrorClass string

const (
	// ErrorClassEvaluation means the evaluator ran and reported an error,
	// such as a syntax error, a missing attribute or a failed assertion.
	ErrorClassEvaluation ErrorClass = "evaluation"

	// ErrorClassDecode means the evaluator exited cleanly but its output was
	// not valid JSON.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassLaunch means the evaluator process could not be started.
	ErrorClassLaunch ErrorClass = "launch"

	// ErrorClassCanceled means the caller's context ended the evaluation.
	ErrorClassCanceled ErrorClass = "canceled"
)

// EvaluationError is returned for every failed evaluation.
type EvaluationError struct {
	// Class is the failure classification.
	Class ErrorClass `json:"class"`

	// Expression is the Nix expression that was evaluated.
	Expression string `json:"expression"`

	// Diagnostics is the evaluator's error output from the final attempt.
	Diagnostics string `json:"diagnostics,omitempty"`

	// Attempts is the number of evaluator processes started.
	Attempts int `json:"attempts"`

	// ExitCode is the evaluator's exit status from the final attempt.
	ExitCode int `json:"exit_code"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EvaluationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] nix evaluation failed", e.Class)
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Diagnostics != "" {
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(e.Diagnostics))
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Is matches another *EvaluationError of the same class, so callers can
// test errors.Is(err, &EvaluationError{Class: ErrorClassDecode}).
func (e *EvaluationError) Is(target error) bool {
	t, ok := target.(*EvaluationError)
	if !ok {
		return false
	}
	return t.Class == "" || t.Class == e.Class
}

// IsEvaluationError reports whether err carries an *EvaluationError.
func IsEvaluationError(err error) bool {
	var evalErr *EvaluationError
	return errors.As(err, &evalErr)
}

// Diagnostics extracts the evaluator diagnostics from err, or "".
func Diagnostics(err error) string {
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return evalErr.Diagnostics
	}
	return ""
}

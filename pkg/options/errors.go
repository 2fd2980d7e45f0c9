package options

import (
	"errors"
	"fmt"

	"github.com/boredom101/nix-gui/pkg/attribute"
)

// Structural errors returned when an update does not fit the tree.
var (
	ErrAttributeNotFound  = errors.New("attribute not found")
	ErrAttributeExists    = errors.New("attribute already exists")
	ErrParentNotFound     = errors.New("parent attribute not found")
	ErrRootModification   = errors.New("the root attribute cannot be modified")
	ErrDefinitionMismatch = errors.New("current definition does not match the update")
	ErrInvalidRename      = errors.New("an attribute cannot be renamed into its own subtree")

	// ErrUndoUnderflow is returned by Undo when the log is empty. Callers
	// are expected to check Log.Len first.
	ErrUndoUnderflow = errors.New("nothing to undo")

	// ErrRedoUnderflow is returned by Redo when no undone update is pending.
	ErrRedoUnderflow = errors.New("nothing to redo")
)

// TreeError describes an update that could not be applied or reverted.
type TreeError struct {
	// Op is the update kind or editor operation that failed.
	Op string

	// Attribute is the attribute the failure concerns.
	Attribute attribute.Attribute

	// Err is one of the sentinel errors above, or a guard rejection.
	Err error
}

func (e *TreeError) Error() string {
	if e.Attribute.IsRoot() {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Attribute, e.Err)
}

func (e *TreeError) Unwrap() error {
	return e.Err
}

func treeError(op string, attr attribute.Attribute, err error) error {
	return &TreeError{Op: op, Attribute: attr, Err: err}
}

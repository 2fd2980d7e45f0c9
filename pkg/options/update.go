package options

import (
	"fmt"

	"github.com/boredom101/nix-gui/pkg/attribute"
)

// Kind names an update variant.
type Kind string

const (
	KindChangeDefinition Kind = "change_definition"
	KindCreate           Kind = "create"
	KindRename           Kind = "rename"
	KindRemove           Kind = "remove"
)

// Update is a reversible mutation of a Tree. The set of implementations is
// closed: ChangeDefinition, Create, Rename and Remove.
type Update interface {
	Kind() Kind
	sealed()
}

// ChangeDefinition replaces the definition of an existing attribute.
type ChangeDefinition struct {
	Attribute attribute.Attribute
	Old       Definition
	New       Definition
}

// Create inserts a new attribute under an existing parent.
type Create struct {
	Attribute  attribute.Attribute
	Definition Definition
}

// Rename moves an attribute and its subtree to a new key.
type Rename struct {
	Old attribute.Attribute
	New attribute.Attribute
}

// Remove detaches an attribute and its subtree. Deleted holds the subtree as
// it was at removal time; build it with NewRemove.
type Remove struct {
	Attribute attribute.Attribute
	Deleted   Subtree
}

func (ChangeDefinition) Kind() Kind { return KindChangeDefinition }
func (Create) Kind() Kind           { return KindCreate }
func (Rename) Kind() Kind           { return KindRename }
func (Remove) Kind() Kind           { return KindRemove }

func (ChangeDefinition) sealed() {}
func (Create) sealed()           {}
func (Rename) sealed()           {}
func (Remove) sealed()           {}

// NewRemove captures the subtree at attr for a Remove update.
func NewRemove(t *Tree, attr attribute.Attribute) (Remove, error) {
	if attr.IsRoot() {
		return Remove{}, treeError(string(KindRemove), attr, ErrRootModification)
	}
	if !t.Has(attr) {
		return Remove{}, treeError(string(KindRemove), attr, ErrAttributeNotFound)
	}
	return Remove{Attribute: attr, Deleted: t.subtree(attr)}, nil
}

// Target returns the attribute an update leaves behind in the tree: the
// new key for a Rename, otherwise the attribute it concerns.
func Target(u Update) attribute.Attribute {
	switch u := u.(type) {
	case ChangeDefinition:
		return u.Attribute
	case Create:
		return u.Attribute
	case Rename:
		return u.New
	case Remove:
		return u.Attribute
	}
	panic(fmt.Sprintf("options: unknown update %T", u))
}

// apply checks u against t and performs it. t is left untouched on error.
func apply(t *Tree, u Update) error {
	op := string(u.Kind())
	switch u := u.(type) {
	case ChangeDefinition:
		if u.Attribute.IsRoot() {
			return treeError(op, u.Attribute, ErrRootModification)
		}
		current, ok := t.Definition(u.Attribute)
		if !ok {
			return treeError(op, u.Attribute, ErrAttributeNotFound)
		}
		if !current.Equal(u.Old) {
			return treeError(op, u.Attribute, ErrDefinitionMismatch)
		}
		t.setDefinition(u.Attribute, u.New)

	case Create:
		if err := checkInsertable(t, op, u.Attribute); err != nil {
			return err
		}
		t.insert(u.Attribute, u.Definition)

	case Rename:
		return move(t, op, u.Old, u.New)

	case Remove:
		if u.Attribute.IsRoot() {
			return treeError(op, u.Attribute, ErrRootModification)
		}
		if !t.Has(u.Attribute) {
			return treeError(op, u.Attribute, ErrAttributeNotFound)
		}
		if !t.subtree(u.Attribute).Equal(u.Deleted) {
			return treeError(op, u.Attribute, ErrDefinitionMismatch)
		}
		t.detach(u.Attribute)

	default:
		panic(fmt.Sprintf("options: unknown update %T", u))
	}
	return nil
}

// Revert undoes u on a tree in the state u left it in.
func Revert(t *Tree, u Update) error {
	op := "revert " + string(u.Kind())
	switch u := u.(type) {
	case ChangeDefinition:
		current, ok := t.Definition(u.Attribute)
		if !ok {
			return treeError(op, u.Attribute, ErrAttributeNotFound)
		}
		if !current.Equal(u.New) {
			return treeError(op, u.Attribute, ErrDefinitionMismatch)
		}
		t.setDefinition(u.Attribute, u.Old)

	case Create:
		if u.Attribute.IsRoot() {
			return treeError(op, u.Attribute, ErrRootModification)
		}
		if !t.Has(u.Attribute) {
			return treeError(op, u.Attribute, ErrAttributeNotFound)
		}
		t.detach(u.Attribute)

	case Rename:
		return move(t, op, u.New, u.Old)

	case Remove:
		if err := checkInsertable(t, op, u.Attribute); err != nil {
			return err
		}
		if u.Deleted.Root() != u.Attribute {
			return treeError(op, u.Attribute, ErrDefinitionMismatch)
		}
		t.attach(u.Deleted)

	default:
		panic(fmt.Sprintf("options: unknown update %T", u))
	}
	return nil
}

func checkInsertable(t *Tree, op string, attr attribute.Attribute) error {
	switch {
	case attr.IsRoot():
		return treeError(op, attr, ErrRootModification)
	case t.Has(attr):
		return treeError(op, attr, ErrAttributeExists)
	case !t.Has(attr.Parent()):
		return treeError(op, attr, ErrParentNotFound)
	}
	return nil
}

func move(t *Tree, op string, from, to attribute.Attribute) error {
	if from.IsRoot() {
		return treeError(op, from, ErrRootModification)
	}
	if to.HasPrefix(from) {
		return treeError(op, to, ErrInvalidRename)
	}
	if !t.Has(from) {
		return treeError(op, from, ErrAttributeNotFound)
	}
	if err := checkInsertable(t, op, to); err != nil {
		return err
	}
	t.attach(t.detach(from).moved(to))
	return nil
}

// Merge combines next with the update before it in the log. It returns false
// when the pair does not collapse into one logical change.
//
// Two ChangeDefinitions of the same attribute merge into one spanning both.
// A Rename of an attribute that was just created merges into a Create at the
// new key.
func Merge(previous, next Update) (Update, bool) {
	switch next := next.(type) {
	case ChangeDefinition:
		if prev, ok := previous.(ChangeDefinition); ok && prev.Attribute == next.Attribute {
			return ChangeDefinition{Attribute: next.Attribute, Old: prev.Old, New: next.New}, true
		}
	case Rename:
		if prev, ok := previous.(Create); ok && prev.Attribute == next.Old {
			return Create{Attribute: next.New, Definition: prev.Definition}, true
		}
	}
	return nil, false
}

// Details describes u for logs and status messages.
func Details(u Update) string {
	switch u := u.(type) {
	case ChangeDefinition:
		return fmt.Sprintf("Changed %s from %s -> %s", u.Attribute, u.Old, u.New)
	case Create:
		return fmt.Sprintf("Created %s", u.Attribute)
	case Rename:
		return fmt.Sprintf("Renamed attribute %s to %s", u.Old, u.New)
	case Remove:
		return fmt.Sprintf("Removed attribute %s", u.Attribute)
	}
	panic(fmt.Sprintf("options: unknown update %T", u))
}

// ImpactedAttribute returns the attribute a front end should focus after u
// is reverted. A reverted Create no longer exists, so its parent is used.
func ImpactedAttribute(u Update) attribute.Attribute {
	switch u := u.(type) {
	case ChangeDefinition:
		return u.Attribute
	case Create:
		return u.Attribute.Parent()
	case Rename:
		return u.Old
	case Remove:
		return u.Attribute
	}
	panic(fmt.Sprintf("options: unknown update %T", u))
}

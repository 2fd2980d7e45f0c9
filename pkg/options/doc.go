// Package options holds the in-memory NixOS option tree of an editing
// session and its undo history.
//
// The tree is changed only by applying an Update through an Editor. Every
// update carries what it needs to revert itself, so undoing updates in
// reverse order restores every earlier state exactly:
//
//	ed := options.NewEditor(tree, options.EditorConfig{Logger: logger})
//	_ = ed.SetDefinition(ctx, attribute.MustParse("services.openssh.enable"), options.NewDefinition(true))
//	focus, _ := ed.Undo(ctx)
//
// Consecutive edits of one option collapse into a single undo step, and so
// does renaming an option that was just created.
package options

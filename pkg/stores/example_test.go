package stores_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/boredom101/nix-gui/pkg/attribute"
	"github.com/boredom101/nix-gui/pkg/options"
	"github.com/boredom101/nix-gui/pkg/stores"
)

// ExampleSQLiteStore_Record shows an editor recording its actions in the
// journal.
func ExampleSQLiteStore_Record() {
	dir, err := os.MkdirTemp("", "nixgui-journal")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(dir, "journal.db")})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	if err := store.CreateSession(ctx, &stores.Session{
		ID:         "session-1",
		ModulePath: "/etc/nixos/configuration.nix",
		StartedAt:  time.Now(),
	}); err != nil {
		log.Fatal(err)
	}

	tree := options.BuildTree(map[attribute.Attribute]options.Definition{
		attribute.New("networking", "hostName"): options.NewDefinition("nixos"),
	})
	editor := options.NewEditor(tree, options.EditorConfig{Journal: store, SessionID: "session-1"})
	if err := editor.SetDefinition(ctx, attribute.New("networking", "hostName"), options.NewDefinition("desktop")); err != nil {
		log.Fatal(err)
	}

	records, err := store.ListJournal(ctx, stores.JournalFilter{SessionID: "session-1"})
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range records {
		fmt.Printf("%d %s %s\n", r.Sequence, r.Action, r.Details)
	}
	// Output: 1 apply Changed networking.hostName from "nixos" -> "desktop"
}

// Package config loads the nix-gui configuration.
//
// Configuration files are YAML (or JSON) or CUE. Both are checked against
// the embedded CUE schema (schema.cue) and the validator tags of Config,
// and fields a file leaves out keep their Default values:
//
//	cache_dir: ~/.cache/nix-gui/func_cache
//	evaluator:
//	  binary: nix-instantiate
//	  search_path: ["nixpkgs=/nix/var/nix/profiles/per-user/root/channels/nixos"]
//	remote:
//	  host: build.example.org
//	  user: admin
//	journal:
//	  path: ~/.local/state/nix-gui/journal.db
//	policy:
//	  paths: [/etc/nix-gui/policies]
//	  watch: true
//	log:
//	  level: debug
//
// Errors are reported as ValidationErrors with file positions where the
// CUE evaluator provides them.
package config

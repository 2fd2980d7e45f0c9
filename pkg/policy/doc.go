// Package policy vets option edits with Open Policy Agent (OPA) Rego
// policies.
//
// # Architecture
//
//  1. Engine - compiles Rego policies and evaluates an Input against them
//  2. Loader - loads policies from .rego and JSON files and watches them
//  3. Guard - turns editor updates into Input and implements options.Guard
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	guard, err := policy.NewGuard(policy.GuardConfig{Engine: eng, Schema: schema, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	editor := options.NewEditor(tree, options.EditorConfig{Guard: guard, Logger: logger})
//
// A rejected edit returns an error matching policy.ErrDenied.
//
// # Built-in Policies
//
//  1. read-only - rejects edits of options the schema marks read-only
//  2. kind-mismatch - rejects values whose kind differs from the option type
//  3. state-version - warns when system.stateVersion is edited
//
// # Custom Policies
//
// A policy defines a deny set in its own package. Entries are a message
// string or an object with message, severity and attribute keys:
//
//	package local.policies.firewall
//
//	import rego.v1
//
//	# severity: error
//	deny contains violation if {
//	    input.update.attribute == "networking.firewall.enable"
//	    input.update.value == false
//	    violation := {"message": "the firewall must stay enabled"}
//	}
//
// The input document holds the proposed update (kind, attribute, path,
// value, value_kind, previous, renamed_to, removed), the schema entry of the
// edited option when known, and the session context.
package policy

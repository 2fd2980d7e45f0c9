package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		readOnlyPolicy(),
		kindMismatchPolicy(),
		stateVersionPolicy(),
	}
}

// readOnlyPolicy rejects edits of options the schema marks read-only.
func readOnlyPolicy() Policy {
	return Policy{
		Name:        "read-only",
		Description: "Rejects edits of read-only options",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"schema"},
		Rego: `package nixgui.policies.readonly

import rego.v1

deny contains violation if {
	input.option.read_only
	violation := {
		"message": sprintf("%s is read-only", [input.update.attribute]),
		"attribute": input.update.attribute,
	}
}
`,
	}
}

// kindMismatchPolicy rejects definitions whose value does not match the
// option type. String options are not checked since unrecognized types
// are reported as strings.
func kindMismatchPolicy() Policy {
	return Policy{
		Name:        "kind-mismatch",
		Description: "Rejects definitions whose value kind differs from the option type",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"schema", "types"},
		Rego: `package nixgui.policies.kinds

import rego.v1

checked_kinds := {"boolean", "int", "float", "list", "set"}

compatible(option_kind, value_kind) if option_kind == value_kind

compatible(option_kind, value_kind) if {
	option_kind == "float"
	value_kind == "int"
}

deny contains violation if {
	input.update.kind in {"change_definition", "create"}
	input.update.defined
	input.update.value_kind != "null"
	kind := input.option.kind
	kind in checked_kinds
	not compatible(kind, input.update.value_kind)
	violation := {
		"message": sprintf("%s expects %s (%s), got %s", [input.update.attribute, kind, input.option.type, input.update.value_kind]),
		"attribute": input.update.attribute,
	}
}
`,
	}
}

// stateVersionPolicy warns about edits of system.stateVersion.
func stateVersionPolicy() Policy {
	return Policy{
		Name:        "state-version",
		Description: "Warns when system.stateVersion is edited",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"upgrades"},
		Rego: `package nixgui.policies.stateversion

import rego.v1

deny contains violation if {
	input.update.attribute == "system.stateVersion"
	violation := {
		"message": "system.stateVersion should match the release the system was installed with",
		"attribute": input.update.attribute,
	}
}

deny contains violation if {
	input.update.renamed_to == "system.stateVersion"
	violation := {
		"message": "system.stateVersion should match the release the system was installed with",
		"attribute": input.update.renamed_to,
	}
}
`,
	}
}

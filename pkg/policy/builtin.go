package policy

// BuiltinPolicies returns the policies compiled into the binary.
func BuiltinPolicies() []Policy {
	return []Policy{
		permissionsPolicy(),
		firewallAccessPolicy(),
		secureDownloadsPolicy(),
		executeTimeoutsPolicy(),
	}
}

// permissionsPolicy flags world-writable files and directories.
func permissionsPolicy() Policy {
	return Policy{
		Name:        "world-writable",
		Description: "Reports files and directories declared world-writable",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package rancherhost.policies.permissions

deny contains violation if {
	some d in input.declarations
	d.kind in {"file", "directory"}
	regex.match("[2367]$", d.spec.mode)
	violation := {
		"message": sprintf("%s is world-writable (mode %s)", [d.spec.path, d.spec.mode]),
		"resource": d.id,
		"remediation": "drop the write bit for others",
	}
}
`,
	}
}

// firewallAccessPolicy refuses to enable the firewall without a way back in.
func firewallAccessPolicy() Policy {
	return Policy{
		Name:        "firewall-ssh-access",
		Description: "Blocks enabling the firewall unless ssh is allowed",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package rancherhost.policies.firewall

enabled if {
	some d in input.declarations
	d.kind == "firewall"
	d.action == "enable"
}

ssh_allowed if {
	some d in input.declarations
	d.kind == "firewall_rule"
	d.name == "ssh"
	d.action == "allow"
}

deny contains violation if {
	enabled
	not ssh_allowed
	violation := {
		"message": "the firewall is enabled without an ssh allow rule",
		"remediation": "declare an allow rule named ssh",
	}
}

deny contains violation if {
	some d in input.declarations
	d.kind == "firewall_rule"
	d.action == "deny"
	d.spec.port == 22
	d.spec.protocol in {"tcp", "any"}
	violation := {
		"message": "port 22 is denied",
		"resource": d.id,
	}
}
`,
	}
}

// secureDownloadsPolicy requires https for everything fetched from the network.
func secureDownloadsPolicy() Policy {
	return Policy{
		Name:        "secure-downloads",
		Description: "Requires archives and apt repositories to be fetched over https",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package rancherhost.policies.downloads

deny contains violation if {
	some d in input.declarations
	d.kind == "archive"
	not startswith(d.spec.url, "https://")
	violation := {
		"message": sprintf("archive %s is not fetched over https", [d.spec.url]),
		"resource": d.id,
	}
}

deny contains violation if {
	some d in input.declarations
	d.kind == "apt_repository"
	some field in ["uri", "key_url"]
	url := d.spec[field]
	not startswith(url, "https://")
	violation := {
		"message": sprintf("apt repository %s: %s %s is not https", [d.name, field, url]),
		"resource": d.id,
	}
}
`,
	}
}

// executeTimeoutsPolicy flags commands that could block a run forever.
func executeTimeoutsPolicy() Policy {
	return Policy{
		Name:        "execute-timeouts",
		Description: "Reports execute resources without a timeout",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package rancherhost.policies.execute

deny contains violation if {
	some d in input.declarations
	d.kind == "execute"
	not d.spec.timeout
	violation := {
		"message": sprintf("command %s has no timeout", [d.spec.command]),
		"resource": d.id,
		"remediation": "set a timeout on the execute declaration",
	}
}
`,
	}
}

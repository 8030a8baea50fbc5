// Package policy gates convergence runs with Open Policy Agent.
//
// Before anything is applied, the compiled declaration list is exposed to
// every enabled Rego policy as input.declarations. Each declaration carries
// its identity ("file[/etc/docker/daemon.json]"), kind, name, action,
// recipe and the JSON form of its spec. A policy contributes findings
// through a "deny" set in its package:
//
//	package site.policies.ports
//
//	deny contains violation if {
//		some d in input.declarations
//		d.kind == "firewall_rule"
//		d.spec.port == 23
//		violation := {"message": "telnet must stay closed", "resource": d.id, "severity": "error"}
//	}
//
// Findings with severity error or critical abort the run with
// engine.ErrPolicyDenied; the rest are logged as warnings.
//
// Policies come from the built-ins in this package and from .rego or .json
// files passed on the command line. A .rego file may start with a
// "# severity: error" comment to set the default severity of its findings.
package policy

package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func decl(kind engine.Kind, name string, action engine.Action, spec engine.Spec) *engine.Declaration {
	return &engine.Declaration{Kind: kind, Name: name, Action: action, Recipe: "test", Spec: spec}
}

// hostDecls is a compliant declaration set.
func hostDecls() []*engine.Declaration {
	return []*engine.Declaration{
		decl(engine.KindFirewallRule, "ssh", engine.ActionAllow,
			engine.FirewallRuleSpec{Port: 22, Protocol: "tcp", Direction: "in"}),
		decl(engine.KindFirewall, "default", engine.ActionEnable, engine.FirewallSpec{}),
		decl(engine.KindFile, "/etc/docker/daemon.json", engine.ActionCreate,
			engine.FileSpec{Path: "/etc/docker/daemon.json", Mode: "0644"}),
		decl(engine.KindArchive, "https://example.com/etcd.tar.gz", engine.ActionExtract,
			engine.ArchiveSpec{URL: "https://example.com/etcd.tar.gz", TargetDir: "/usr/local/bin", Creates: "/usr/local/bin/etcd"}),
		decl(engine.KindExecute, "apt-update", engine.ActionRun,
			engine.ExecuteSpec{Command: "apt-get update", Timeout: time.Minute}),
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	want := []string{"execute-timeouts", "firewall-ssh-access", "secure-downloads", "world-writable"}
	if len(policies) != len(want) {
		t.Fatalf("Expected %d built-in policies, got %d", len(want), len(policies))
	}
	for i, p := range policies {
		if p.Name != want[i] {
			t.Errorf("policies[%d]: expected %s, got %s", i, want[i], p.Name)
		}
		if !p.Builtin || !p.Enabled {
			t.Errorf("Expected %s to be an enabled built-in", p.Name)
		}
	}
}

func TestCompliantDeclarationsPass(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Evaluate(context.Background(), hostDecls())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected allowed, got violations: %v", result.Violations)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", result.Warnings)
	}
	if len(result.EvaluatedPolicies) != 4 {
		t.Errorf("Expected 4 evaluated policies, got %v", result.EvaluatedPolicies)
	}
	if err := eng.Check(context.Background(), hostDecls()); err != nil {
		t.Errorf("Check failed: %v", err)
	}
}

func TestBuiltinPolicies(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func([]*engine.Declaration) []*engine.Declaration
		policy      string
		blocks      bool
		resourceHas string
	}{
		{
			name: "world-writable directory",
			mutate: func(d []*engine.Declaration) []*engine.Declaration {
				return append(d, decl(engine.KindDirectory, "/srv/containers/docker", engine.ActionCreate,
					engine.DirectorySpec{Path: "/srv/containers/docker", Mode: "0777"}))
			},
			policy:      "world-writable",
			resourceHas: "directory[/srv/containers/docker]",
		},
		{
			name: "firewall without ssh",
			mutate: func(d []*engine.Declaration) []*engine.Declaration {
				return d[1:]
			},
			policy: "firewall-ssh-access",
			blocks: true,
		},
		{
			name: "port 22 denied",
			mutate: func(d []*engine.Declaration) []*engine.Declaration {
				return append(d, decl(engine.KindFirewallRule, "lockout", engine.ActionDeny,
					engine.FirewallRuleSpec{Port: 22, Protocol: "any", Direction: "in"}))
			},
			policy:      "firewall-ssh-access",
			blocks:      true,
			resourceHas: "firewall_rule[lockout]",
		},
		{
			name: "plain http archive",
			mutate: func(d []*engine.Declaration) []*engine.Declaration {
				d[3] = decl(engine.KindArchive, "http://example.com/etcd.tar.gz", engine.ActionExtract,
					engine.ArchiveSpec{URL: "http://example.com/etcd.tar.gz", TargetDir: "/opt", Creates: "/opt/etcd"})
				return d
			},
			policy: "secure-downloads",
			blocks: true,
		},
		{
			name: "plain http apt key",
			mutate: func(d []*engine.Declaration) []*engine.Declaration {
				return append(d, decl(engine.KindAptRepository, "docker", engine.ActionAdd,
					engine.AptRepositorySpec{
						Repository:   "docker",
						URI:          "https://download.docker.com/linux/ubuntu",
						Distribution: "bionic",
						Components:   []string{"stable"},
						KeyURL:       "http://download.docker.com/linux/ubuntu/gpg",
					}))
			},
			policy:      "secure-downloads",
			blocks:      true,
			resourceHas: "apt_repository[docker]",
		},
		{
			name: "execute without timeout",
			mutate: func(d []*engine.Declaration) []*engine.Declaration {
				return append(d, decl(engine.KindExecute, "forever", engine.ActionRun,
					engine.ExecuteSpec{Command: "sleep infinity"}))
			},
			policy:      "execute-timeouts",
			resourceHas: "execute[forever]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t)
			result, err := eng.Evaluate(context.Background(), tt.mutate(hostDecls()))
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}

			findings := result.Warnings
			if tt.blocks {
				findings = result.Violations
				if result.Allowed {
					t.Error("Expected evaluation to be blocked")
				}
			} else if !result.Allowed {
				t.Errorf("Expected evaluation to be allowed, got %v", result.Violations)
			}

			if len(findings) != 1 {
				t.Fatalf("Expected 1 finding, got %v (violations %v)", findings, result.Violations)
			}
			if findings[0].Policy != tt.policy {
				t.Errorf("Expected policy %s, got %s", tt.policy, findings[0].Policy)
			}
			if tt.resourceHas != "" && findings[0].Resource != tt.resourceHas {
				t.Errorf("Expected resource %s, got %s", tt.resourceHas, findings[0].Resource)
			}
		})
	}
}

func TestCheckReturnsPolicyDenied(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.Check(context.Background(), hostDecls()[1:])
	if err == nil {
		t.Fatal("Expected policy denial")
	}
	if !errors.Is(err, engine.ErrPolicyDenied) {
		t.Errorf("Expected ErrPolicyDenied, got %v", err)
	}
	if !engine.IsPolicy(err) {
		t.Error("Expected policy class")
	}
	if !strings.Contains(err.Error(), "firewall-ssh-access") {
		t.Errorf("Expected policy name in error, got %v", err)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	decls := hostDecls()[1:]

	if err := eng.DisablePolicy("firewall-ssh-access"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	if err := eng.Check(context.Background(), decls); err != nil {
		t.Errorf("Expected disabled policy to be skipped, got %v", err)
	}

	if err := eng.EnablePolicy("firewall-ssh-access"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	if err := eng.Check(context.Background(), decls); err == nil {
		t.Error("Expected re-enabled policy to deny")
	}

	if err := eng.DisablePolicy("nope"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

const telnetPolicy = `# Telnet must never be reachable.
# severity: critical
package site.policies.telnet

deny contains violation if {
	some d in input.declarations
	d.kind == "firewall_rule"
	d.action == "allow"
	d.spec.port == 23
	violation := {"message": "telnet is allowed", "resource": d.id}
}
`

func TestLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telnet.rego")
	if err := os.WriteFile(path, []byte(telnetPolicy), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	p, err := eng.GetPolicy("telnet")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.Severity != SeverityCritical || p.Source != path {
		t.Errorf("Unexpected policy: %+v", p)
	}

	decls := append(hostDecls(), decl(engine.KindFirewallRule, "telnet", engine.ActionAllow,
		engine.FirewallRuleSpec{Port: 23, Protocol: "tcp", Direction: "in"}))
	err = eng.Check(context.Background(), decls)
	if !errors.Is(err, engine.ErrPolicyDenied) {
		t.Fatalf("Expected telnet policy to deny, got %v", err)
	}

	// Replacing the loaded set with nothing keeps the built-ins.
	if err := eng.ReplaceLoaded(context.Background(), nil); err != nil {
		t.Fatalf("ReplaceLoaded failed: %v", err)
	}
	if _, err := eng.GetPolicy("telnet"); err == nil {
		t.Error("Expected loaded policy to be removed")
	}
	if len(eng.ListPolicies()) != 4 {
		t.Errorf("Expected built-ins to survive, got %d policies", len(eng.ListPolicies()))
	}
}

func TestReplaceLoadedRestoresShadowedBuiltin(t *testing.T) {
	eng := newTestEngine(t)
	shadow := Policy{
		Name:     "execute-timeouts",
		Rego:     "package site.noop\n\ndeny contains \"always\" if { true }\n",
		Severity: SeverityWarning,
		Enabled:  true,
	}
	if err := eng.ReplaceLoaded(context.Background(), []Policy{shadow}); err != nil {
		t.Fatalf("ReplaceLoaded failed: %v", err)
	}
	p, _ := eng.GetPolicy("execute-timeouts")
	if p.Builtin {
		t.Error("Expected built-in to be shadowed")
	}

	if err := eng.ReplaceLoaded(context.Background(), nil); err != nil {
		t.Fatalf("ReplaceLoaded failed: %v", err)
	}
	p, _ = eng.GetPolicy("execute-timeouts")
	if !p.Builtin {
		t.Error("Expected built-in to be restored")
	}
}

func TestReplaceLoadedRejectsInvalidRego(t *testing.T) {
	eng := newTestEngine(t)
	bad := Policy{Name: "broken", Rego: "package x\n\ndeny contains", Severity: SeverityError, Enabled: true}

	if err := eng.ReplaceLoaded(context.Background(), []Policy{bad}); err == nil {
		t.Fatal("Expected compile error")
	}
	if len(eng.ListPolicies()) != 4 {
		t.Errorf("Expected policy set unchanged, got %d", len(eng.ListPolicies()))
	}
}

func TestStringViolations(t *testing.T) {
	eng := newTestEngine(t)
	p := Policy{
		Name:     "no-etcd",
		Rego:     "package site.etcd\n\ndeny contains msg if {\n\tsome d in input.declarations\n\td.name == \"etcd\"\n\tmsg := \"etcd is not allowed here\"\n}\n",
		Severity: SeverityError,
		Enabled:  true,
	}
	if err := eng.ReplaceLoaded(context.Background(), []Policy{p}); err != nil {
		t.Fatalf("ReplaceLoaded failed: %v", err)
	}

	decls := append(hostDecls(), decl(engine.KindService, "etcd", engine.ActionStart, engine.ServiceSpec{Unit: "etcd"}))
	result, err := eng.Evaluate(context.Background(), decls)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed || len(result.Violations) != 1 {
		t.Fatalf("Expected one violation, got %v", result.Violations)
	}
	if result.Violations[0].Message != "etcd is not allowed here" || result.Violations[0].Resource != "" {
		t.Errorf("Unexpected violation: %+v", result.Violations[0])
	}
}

package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telnet.rego")
	writeFile(t, path, telnetPolicy)

	loader := NewLoader(zerolog.Nop())
	policy, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "telnet" {
		t.Errorf("Expected name telnet, got %s", policy.Name)
	}
	if policy.Description != "Telnet must never be reachable." {
		t.Errorf("Unexpected description: %q", policy.Description)
	}
	if policy.Severity != SeverityCritical {
		t.Errorf("Expected severity critical, got %s", policy.Severity)
	}
	if !policy.Enabled || policy.Builtin {
		t.Errorf("Expected enabled non-builtin policy, got %+v", policy)
	}
}

func TestLoadFromFile_RegoDefaultSeverity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.rego")
	writeFile(t, path, "package site.plain\n\ndeny contains \"x\" if { false }\n")

	policy, err := NewLoader(zerolog.Nop()).loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", policy.Severity)
	}
	if policy.Description != "" {
		t.Errorf("Expected empty description, got %q", policy.Description)
	}
}

func TestLoadFromFile_RegoInvalidSeverity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.rego")
	writeFile(t, path, "# severity: fatal\npackage site.bad\n")

	if _, err := NewLoader(zerolog.Nop()).loadFromFile(context.Background(), path); err == nil {
		t.Error("Expected error for unknown severity")
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ports.json")
	writeFile(t, path, `{
  "description": "No telnet",
  "severity": "error",
  "builtin": true,
  "rego": "package site.ports\n\ndeny contains \"telnet\" if { false }\n"
}`)

	policy, err := NewLoader(zerolog.Nop()).loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "ports" {
		t.Errorf("Expected name from file, got %s", policy.Name)
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected severity error, got %s", policy.Severity)
	}
	if !policy.Enabled {
		t.Error("Expected JSON policy to default to enabled")
	}
	if policy.Builtin {
		t.Error("Expected loaded policy to never be builtin")
	}
}

func TestLoadFromFile_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	writeFile(t, path, `{"name":`)

	if _, err := NewLoader(zerolog.Nop()).loadFromFile(context.Background(), path); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestLoadFromFile_UnsupportedType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	writeFile(t, path, "name: x")

	if _, err := NewLoader(zerolog.Nop()).loadFromFile(context.Background(), path); err == nil {
		t.Error("Expected error for unsupported file type")
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), "package site.a\n")
	writeFile(t, filepath.Join(dir, "nested", "b.rego"), "package site.b\n")
	writeFile(t, filepath.Join(dir, "nested", "c.json"), `{"rego": "package site.c\n"}`)
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(policies) != 3 {
		t.Errorf("Expected 3 policies, got %d", len(policies))
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	_, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{"/nonexistent/policies"})
	if err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"single line", "# Ports policy\npackage x\n", "Ports policy"},
		{"multi line", "# Ports policy\n# for edge hosts\npackage x\n", "Ports policy for edge hosts"},
		{"severity skipped", "# severity: error\n# Ports policy\npackage x\n", "Ports policy"},
		{"stops at code", "package x\n# not a description\n", ""},
		{"leading blank lines", "\n\n# Ports\n\n# later\npackage x\n", "Ports"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractDescription(tt.content); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLoaderChangedFingerprint(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	set := []Policy{{Name: "a", Rego: "package site.a\n", Severity: SeverityWarning, Enabled: true}}

	if !loader.changed(set) {
		t.Fatal("Expected first set to count as changed")
	}
	if loader.changed([]Policy{set[0]}) {
		t.Error("Expected identical set to be unchanged")
	}

	set[0].Severity = SeverityError
	if !loader.changed(set) {
		t.Error("Expected severity change to count as changed")
	}
}

func TestPolicyWatchRelevant(t *testing.T) {
	w := &policyWatch{
		dirs:  []string{"/etc/rancher-host/policies"},
		files: map[string]bool{"/srv/site/ports.rego": true},
	}

	tests := []struct {
		name string
		want bool
	}{
		{"/etc/rancher-host/policies/a.rego", true},
		{"/etc/rancher-host/policies/nested/b.json", true},
		{"/etc/rancher-host/policies/README.md", false},
		{"/etc/rancher-host/other.rego", false},
		{"/srv/site/ports.rego", true},
		{"/srv/site/other.rego", false},
	}
	for _, tt := range tests {
		if got := w.relevant(tt.name); got != tt.want {
			t.Errorf("relevant(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.rego")
	writeFile(t, path, "# first\npackage site.a\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []Policy
	reloaded := make(chan struct{}, 1)

	loader := NewLoader(zerolog.Nop())
	err := loader.Watch(ctx, []string{dir}, func(p []Policy) error {
		mu.Lock()
		got = p
		mu.Unlock()
		select {
		case reloaded <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, path, "# second\npackage site.a\n")

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Description != "second" {
		t.Errorf("Expected reloaded policy, got %+v", got)
	}
}

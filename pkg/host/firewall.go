package host

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/openfroyo/rancherhost/pkg/engine"
)

// UFWDefaults is the ufw defaults file holding the IPv6 toggle.
const UFWDefaults = "/etc/default/ufw"

// FirewallRuleProvider adds ufw rules. Rules are identified by their
// comment, which is the description or the declaration name.
type FirewallRuleProvider struct {
	base
}

// NewFirewallRuleProvider creates a ufw rule provider.
func NewFirewallRuleProvider(opts Options) *FirewallRuleProvider {
	return &FirewallRuleProvider{base: newBase(opts, "firewall")}
}

// Kind implements engine.Provider.
func (p *FirewallRuleProvider) Kind() engine.Kind { return engine.KindFirewallRule }

// RuleArgs builds the ufw arguments for a rule, without the leading "ufw".
func RuleArgs(action engine.Action, name string, spec engine.FirewallRuleSpec) []string {
	args := []string{string(action), spec.Direction}
	if spec.Interface != "" {
		args = append(args, "on", spec.Interface)
	}
	if spec.Protocol != "" && spec.Protocol != "any" {
		args = append(args, "proto", spec.Protocol)
	}
	if spec.Source != "" {
		args = append(args, "from", spec.Source)
	}
	if spec.Port > 0 {
		args = append(args, "to", "any", "port", portSpec(spec))
	}
	return append(args, "comment", ruleComment(name, spec))
}

func portSpec(spec engine.FirewallRuleSpec) string {
	if spec.EndPort > spec.Port {
		return fmt.Sprintf("%d:%d", spec.Port, spec.EndPort)
	}
	return strconv.Itoa(spec.Port)
}

func ruleComment(name string, spec engine.FirewallRuleSpec) string {
	if spec.Description != "" {
		return spec.Description
	}
	return name
}

// Converge adds the rule unless ufw already lists it. A listed rule with the
// same comment but a different action or port is replaced.
func (p *FirewallRuleProvider) Converge(ctx context.Context, d *engine.Declaration, dryRun bool) (*engine.Outcome, error) {
	spec, err := specOf[engine.FirewallRuleSpec](d)
	if err != nil {
		return nil, err
	}

	out, err := mustRun(ctx, p.runner, "ufw", "show", "added")
	if err != nil {
		return nil, err
	}
	comment := ruleComment(d.Name, spec)
	stale, found := matchRule(string(out), d.Action, comment, spec)
	if found {
		return engine.Unchanged("rule present"), nil
	}
	if dryRun {
		return engine.Changed("would add rule"), nil
	}

	for _, line := range stale {
		if _, err := mustRun(ctx, p.runner, "ufw", deleteArgs(line)...); err != nil {
			return nil, err
		}
	}
	if _, err := mustRun(ctx, p.runner, "ufw", RuleArgs(d.Action, d.Name, spec)...); err != nil {
		return nil, err
	}
	p.log(ctx).Info().Str("rule", comment).Str("action", string(d.Action)).Msg("Added firewall rule")
	return engine.Changed("rule added").WithDetail("replaced", len(stale)), nil
}

var commentPattern = regexp.MustCompile(`comment '([^']*)'`)

// matchRule scans "ufw show added" output. It returns the lines carrying
// comment that no longer match, and whether a matching line exists.
func matchRule(added string, action engine.Action, comment string, spec engine.FirewallRuleSpec) ([]string, bool) {
	var stale []string
	for _, line := range strings.Split(added, "\n") {
		line = strings.TrimSpace(line)
		m := commentPattern.FindStringSubmatch(line)
		if m == nil || m[1] != comment {
			continue
		}
		fields := strings.Fields(line)
		ok := len(fields) > 1 && fields[1] == string(action)
		if ok && spec.Port > 0 {
			ok = strings.Contains(line, "port "+portSpec(spec)+" ") || strings.Contains(line, " "+portSpec(spec)+"/")
		}
		if ok && spec.Interface != "" {
			ok = strings.Contains(line, " on "+spec.Interface)
		}
		if ok {
			return nil, true
		}
		stale = append(stale, line)
	}
	return stale, false
}

// deleteArgs turns a "ufw show added" line into "ufw delete" arguments.
// The quoted comment may contain spaces and is passed as one argument.
func deleteArgs(line string) []string {
	body := strings.TrimPrefix(line, "ufw ")
	args := []string{"delete"}
	const marker = " comment '"
	if i := strings.Index(body, marker); i >= 0 {
		args = append(args, strings.Fields(body[:i])...)
		return append(args, "comment", strings.TrimSuffix(body[i+len(marker):], "'"))
	}
	return append(args, strings.Fields(body)...)
}

// FirewallProvider enables ufw and keeps its IPv6 setting in line.
type FirewallProvider struct {
	base
}

// NewFirewallProvider creates a ufw enable provider.
func NewFirewallProvider(opts Options) *FirewallProvider {
	return &FirewallProvider{base: newBase(opts, "firewall")}
}

// Kind implements engine.Provider.
func (p *FirewallProvider) Kind() engine.Kind { return engine.KindFirewall }

var ipv6Line = regexp.MustCompile(`(?m)^IPV6=.*$`)

// Converge sets IPV6 in the ufw defaults and enables the firewall. An
// active firewall is reloaded when the IPv6 setting changed.
func (p *FirewallProvider) Converge(ctx context.Context, d *engine.Declaration, dryRun bool) (*engine.Outcome, error) {
	spec, err := specOf[engine.FirewallSpec](d)
	if err != nil {
		return nil, err
	}

	want := "IPV6=no"
	if spec.IPv6 {
		want = "IPV6=yes"
	}
	path := p.path(UFWDefaults)
	current, _ := os.ReadFile(path)
	var updated string
	switch {
	case ipv6Line.Match(current):
		updated = ipv6Line.ReplaceAllString(string(current), want)
	case len(current) == 0:
		updated = want + "\n"
	default:
		updated = strings.TrimRight(string(current), "\n") + "\n" + want + "\n"
	}
	ipv6Changed := updated != string(current)

	status, err := mustRun(ctx, p.runner, "ufw", "status")
	if err != nil {
		return nil, err
	}
	active := strings.Contains(string(status), "Status: active")
	if active && !ipv6Changed {
		return engine.Unchanged("active"), nil
	}
	if dryRun {
		return engine.Changed("would enable firewall"), nil
	}

	if ipv6Changed {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, engine.NewApplyError("failed to create ufw defaults directory", err)
		}
		if err := writeAtomic(path, []byte(updated), 0o644); err != nil {
			return nil, engine.NewApplyError("failed to write ufw defaults", err)
		}
	}
	verb := []string{"--force", "enable"}
	if active {
		verb = []string{"reload"}
	}
	if _, err := mustRun(ctx, p.runner, "ufw", verb...); err != nil {
		return nil, err
	}
	p.log(ctx).Info().Bool("ipv6", spec.IPv6).Bool("was_active", active).Msg("Firewall enabled")
	return engine.Changed("firewall enabled").WithDetail("ipv6", spec.IPv6), nil
}

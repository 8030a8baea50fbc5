package recipes

import (
	"github.com/openfroyo/rancherhost/pkg/attributes"
	"github.com/openfroyo/rancherhost/pkg/engine"
)

const (
	moshPortStart  = 60000
	moshPortEnd    = 61000
	winRMPortStart = 5985
	winRMPortEnd   = 5986
)

// firewallRecipe opens or closes the base ports, then turns ufw on. The
// rules come first so SSH is allowed before the firewall starts dropping.
func firewallRecipe(a *attributes.Attributes) engine.Recipe {
	return engine.Recipe{
		Name: Firewall,
		Build: func(b *engine.Builder) error {
			fw := a.Firewall

			if fw.AllowLoopback {
				b.FirewallRule("allow-loopback", engine.ActionAllow, engine.FirewallRuleSpec{
					Interface:   "lo",
					Protocol:    "any",
					Direction:   "in",
					Description: "Allow loopback traffic",
				})
			}
			if fw.AllowSSH {
				b.FirewallRule("ssh", engine.ActionAllow, engine.FirewallRuleSpec{
					Port:        fw.SSHPort,
					Protocol:    "tcp",
					Direction:   "in",
					Description: "Allow SSH",
				})
			}
			b.FirewallRule("mosh", toggle(fw.AllowMosh), engine.FirewallRuleSpec{
				Port:        moshPortStart,
				EndPort:     moshPortEnd,
				Protocol:    "udp",
				Direction:   "in",
				Description: "Mosh",
			})
			b.FirewallRule("winrm", toggle(fw.AllowWinRM), engine.FirewallRuleSpec{
				Port:        winRMPortStart,
				EndPort:     winRMPortEnd,
				Protocol:    "tcp",
				Direction:   "in",
				Description: "WinRM",
			})

			b.Firewall("default", engine.FirewallSpec{IPv6: fw.IPv6Enabled})
			return b.Err()
		},
	}
}

func toggle(allow bool) engine.Action {
	if allow {
		return engine.ActionAllow
	}
	return engine.ActionDeny
}

// allowPort declares an inbound tcp rule.
func allowPort(b *engine.Builder, name, description string, port int) {
	b.FirewallRule(name, engine.ActionAllow, engine.FirewallRuleSpec{
		Port:        port,
		Protocol:    "tcp",
		Direction:   "in",
		Description: description,
	})
}

// Package sshconfig generates the ssh client configuration used by a run and
// reads per-host connection settings back from it.
//
// The generated configuration contains one rule per hostname. When a knock
// sequence is configured the rule carries a ProxyCommand that knocks until
// the SSH port answers and then hands the connection over to nc.
package sshconfig

import (
	"fmt"
	"strings"

	"github.com/Evaneos/ssh-action/internal/config"
)

// Rule is the generated connection policy of one host
type Rule struct {
	Host                  string
	User                  string
	Port                  int
	StrictHostKeyChecking string
	ProxyCommand          string
}

// Generate builds one rule per hostname. It returns nil when the operator
// supplied a custom ssh configuration, which is used verbatim instead.
func Generate(cfg *config.ActionConfiguration) []Rule {
	if cfg.HasCustomSSHConfig() {
		return nil
	}

	strict := "yes"
	if cfg.KnownHosts() == "" {
		strict = "no"
	}
	proxy := KnockProxyCommand(cfg.KnockSequence())

	hostnames := cfg.Hostnames()
	rules := make([]Rule, 0, len(hostnames))
	for _, host := range hostnames {
		rules = append(rules, Rule{
			Host:                  host,
			User:                  cfg.User(),
			Port:                  cfg.Port(),
			StrictHostKeyChecking: strict,
			ProxyCommand:          proxy,
		})
	}
	return rules
}

// KnockProxyCommand returns a ProxyCommand that probes %h:%p with a one
// second timeout, knocks the sequence in order on each failed probe, and
// execs nc once the port answers. Empty when there is nothing to knock.
func KnockProxyCommand(knocks []config.KnockPort) string {
	if len(knocks) == 0 {
		return ""
	}

	ports := make([]string, 0, len(knocks))
	for _, k := range knocks {
		ports = append(ports, k.String())
	}

	// stdout of the proxy is the SSH stream, so probes and knocks stay silent
	return fmt.Sprintf(
		"/bin/sh -c 'until nc -z -w 1 %%h %%p >/dev/null 2>&1; do knock %%h %s >/dev/null 2>&1; done; exec nc %%h %%p'",
		strings.Join(ports, " "),
	)
}

// Render formats rules as ssh_config text
func Render(rules []Rule) string {
	var b strings.Builder
	for _, r := range rules {
		fmt.Fprintf(&b, "Host %s\n", r.Host)
		if r.User != "" {
			fmt.Fprintf(&b, "    User %s\n", r.User)
		}
		if r.Port != 0 {
			fmt.Fprintf(&b, "    Port %d\n", r.Port)
		}
		fmt.Fprintf(&b, "    StrictHostKeyChecking %s\n", r.StrictHostKeyChecking)
		if r.ProxyCommand != "" {
			fmt.Fprintf(&b, "    ProxyCommand %s\n", r.ProxyCommand)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Text returns the ssh configuration to write for a run: the custom
// configuration when supplied, the generated rules otherwise
func Text(cfg *config.ActionConfiguration) string {
	if cfg.HasCustomSSHConfig() {
		text := cfg.SSHConfig()
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		return text
	}
	return Render(Generate(cfg))
}

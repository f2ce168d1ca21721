package target

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/Evaneos/ssh-action/internal/errors"
)

// DefaultPort is the SSH port used when neither input nor ssh config set one
const DefaultPort = 22

// Target represents the effective connection settings of one host of the fleet
type Target struct {
	Host                  string   // Hostname as given in the hosts input; labels output and results
	HostName              string   // Address actually dialed (ssh config HostName, defaults to Host)
	User                  string   // SSH username
	Port                  int      // SSH port number
	ProxyCommand          string   // Command whose stdio carries the connection, empty for direct TCP
	StrictHostKeyChecking string   // yes, no, accept-new (ssh config semantics)
	KnownHostsFiles       []string // Files checked when host keys are verified
	IdentityFiles         []string // Extra private keys named by the ssh config
}

// Address returns the host:port pair to dial
func (t Target) Address() string {
	hostName := t.HostName
	if hostName == "" {
		hostName = t.Host
	}
	return net.JoinHostPort(hostName, strconv.Itoa(t.Port))
}

// VerifiesHostKeys reports whether host keys must be checked against known hosts
func (t Target) VerifiesHostKeys() bool {
	switch strings.ToLower(t.StrictHostKeyChecking) {
	case "no", "off":
		return false
	default:
		return true
	}
}

// ValidateTarget validates a target for correctness
func ValidateTarget(target Target) error {
	if target.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if strings.ContainsAny(target.Host, " \t'\"`$;|&") {
		return fmt.Errorf("host %q contains shell metacharacters", target.Host)
	}
	if target.Port < 1 || target.Port > 65535 {
		return fmt.Errorf("port number %d out of valid range (1-65535)", target.Port)
	}
	return nil
}

// ParseHostnames splits newline-separated hostnames, dropping blank lines and
// duplicates while keeping first-occurrence order
func ParseHostnames(input string) []string {
	scanner := bufio.NewScanner(strings.NewReader(input))
	seen := make(map[string]bool)
	hosts := make([]string, 0)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		hosts = append(hosts, line)
	}

	return hosts
}

// Resolver looks up host addresses; *net.Resolver satisfies it
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// CheckResolvable verifies that every target's address resolves and reports
// all unresolved hosts together
func CheckResolvable(ctx context.Context, resolver Resolver, targets []Target) error {
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	collector := errors.NewCollector("resolve")
	for _, t := range targets {
		hostName := t.HostName
		if hostName == "" {
			hostName = t.Host
		}
		if net.ParseIP(hostName) != nil {
			continue
		}
		if _, err := resolver.LookupHost(ctx, hostName); err != nil {
			collector.Add(t.Host, fmt.Errorf("unable to resolve host %q: %w", hostName, err), -1)
		}
	}

	return collector.Err(errors.ResolutionKind)
}

package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Evaneos/ssh-action/internal/errors"
	"github.com/Evaneos/ssh-action/internal/target"
)

// Warner receives non-fatal configuration warnings; *logging.Logger satisfies it
type Warner interface {
	Warn(msg string, args ...any)
}

// KnockPort is one entry of a port-knocking sequence
type KnockPort struct {
	Port  int
	Proto string // tcp or udp
}

// String renders the entry the way the knock client expects it
func (k KnockPort) String() string {
	if k.Proto == "" || k.Proto == "tcp" {
		return strconv.Itoa(k.Port)
	}
	return fmt.Sprintf("%d:%s", k.Port, k.Proto)
}

// ActionConfiguration is the validated, immutable configuration of one run
type ActionConfiguration struct {
	hostnames     []string
	user          string
	port          int
	commands      string
	privateKey    string
	password      string
	knownHosts    string
	knockSequence []KnockPort
	sshConfig     string
}

// Hostnames returns the ordered, deduplicated target hostnames
func (c *ActionConfiguration) Hostnames() []string {
	return append([]string(nil), c.hostnames...)
}

// User returns the SSH user, empty when discarded by a custom ssh config
func (c *ActionConfiguration) User() string { return c.user }

// Port returns the SSH port, 0 when discarded by a custom ssh config
func (c *ActionConfiguration) Port() int { return c.port }

// Commands returns the script body
func (c *ActionConfiguration) Commands() string { return c.commands }

// PrivateKey returns the private key text, empty when a password is used
func (c *ActionConfiguration) PrivateKey() string { return c.privateKey }

// Password returns the password text, empty when a private key is used
func (c *ActionConfiguration) Password() string { return c.password }

// KnownHosts returns the pinned host keys, empty when none were supplied
func (c *ActionConfiguration) KnownHosts() string { return c.knownHosts }

// KnockSequence returns the ports to knock before connecting
func (c *ActionConfiguration) KnockSequence() []KnockPort {
	return append([]KnockPort(nil), c.knockSequence...)
}

// SSHConfig returns the custom ssh client configuration, empty when generated
func (c *ActionConfiguration) SSHConfig() string { return c.sshConfig }

// HasCustomSSHConfig reports whether the operator supplied the ssh configuration
func (c *ActionConfiguration) HasCustomSSHConfig() bool { return c.sshConfig != "" }

// Resolve validates raw inputs and produces the run configuration.
// Rules are evaluated in order and the first violation wins; warnings are
// sent to w and never abort.
func Resolve(in Inputs, w Warner) (*ActionConfiguration, error) {
	hostnames := target.ParseHostnames(in.Hosts)
	if len(hostnames) == 0 {
		return nil, errors.NewValidationError(`"hosts" input is required`)
	}
	for _, host := range hostnames {
		if err := target.ValidateTarget(target.Target{Host: host, Port: target.DefaultPort}); err != nil {
			return nil, errors.NewValidationError(`"hosts" input is invalid: %v`, err)
		}
	}

	if strings.TrimSpace(in.Commands) == "" {
		return nil, errors.NewValidationError(`"commands" input is required`)
	}

	if in.PrivateKey == "" && in.Password == "" {
		return nil, errors.NewValidationError(`"password" input is required if "private_key" is not provided`)
	}

	if in.SSHConfig == "" && in.User == "" {
		return nil, errors.NewValidationError(`"user" input is required if "ssh_config" is not provided`)
	}

	cfg := &ActionConfiguration{
		hostnames:  hostnames,
		user:       in.User,
		commands:   in.Commands,
		privateKey: in.PrivateKey,
		password:   in.Password,
		knownHosts: in.KnownHosts,
		sshConfig:  in.SSHConfig,
	}

	if cfg.privateKey != "" && cfg.password != "" {
		cfg.password = ""
		w.Warn(`"password" input is ignored since "private_key" is provided`)
	}

	if cfg.sshConfig != "" {
		if in.User != "" {
			cfg.user = ""
			w.Warn(`"user" input is ignored since "ssh_config" is provided`)
		}
		if in.Port != "" {
			w.Warn(`"port" input is ignored since "ssh_config" is provided`)
		}
		if in.KnockSequence != "" {
			w.Warn(`"knock_sequence" input is ignored since "ssh_config" is provided`)
		}
		return cfg, nil
	}

	port, err := parsePort(in.Port)
	if err != nil {
		return nil, errors.NewValidationError(`"port" input is invalid: %v`, err)
	}
	cfg.port = port

	knocks, err := ParseKnockSequence(in.KnockSequence)
	if err != nil {
		return nil, errors.NewValidationError(`"knock_sequence" input is invalid: %v`, err)
	}
	cfg.knockSequence = knocks

	return cfg, nil
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return target.DefaultPort, nil
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("'%s' is not a number", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port number %d out of valid range (1-65535)", port)
	}
	return port, nil
}

// ParseKnockSequence parses whitespace- or comma-separated knock entries,
// each "port" or "port:proto" with proto tcp or udp
func ParseKnockSequence(s string) ([]KnockPort, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})

	knocks := make([]KnockPort, 0, len(fields))
	for _, field := range fields {
		portStr, proto, hasProto := strings.Cut(field, ":")
		if !hasProto {
			proto = "tcp"
		}
		proto = strings.ToLower(proto)
		if proto != "tcp" && proto != "udp" {
			return nil, fmt.Errorf("unsupported protocol %q in %q", proto, field)
		}
		port, err := parsePort(portStr)
		if err != nil || portStr == "" {
			return nil, fmt.Errorf("invalid port in %q", field)
		}
		knocks = append(knocks, KnockPort{Port: port, Proto: proto})
	}

	return knocks, nil
}

package sshconfig

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"

	"github.com/Evaneos/ssh-action/internal/target"
)

// Settings answers per-host lookups against a decoded ssh configuration
type Settings struct {
	cfg  *ssh_config.Config
	home string
}

// Decode parses ssh configuration text; home expands "~" in file paths
func Decode(r io.Reader, home string) (*Settings, error) {
	cfg, err := ssh_config.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh config: %w", err)
	}
	return &Settings{cfg: cfg, home: home}, nil
}

// LoadFile parses the ssh configuration file at path
func LoadFile(path, home string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ssh config: %w", err)
	}
	defer f.Close()
	return Decode(f, home)
}

// Target returns the effective connection settings of host. fallbackUser is
// used when no User applies, as ssh does with the local login name.
func (s *Settings) Target(host, fallbackUser string) (target.Target, error) {
	t := target.Target{Host: host}

	get := func(key string) (string, error) {
		v, err := s.cfg.Get(host, key)
		if err != nil {
			return "", fmt.Errorf("failed to read %s for %s: %w", key, host, err)
		}
		return strings.TrimSpace(v), nil
	}

	var err error
	if t.HostName, err = get("HostName"); err != nil {
		return t, err
	}
	if t.HostName == "" {
		t.HostName = host
	}

	if t.User, err = get("User"); err != nil {
		return t, err
	}
	if t.User == "" {
		t.User = fallbackUser
	}

	port, err := get("Port")
	if err != nil {
		return t, err
	}
	t.Port = target.DefaultPort
	if port != "" {
		if t.Port, err = strconv.Atoi(port); err != nil {
			return t, fmt.Errorf("invalid Port %q for %s", port, host)
		}
	}

	if t.ProxyCommand, err = get("ProxyCommand"); err != nil {
		return t, err
	}
	if strings.EqualFold(t.ProxyCommand, "none") {
		t.ProxyCommand = ""
	}

	if t.StrictHostKeyChecking, err = get("StrictHostKeyChecking"); err != nil {
		return t, err
	}
	if t.StrictHostKeyChecking == "" {
		t.StrictHostKeyChecking = ssh_config.Default("StrictHostKeyChecking")
	}

	knownHosts, err := s.cfg.GetAll(host, "UserKnownHostsFile")
	if err != nil {
		return t, fmt.Errorf("failed to read UserKnownHostsFile for %s: %w", host, err)
	}
	if len(knownHosts) == 0 {
		knownHosts = []string{ssh_config.Default("UserKnownHostsFile")}
	}
	for _, entry := range knownHosts {
		for _, path := range strings.Fields(entry) {
			t.KnownHostsFiles = append(t.KnownHostsFiles, s.expand(path))
		}
	}

	identities, err := s.cfg.GetAll(host, "IdentityFile")
	if err != nil {
		return t, fmt.Errorf("failed to read IdentityFile for %s: %w", host, err)
	}
	for _, path := range identities {
		t.IdentityFiles = append(t.IdentityFiles, s.expand(strings.TrimSpace(path)))
	}

	if err := target.ValidateTarget(t); err != nil {
		return t, fmt.Errorf("invalid ssh settings for %s: %w", host, err)
	}
	return t, nil
}

// Targets returns the settings of every host in order
func (s *Settings) Targets(hosts []string, fallbackUser string) ([]target.Target, error) {
	targets := make([]target.Target, 0, len(hosts))
	for _, host := range hosts {
		t, err := s.Target(host, fallbackUser)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func (s *Settings) expand(path string) string {
	if path == "~" {
		return s.home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(s.home, path[2:])
	}
	return path
}

package sshconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Evaneos/ssh-action/internal/config"
)

type nopWarner struct{}

func (nopWarner) Warn(string, ...any) {}

func resolve(t *testing.T, in config.Inputs) *config.ActionConfiguration {
	t.Helper()
	if in.Commands == "" {
		in.Commands = "true"
	}
	if in.Password == "" && in.PrivateKey == "" {
		in.Password = "secret"
	}
	cfg, err := config.Resolve(in, nopWarner{})
	require.NoError(t, err)
	return cfg
}

func TestGenerate_KnockSequenceInOrder(t *testing.T) {
	cfg := resolve(t, config.Inputs{Hosts: "h1", User: "deploy", KnockSequence: "1111 2222"})

	rules := Generate(cfg)
	require.Len(t, rules, 1)

	rule := rules[0]
	assert.Equal(t, "h1", rule.Host)
	assert.Equal(t, "no", rule.StrictHostKeyChecking)

	first := strings.Index(rule.ProxyCommand, "1111")
	second := strings.Index(rule.ProxyCommand, "2222")
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, second)
	assert.Less(t, first, second)
	assert.Contains(t, rule.ProxyCommand, "knock %h 1111 2222")
	assert.Contains(t, rule.ProxyCommand, "exec nc %h %p")

	text := Render(rules)
	assert.True(t, strings.HasPrefix(text, "Host h1\n"))
}

func TestGenerate_StrictHostKeyCheckingWithKnownHosts(t *testing.T) {
	cfg := resolve(t, config.Inputs{
		Hosts:      "h1\nh2",
		User:       "deploy",
		KnownHosts: "h1 ssh-ed25519 AAAA",
	})

	rules := Generate(cfg)
	require.Len(t, rules, 2)
	for _, rule := range rules {
		assert.Equal(t, "yes", rule.StrictHostKeyChecking)
		assert.Empty(t, rule.ProxyCommand)
	}
	assert.Equal(t, "h2", rules[1].Host)
}

func TestGenerate_NoneWithCustomConfig(t *testing.T) {
	cfg := resolve(t, config.Inputs{Hosts: "h1", SSHConfig: "Host h1\n    User ops"})
	assert.Nil(t, Generate(cfg))
	assert.Equal(t, "Host h1\n    User ops\n", Text(cfg))
}

func TestRender(t *testing.T) {
	text := Render([]Rule{{
		Host:                  "h1",
		User:                  "deploy",
		Port:                  2222,
		StrictHostKeyChecking: "no",
		ProxyCommand:          KnockProxyCommand([]config.KnockPort{{Port: 7000, Proto: "udp"}}),
	}})

	assert.Equal(t, "Host h1\n"+
		"    User deploy\n"+
		"    Port 2222\n"+
		"    StrictHostKeyChecking no\n"+
		"    ProxyCommand /bin/sh -c 'until nc -z -w 1 %h %p >/dev/null 2>&1; do knock %h 7000:udp >/dev/null 2>&1; done; exec nc %h %p'\n"+
		"\n", text)
}

func TestSettings_GeneratedRoundTrip(t *testing.T) {
	home := t.TempDir()
	cfg := resolve(t, config.Inputs{Hosts: "h1\nh2", User: "deploy", Port: "2222", KnockSequence: "1111"})

	settings, err := Decode(strings.NewReader(Text(cfg)), home)
	require.NoError(t, err)

	targets, err := settings.Targets(cfg.Hostnames(), "runner")
	require.NoError(t, err)
	require.Len(t, targets, 2)

	h1 := targets[0]
	assert.Equal(t, "h1", h1.Host)
	assert.Equal(t, "h1", h1.HostName)
	assert.Equal(t, "deploy", h1.User)
	assert.Equal(t, 2222, h1.Port)
	assert.Equal(t, "no", h1.StrictHostKeyChecking)
	assert.False(t, h1.VerifiesHostKeys())
	assert.Contains(t, h1.ProxyCommand, "knock %h 1111")
	assert.Contains(t, h1.KnownHostsFiles, filepath.Join(home, ".ssh", "known_hosts"))
}

func TestSettings_CustomConfig(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config")
	require.NoError(t, os.WriteFile(path, []byte(
		"Host web\n"+
			"    HostName 10.0.0.5\n"+
			"    Port 2200\n"+
			"    IdentityFile ~/.ssh/deploy\n"+
			"    ProxyCommand none\n"+
			"\n"+
			"Host *\n"+
			"    User ops\n"+
			"    UserKnownHostsFile /etc/pinned\n"), 0o644))

	settings, err := LoadFile(path, home)
	require.NoError(t, err)

	web, err := settings.Target("web", "runner")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", web.HostName)
	assert.Equal(t, "ops", web.User)
	assert.Equal(t, 2200, web.Port)
	assert.Empty(t, web.ProxyCommand)
	assert.Equal(t, []string{filepath.Join(home, ".ssh", "deploy")}, web.IdentityFiles)
	assert.Equal(t, []string{"/etc/pinned"}, web.KnownHostsFiles)
	assert.True(t, web.VerifiesHostKeys())
	assert.Equal(t, "10.0.0.5:2200", web.Address())

	other, err := settings.Target("db", "runner")
	require.NoError(t, err)
	assert.Equal(t, "db", other.HostName)
	assert.Equal(t, 22, other.Port)
}

func TestSettings_FallbackUser(t *testing.T) {
	settings, err := Decode(strings.NewReader("Host h1\n    Port 22\n"), t.TempDir())
	require.NoError(t, err)

	h1, err := settings.Target("h1", "runner")
	require.NoError(t, err)
	assert.Equal(t, "runner", h1.User)
}

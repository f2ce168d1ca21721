package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Evaneos/ssh-action/internal/logging"
	"github.com/Evaneos/ssh-action/internal/target"
)

// Auth holds the credential shared by every host of a run
type Auth struct {
	signer   ssh.Signer
	password string
	useAgent bool
}

// NewAuth parses the private key, if any. Exactly one of privateKey and
// password is normally set.
func NewAuth(privateKey []byte, password string) (*Auth, error) {
	a := &Auth{
		password: password,
		useAgent: os.Getenv("SSH_AUTH_SOCK") != "",
	}
	if len(privateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		a.signer = signer
	}
	return a, nil
}

// Methods returns the authentication methods tried against t.
// x/crypto/ssh tries each method name once, so every public key source is
// merged into a single callback.
func (a *Auth) Methods(t target.Target, logger *logging.Logger) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	signers := a.signers(t, logger)
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			return signers, nil
		}))
	}

	if a.password != "" {
		password := a.password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	return methods
}

func (a *Auth) signers(t target.Target, logger *logging.Logger) []ssh.Signer {
	var signers []ssh.Signer
	if a.signer != nil {
		signers = append(signers, a.signer)
	}

	for _, path := range t.IdentityFiles {
		signer, err := loadSigner(path)
		if err != nil {
			logger.Debug("skipping identity file", "host", t.Host, "path", path, "error", err)
			continue
		}
		signers = append(signers, signer)
	}

	if a.useAgent {
		if agentSigners, err := agentSigners(); err == nil {
			signers = append(signers, agentSigners...)
		} else {
			logger.Debug("ssh agent unavailable", "error", err)
		}
	}

	return signers
}

func loadSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(key)
}

func agentSigners() ([]ssh.Signer, error) {
	conn, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK"))
	if err != nil {
		return nil, err
	}
	signers, err := agent.NewClient(conn).Signers()
	conn.Close()
	return signers, err
}

// HostKeyCallback returns the host key policy of t: no verification when
// StrictHostKeyChecking is off, known hosts with unknown hosts accepted for
// accept-new, strict known hosts otherwise.
func HostKeyCallback(t target.Target) (ssh.HostKeyCallback, error) {
	if !t.VerifiesHostKeys() {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	var files []string
	for _, path := range t.KnownHostsFiles {
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("host key verification failed for %s: no known hosts file", t.Host)
	}

	callback, err := knownhosts.New(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}

	if t.StrictHostKeyChecking != "accept-new" {
		return callback, nil
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			return nil
		}
		return err
	}, nil
}

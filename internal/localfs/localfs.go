// Package localfs writes the local files a run needs before any connection is opened.
package localfs

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirMode        os.FileMode = 0o700
	secretFileMode os.FileMode = 0o600
	configFileMode os.FileMode = 0o644
)

// Paths locates the local files of a run
type Paths struct {
	SSHDir     string
	WorkDir    string
	PrivateKey string
	KnownHosts string
	SSHConfig  string
	Commands   string
}

// NewPaths returns the well-known locations under home and workDir
func NewPaths(home, workDir string) Paths {
	sshDir := filepath.Join(home, ".ssh")
	return Paths{
		SSHDir:     sshDir,
		WorkDir:    workDir,
		PrivateKey: filepath.Join(sshDir, "id_rsa"),
		KnownHosts: filepath.Join(sshDir, "known_hosts"),
		SSHConfig:  filepath.Join(sshDir, "config"),
		Commands:   filepath.Join(workDir, "commands"),
	}
}

// Files is the content written by Prepare; empty optional fields are skipped
type Files struct {
	Script     string
	PrivateKey string
	KnownHosts string
	SSHConfig  string
}

// Prepare creates the directories and writes every file sequentially
func Prepare(paths Paths, files Files) error {
	for _, dir := range []string{paths.SSHDir, paths.WorkDir} {
		if err := ensureDir(dir); err != nil {
			return err
		}
	}

	if err := writeFile(paths.Commands, files.Script, secretFileMode); err != nil {
		return err
	}
	if files.PrivateKey != "" {
		if err := writeFile(paths.PrivateKey, withNewline(files.PrivateKey), secretFileMode); err != nil {
			return err
		}
	}
	if files.KnownHosts != "" {
		if err := writeFile(paths.KnownHosts, withNewline(files.KnownHosts), secretFileMode); err != nil {
			return err
		}
	}
	return writeFile(paths.SSHConfig, files.SSHConfig, configFileMode)
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	// MkdirAll leaves existing directories untouched
	if err := os.Chmod(dir, dirMode); err != nil {
		return fmt.Errorf("failed to restrict directory %s: %w", dir, err)
	}
	return nil
}

func writeFile(path, content string, mode os.FileMode) error {
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	return nil
}

func withNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		return s
	}
	return s + "\n"
}

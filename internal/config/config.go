// Package config provides input loading and configuration resolution for ssh-action.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix CI runners put in front of action input names
const EnvPrefix = "INPUT"

// DefaultWorkDir holds the prepared command file
const DefaultWorkDir = "/var/local/github-actions"

// Inputs is the flat mapping of named inputs, exactly as supplied.
// An empty string means the input was not supplied.
type Inputs struct {
	Hosts         string `mapstructure:"hosts"`          // Newline-separated hostnames
	User          string `mapstructure:"user"`           // SSH user
	Port          string `mapstructure:"port"`           // SSH port
	Commands      string `mapstructure:"commands"`       // Script body run on every host
	PrivateKey    string `mapstructure:"private_key"`    // Private key text
	Password      string `mapstructure:"password"`       // Password text
	KnockSequence string `mapstructure:"knock_sequence"` // Ports knocked before connecting
	SSHConfig     string `mapstructure:"ssh_config"`     // Custom ssh client configuration
	KnownHosts    string `mapstructure:"known_hosts"`    // Pinned host keys

	LogLevel   string `mapstructure:"log_level"`   // Log level (debug, info, warn, error)
	LogFormat  string `mapstructure:"log_format"`  // Log format (github, text, json)
	Output     string `mapstructure:"output"`      // Output mode (streamed, buffered)
	ReportFile string `mapstructure:"report_file"` // Optional YAML run report path
	Home       string `mapstructure:"home"`        // Home directory holding .ssh
	WorkDir    string `mapstructure:"work_dir"`    // Directory holding the prepared command file
	Stats      string `mapstructure:"stats"`       // Print per-phase statistics at the end (true, false)
}

// Keys lists every input name in the order they are documented
var Keys = []string{
	"hosts",
	"user",
	"port",
	"commands",
	"private_key",
	"password",
	"knock_sequence",
	"ssh_config",
	"known_hosts",
	"log_level",
	"log_format",
	"output",
	"report_file",
	"home",
	"work_dir",
	"stats",
}

// Manager defines the interface for input loading
type Manager interface {
	// Load reads inputs from the environment and applies defaults
	Load() (*Inputs, error)

	// SetDefaults establishes default values for ambient inputs
	SetDefaults()

	// Validate checks ambient inputs; action inputs are checked by Resolve
	Validate(inputs *Inputs) error
}

// ViperManager implements the Manager interface using Viper
type ViperManager struct {
	v *viper.Viper
}

// NewManager creates a new input manager
func NewManager() *ViperManager {
	return &ViperManager{
		v: viper.New(),
	}
}

// SetDefaults establishes default values for ambient inputs
func (m *ViperManager) SetDefaults() {
	m.v.SetDefault("log_level", "info")
	m.v.SetDefault("log_format", "github")
	m.v.SetDefault("output", "streamed")
	m.v.SetDefault("work_dir", DefaultWorkDir)
	m.v.SetDefault("stats", "false")
	if home, err := os.UserHomeDir(); err == nil {
		m.v.SetDefault("home", home)
	}
}

// Load reads inputs from INPUT_* environment variables
func (m *ViperManager) Load() (*Inputs, error) {
	m.SetDefaults()

	m.v.SetEnvPrefix(EnvPrefix)
	m.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	m.v.AllowEmptyEnv(false)
	for _, key := range Keys {
		// Explicit binding makes every key visible to Unmarshal
		if err := m.v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding input %s: %w", key, err)
		}
	}

	var inputs Inputs
	if err := m.v.Unmarshal(&inputs); err != nil {
		return nil, fmt.Errorf("error unmarshaling inputs: %w", err)
	}

	if err := m.Validate(&inputs); err != nil {
		return nil, fmt.Errorf("input validation failed: %w", err)
	}

	return &inputs, nil
}

// Set overrides an input, used when a CLI flag was given explicitly
func (m *ViperManager) Set(key, value string) {
	m.v.Set(key, value)
}

// Validate checks ambient inputs
func (m *ViperManager) Validate(inputs *Inputs) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[inputs.LogLevel] {
		return fmt.Errorf("invalid log level '%s': must be one of 'debug', 'info', 'warn' or 'error'", inputs.LogLevel)
	}

	validLogFormats := map[string]bool{
		"github": true,
		"json":   true,
		"text":   true,
	}
	if !validLogFormats[inputs.LogFormat] {
		return fmt.Errorf("invalid log format '%s': must be one of 'github', 'json' or 'text'", inputs.LogFormat)
	}

	validOutputs := map[string]bool{
		"streamed": true,
		"buffered": true,
	}
	if !validOutputs[inputs.Output] {
		return fmt.Errorf("invalid output mode '%s': must be one of 'streamed' or 'buffered'", inputs.Output)
	}

	if inputs.Home == "" {
		return fmt.Errorf("home directory is unknown: set HOME or the home input")
	}
	if inputs.WorkDir == "" {
		return fmt.Errorf("work_dir cannot be empty")
	}
	if _, err := strconv.ParseBool(inputs.Stats); err != nil {
		return fmt.Errorf("invalid stats value '%s': must be 'true' or 'false'", inputs.Stats)
	}

	return nil
}

// StatsEnabled reports whether the stats input is set to a true value
func (in *Inputs) StatsEnabled() bool {
	enabled, _ := strconv.ParseBool(in.Stats)
	return enabled
}

// GetEnvVarNames returns the environment variable name of every input
func GetEnvVarNames() []string {
	names := make([]string, 0, len(Keys))
	for _, key := range Keys {
		names = append(names, EnvPrefix+"_"+strings.ToUpper(key))
	}
	return names
}

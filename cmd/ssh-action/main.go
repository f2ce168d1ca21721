package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Evaneos/ssh-action/internal/action"
	"github.com/Evaneos/ssh-action/internal/config"
	"github.com/Evaneos/ssh-action/internal/errors"
	"github.com/Evaneos/ssh-action/internal/logging"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

var flagUsage = map[string]string{
	"hosts":          "Newline-separated hostnames to run the commands on",
	"user":           "SSH user (required unless --ssh-config is given)",
	"port":           "SSH port (default 22)",
	"commands":       "Shell commands run on every host",
	"private_key":    "Private key used to authenticate",
	"password":       "Password used when no private key is given",
	"knock_sequence": "Ports knocked before connecting, e.g. \"1111 2222:udp\"",
	"ssh_config":     "Custom ssh client configuration, replaces user, port and knock sequence",
	"known_hosts":    "Pinned host keys; host keys are not checked when empty",
	"log_level":      "Log level (debug, info, warn, error)",
	"log_format":     "Log format (github, text, json)",
	"output":         "Output mode (streamed, buffered)",
	"report_file":    "Write a YAML run report to this path",
	"home":           "Home directory holding .ssh (default $HOME)",
	"work_dir":       "Directory holding the prepared command file",
	"stats":          "Print per-phase statistics at the end (true, false)",
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)
	return getExitCode(rootCmd.Execute())
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	values := make(map[string]*string, len(config.Keys))

	rootCmd := &cobra.Command{
		Use:   "ssh-action [flags]",
		Short: "Run a shell script on several hosts over SSH",
		Long: `ssh-action uploads a shell script to every host of a fleet and runs it
concurrently, labeling each output line with the host it came from.

Every host must answer a reachability probe before anything is uploaded, and
the uploaded files are removed from every host afterwards, whatever the outcome.

Inputs are read from INPUT_<NAME> environment variables, as set by CI runners
for action inputs, and can be overridden with the matching flags.

Examples:
  # Run on two hosts with a password
  INPUT_HOSTS=$'web1\nweb2' INPUT_USER=deploy INPUT_PASSWORD=secret \
    INPUT_COMMANDS='systemctl restart nginx' ssh-action

  # Same, with flags
  ssh-action --hosts web1 --user deploy --private-key "$(cat id_ed25519)" --commands uptime`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager := config.NewManager()
			for _, key := range config.Keys {
				if cmd.Flags().Changed(flagName(key)) {
					manager.Set(key, *values[key])
				}
			}

			inputs, err := manager.Load()
			if err != nil {
				logging.NewLoggerFromConfig("", "", stdout, stderr).LogConfigError("inputs", err)
				return err
			}

			logger := logging.NewLoggerFromConfig(inputs.LogLevel, inputs.LogFormat, stdout, stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			orchestrator := action.NewOrchestrator(*inputs, logger, action.WithStdout(stdout))
			if err := orchestrator.Run(ctx); err != nil {
				kind := "unknown"
				if k, ok := errors.KindOf(err); ok {
					kind = k.String()
				}
				logger.Error(err.Error(), "kind", kind)
				return err
			}
			return nil
		},
	}

	for _, key := range config.Keys {
		values[key] = rootCmd.Flags().String(flagName(key), "", flagUsage[key])
	}

	rootCmd.AddCommand(newVersionCmd(stdout), newInputsCmd(stdout))
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "ssh-action %s\n", version)
			fmt.Fprintf(stdout, "Commit: %s\n", commit)
			fmt.Fprintf(stdout, "Built: %s\n", buildTime)
		},
	}
}

func newInputsCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "inputs",
		Short: "List the environment variables inputs are read from",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range config.GetEnvVarNames() {
				fmt.Fprintln(stdout, name)
			}
		},
	}
}

// flagName converts an input key to its flag name
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// getExitCode maps a run error to the process exit code:
//   - 0: every host succeeded
//   - 1: any fatal error (validation, resolution, reachability, execution)
func getExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Every call returns fresh commands and
// flags, so tests can execute it repeatedly.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ydbolt",
		Short: "Wyze Lock Bolt BLE controller",
		Long: `Controls Wyze Lock Bolt (Yunding) smart locks over Bluetooth Low Energy:

- Lock and unlock through the challenge/response handshake
- Read and watch the encrypted lock state
- Decode captured frames and state payloads
- Serve configured locks to Home Assistant over MQTT, with bbolt persistence
  and InfluxDB history`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	root.SilenceErrors = true

	root.AddCommand(newActionCmd(actionLock))
	root.AddCommand(newActionCmd(actionUnlock))
	root.AddCommand(newStateCmd())
	root.AddCommand(newDecodeCmd())
	root.AddCommand(newMACCmd())
	root.AddCommand(newServeCmd())

	// Global flags
	root.PersistentFlags().String("config", "", "Config file (default ./ydbolt.yaml when present)")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("verbose", false, "Debug logging")
	root.PersistentFlags().Duration("timeout", 0, "Command timeout, overrides coordinator.command_timeout")

	// Add -v as a short flag for --version
	root.Flags().BoolP("version", "v", false, "Show version information")
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

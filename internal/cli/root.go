// Package cli holds the cobra command tree of the shield-study binary and the
// composition root that wires the host process.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "shield-study",
		Short: "Run and inspect Shield/Pioneer study lifecycles",
		Long: `shield-study hosts one study: it decides the variation, tracks the
first-run and expiry, emits lifecycle and study telemetry, and exposes a
control API the host application calls.

Configuration comes from SHIELD_* environment variables; the study itself is
a JSON or YAML file (SHIELD_STUDY_CONFIG_FILE).`,
		Version:      version,
		SilenceUsage: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildValidateCmd(),
		buildAssignCmd(),
	)

	return root
}

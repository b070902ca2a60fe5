// Package commands implements locket's cobra command tree, grounded on
// dsops's cmd/dsops/commands: one NewXCommand constructor per subcommand,
// a shared BuildInfo carried on the root command's Version string, and a
// PersistentPreRun that wires up global logging before any subcommand body
// runs.
package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bpbradley/locket/internal/logging"
)

// BuildInfo carries version metadata injected at link time.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	debug  bool
	pretty bool
}

// NewRootCommand builds the "locket" command tree.
func NewRootCommand(info BuildInfo) *cobra.Command {
	flags := &globalFlags{}
	var logger zerolog.Logger

	root := &cobra.Command{
		Use:   "locket",
		Short: "Resolve externally-managed secrets and materialize them for a workload",
		Long: `locket resolves references to secrets held in 1Password, 1Password
Connect, Bitwarden Secrets Manager, or Infisical, and materializes them to
files, environment variables, or Docker volumes.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.Commit, info.Date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New(logging.Options{Debug: flags.debug, Pretty: flags.pretty, Writer: os.Stderr})
		},
	}

	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&flags.pretty, "pretty", false, "use human-friendly console log output instead of JSON")

	// loggerFn defers reading the logger until a subcommand actually runs,
	// since PersistentPreRun hasn't fired yet when AddCommand builds the tree.
	loggerFn := func() zerolog.Logger { return logger }

	root.AddCommand(
		NewInjectCommand(loggerFn),
		NewExecCommand(loggerFn),
		NewComposeCommand(loggerFn),
		NewVolumeCommand(loggerFn),
		NewHealthcheckCommand(),
	)

	return root
}

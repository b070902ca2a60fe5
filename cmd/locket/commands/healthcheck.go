package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	locketerrors "github.com/bpbradley/locket/internal/errors"
	"github.com/bpbradley/locket/internal/ready"
)

// NewHealthcheckCommand builds `locket healthcheck`: exits 0 iff the
// readiness artifact is present, non-zero otherwise (§6).
func NewHealthcheckCommand() *cobra.Command {
	var readyPath string

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Exit 0 iff the readiness artifact is present",
		RunE: func(cmd *cobra.Command, args []string) error {
			signal := ready.New(readyPath)
			if !signal.IsReady() {
				return locketerrors.Config("commands.healthcheck", fmt.Errorf("readiness artifact %q not present", signal.Path()))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&readyPath, "ready-path", ready.DefaultPath, "readiness artifact path")

	return cmd
}

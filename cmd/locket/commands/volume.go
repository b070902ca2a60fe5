package commands

import (
	"fmt"
	"os/user"

	dockervolume "github.com/docker/go-plugins-helpers/volume"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	locketerrors "github.com/bpbradley/locket/internal/errors"
	"github.com/bpbradley/locket/internal/provider"
	"github.com/bpbradley/locket/internal/resolve"
	"github.com/bpbradley/locket/internal/volume"
)

const defaultVolumeSocket = "/run/docker/plugins/locket.sock"

// NewVolumeCommand builds `locket volume`: serves the Docker volume-plugin
// protocol over a Unix socket, backing every mounted volume with a
// tmpfs-resident secret file (C10, grounded on
// rahoogan-docker-volume-secrets's main.go bootstrap).
func NewVolumeCommand(loggerFn func() zerolog.Logger) *cobra.Command {
	var (
		socketPath string
		stateDir   string
	)

	cmd := &cobra.Command{
		Use:   "volume",
		Short: "Serve the Docker volume-plugin protocol, materializing secrets into tmpfs-backed volumes",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFn()
			ctx := cmd.Context()

			if u, err := user.Current(); err != nil {
				logger.Warn().Err(err).Msg("volume: could not verify effective user")
			} else if u.Uid != "0" {
				return locketerrors.Config("commands.volume", fmt.Errorf("the volume plugin must run as root to bind %s", socketPath))
			}

			p, err := buildProvider(ctx)
			if err != nil {
				return err
			}
			r := resolve.New([]provider.Provider{p}, resolve.DefaultRetryPolicy(), logger)

			driver := volume.New(stateDir, r, logger)
			handler := dockervolume.NewHandler(driver)

			logger.Info().Str("socket", socketPath).Msg("volume: listening")
			return handler.ServeUnix(socketPath, 0)
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", defaultVolumeSocket, "unix socket to serve the volume plugin protocol on")
	cmd.Flags().StringVar(&stateDir, "state-dir", "/var/lib/locket/volumes", "directory to persist volume registrations and mountpoints under")

	return cmd
}

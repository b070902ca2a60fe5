package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bpbradley/locket/internal/config"
	locketerrors "github.com/bpbradley/locket/internal/errors"
	"github.com/bpbradley/locket/internal/provider"
	"github.com/bpbradley/locket/internal/reference"
	"github.com/bpbradley/locket/internal/resolve"
	"github.com/bpbradley/locket/internal/supervisor"
	"github.com/bpbradley/locket/internal/template"
	"github.com/bpbradley/locket/internal/watch"
)

// NewExecCommand builds `locket exec -- CMD...`: spawn CMD with a resolved
// secret environment, optionally restarting it when the underlying
// templates change (C11, wired to C5/C8).
func NewExecCommand(loggerFn func() zerolog.Logger) *cobra.Command {
	var (
		secretFlag    []string
		allowOverride bool
		watchMode     bool
		debounceMS    int
		restartTOSec  int
	)

	cmd := &cobra.Command{
		Use:   "exec -- CMD [ARGS...]",
		Short: "Run a command with resolved secrets injected into its environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFn()
			ctx := cmd.Context()

			dashIdx := cmd.ArgsLenAtDash()
			if dashIdx < 0 || dashIdx >= len(args) {
				return locketerrors.Config("commands.exec", fmt.Errorf("no command specified; usage: locket exec -- CMD [ARGS...]"))
			}
			command := args[dashIdx:]

			var units []config.TemplateUnit
			for _, raw := range secretFlag {
				spec, err := config.ParseSecretSpec(raw)
				if err != nil {
					return locketerrors.Config("commands.exec", err)
				}
				units = append(units, secretSpecToUnit(spec, config.InjectError))
			}

			p, err := buildProvider(ctx)
			if err != nil {
				return err
			}
			r := resolve.New([]provider.Provider{p}, resolve.DefaultRetryPolicy(), logger)

			env, err := resolveEnvironment(ctx, r, units)
			if err != nil {
				return err
			}

			sup := supervisor.New(supervisor.Options{
				Command:        command,
				Env:            env,
				AllowOverride:  allowOverride,
				RestartTimeout: time.Duration(restartTOSec) * time.Second,
			}, logger)

			if err := sup.Start(ctx); err != nil {
				return locketerrors.Config("commands.exec", err)
			}
			go sup.ForwardSignals(ctx)

			if watchMode {
				go runExecWatch(ctx, sup, r, units, time.Duration(debounceMS)*time.Millisecond, logger)
			}

			code, err := sup.Wait()
			if err != nil {
				return locketerrors.Config("commands.exec", err)
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&secretFlag, "secret", nil, "label=value secret spec, repeatable")
	cmd.Flags().BoolVar(&allowOverride, "allow-override", false, "let existing environment variables win over resolved secrets")
	cmd.Flags().BoolVar(&watchMode, "watch", false, "restart the child process when a secret source changes")
	cmd.Flags().IntVar(&debounceMS, "debounce", 500, "debounce window in milliseconds for watch mode")
	cmd.Flags().IntVar(&restartTOSec, "restart-timeout", int(supervisor.DefaultRestartTimeout.Seconds()), "seconds to wait after SIGTERM before SIGKILL on restart")

	return cmd
}

// resolveEnvironment renders every unit's template against freshly resolved
// secrets and returns the destination env-var name to rendered-value map.
func resolveEnvironment(ctx context.Context, r *resolve.Resolver, units []config.TemplateUnit) (map[string]string, error) {
	refs, _, err := extractReferences(units)
	if err != nil {
		return nil, err
	}
	results := r.Resolve(ctx, refs)

	env := make(map[string]string, len(units))
	for _, unit := range units {
		raw, err := loadTemplateBytes(unit.Template)
		if err != nil {
			return nil, locketerrors.Render("commands.resolveEnvironment", err)
		}

		lookup := func(key string) ([]byte, error) {
			ref, ok := reference.Parse(key)
			if !ok {
				return nil, fmt.Errorf("unrecognized reference syntax: %q", key)
			}
			result, ok := results[ref]
			if !ok {
				return nil, fmt.Errorf("reference not resolved: %s", ref.Fingerprint())
			}
			if result.Err != nil {
				return nil, result.Err
			}
			var value []byte
			useErr := result.Secret.Use(func(plaintext []byte) error {
				value = append([]byte(nil), plaintext...)
				return nil
			})
			return value, useErr
		}

		rendered, err := template.Render(raw, lookup, unit.InjectPolicy)
		if err != nil {
			return nil, locketerrors.Render("commands.resolveEnvironment", err)
		}
		env[unit.Destination.EnvName] = string(rendered)
	}
	return env, nil
}

func runExecWatch(ctx context.Context, sup *supervisor.Supervisor, r *resolve.Resolver, units []config.TemplateUnit, debounce time.Duration, logger zerolog.Logger) {
	handler := &execHandler{sup: sup, resolver: r, units: units}
	w, err := watch.New(debounce, handler, logger)
	if err != nil {
		logger.Error().Err(err).Msg("exec: failed to start watcher")
		return
	}
	defer w.Close()

	for _, unit := range units {
		var path string
		switch unit.Template.Kind {
		case config.TemplateFile:
			path = unit.Template.SourcePath
		case config.TemplateLiteral:
			path = unit.Template.LiteralPath
		default:
			continue
		}
		if err := w.Watch(path, false); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("exec: failed to watch source")
		}
	}

	if err := w.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("exec: watcher stopped")
	}
}

// execHandler re-resolves the environment and restarts the supervised
// process on any change to a watched template source.
type execHandler struct {
	sup      *supervisor.Supervisor
	resolver *resolve.Resolver
	units    []config.TemplateUnit
}

func (h *execHandler) HandleWrite(ctx context.Context, path string) error {
	return h.restart(ctx)
}

func (h *execHandler) HandleRemove(ctx context.Context, path string) error {
	return h.restart(ctx)
}

func (h *execHandler) HandleMove(ctx context.Context, from, to string) error {
	return h.restart(ctx)
}

func (h *execHandler) restart(ctx context.Context) error {
	env, err := resolveEnvironment(ctx, h.resolver, h.units)
	if err != nil {
		return err
	}
	h.sup.SetEnv(env)
	return h.sup.Restart(ctx)
}

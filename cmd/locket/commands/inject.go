package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bpbradley/locket/internal/config"
	"github.com/bpbradley/locket/internal/discover"
	locketerrors "github.com/bpbradley/locket/internal/errors"
	"github.com/bpbradley/locket/internal/materialize"
	"github.com/bpbradley/locket/internal/provider"
	"github.com/bpbradley/locket/internal/reference"
	"github.com/bpbradley/locket/internal/ready"
	"github.com/bpbradley/locket/internal/resolve"
	"github.com/bpbradley/locket/internal/template"
	"github.com/bpbradley/locket/internal/watch"
)

// NewInjectCommand builds `locket inject`: one-shot, watch, or park
// materialization of secrets to filesystem destinations (C1-C9 wired
// end-to-end).
func NewInjectCommand(loggerFn func() zerolog.Logger) *cobra.Command {
	var (
		mapFlag       []string
		secretFlag    []string
		policyFlag    string
		mode          string
		debounceMS    int
		readyPath     string
		includeHidden bool
		configPath    string
	)

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Resolve secrets and materialize them to files",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFn()
			ctx := cmd.Context()

			if configPath != "" {
				def, err := config.LoadFileDefinition(configPath)
				if err != nil {
					return locketerrors.Config("commands.inject", err)
				}
				if def.Policy != "" && !cmd.Flags().Changed("policy") {
					policyFlag = def.Policy
				}
				mapFlag = append(append([]string(nil), def.Mappings...), mapFlag...)
				secretFlag = append(append([]string(nil), def.Secrets...), secretFlag...)
			}

			policy, ok := config.ParseInjectPolicy(policyFlag)
			if !ok {
				return locketerrors.Config("commands.inject", fmt.Errorf("unknown --policy %q", policyFlag))
			}

			var mappings []config.PathMapping
			for _, raw := range mapFlag {
				parsed, err := config.ParseMappings(raw)
				if err != nil {
					return locketerrors.Config("commands.inject", err)
				}
				mappings = append(mappings, parsed...)
			}

			units, err := discover.Expand(mappings, discover.Options{
				InjectPolicy:  policy,
				MaxFileSize:   config.DefaultMaxFileSize,
				FileMode:      config.DefaultFileMode,
				DirMode:       config.DefaultDirMode,
				IncludeHidden: includeHidden,
			})
			if err != nil {
				return err
			}

			for _, raw := range secretFlag {
				spec, err := config.ParseSecretSpec(raw)
				if err != nil {
					return locketerrors.Config("commands.inject", err)
				}
				units = append(units, secretSpecToUnit(spec, policy))
			}

			p, err := buildProvider(ctx)
			if err != nil {
				return err
			}
			r := resolve.New([]provider.Provider{p}, resolve.DefaultRetryPolicy(), logger)

			signal := ready.New(readyPath)
			runner := &cycleRunner{resolver: r, logger: logger, signal: signal}

			switch watch.Mode(mode) {
			case watch.ModeOneShot, "":
				return runner.runOnce(ctx, units)
			case watch.ModePark:
				if err := runner.runOnce(ctx, units); err != nil {
					return err
				}
				<-ctx.Done()
				return nil
			case watch.ModeWatch:
				return runWatchMode(ctx, runner, mappings, units, time.Duration(debounceMS)*time.Millisecond, logger)
			default:
				return locketerrors.Config("commands.inject", fmt.Errorf("unknown --mode %q", mode))
			}
		},
	}

	cmd.Flags().StringArrayVar(&mapFlag, "map", nil, "SRC:DST or SRC=DST mapping, repeatable, comma-separated")
	cmd.Flags().StringArrayVar(&secretFlag, "secret", nil, "label=value secret spec, repeatable")
	cmd.Flags().StringVar(&policyFlag, "policy", string(config.InjectPassthrough), "injection policy: error, passthrough, ignore")
	cmd.Flags().StringVar(&mode, "mode", string(watch.ModeOneShot), "one-shot, park, or watch")
	cmd.Flags().IntVar(&debounceMS, "debounce", 500, "debounce window in milliseconds for watch mode")
	cmd.Flags().StringVar(&readyPath, "ready-path", ready.DefaultPath, "readiness artifact path")
	cmd.Flags().BoolVar(&includeHidden, "include-hidden", false, "include dotfiles when expanding a directory mapping")
	cmd.Flags().StringVar(&configPath, "config", "", "declarative YAML file listing mappings/secrets, merged with --map/--secret")

	return cmd
}

func secretSpecToUnit(spec config.SecretSpec, policy config.InjectPolicy) config.TemplateUnit {
	t := config.Template{Label: spec.Label}
	if spec.IsFile() {
		t.Kind = config.TemplateLiteral
		t.LiteralPath = spec.FilePath
	} else {
		t.Kind = config.TemplateInline
		t.Text = spec.InlineText
	}
	return config.TemplateUnit{
		Template:     t,
		Destination:  config.EnvironmentEntry(spec.Label),
		InjectPolicy: policy,
		MaxFileSize:  config.DefaultMaxFileSize,
		FileMode:     config.DefaultFileMode,
		DirMode:      config.DefaultDirMode,
	}
}

// cycleRunner runs one resolve+render+materialize cycle over a set of
// TemplateUnits, marking readiness when every destination converges.
type cycleRunner struct {
	resolver *resolve.Resolver
	logger   zerolog.Logger
	signal   *ready.Signal
}

func (c *cycleRunner) runOnce(ctx context.Context, units []config.TemplateUnit) error {
	if err := c.signal.MarkNotReady(); err != nil {
		c.logger.Warn().Err(err).Msg("inject: failed to clear readiness artifact")
	}

	refs, unitRefs, err := extractReferences(units)
	if err != nil {
		return err
	}

	results := c.resolver.Resolve(ctx, refs)

	failed := 0
	for i, unit := range units {
		if err := c.materializeUnit(unit, unitRefs[i], results); err != nil {
			failed++
			c.logger.Error().Err(err).Str("destination", destinationLabel(unit.Destination)).Msg("inject: destination failed")
		}
	}

	c.logger.Info().Int("ready", len(units)-failed).Int("failed", failed).Msg("inject: cycle complete")

	if failed > 0 {
		return locketerrors.Render("commands.inject", fmt.Errorf("%d of %d destinations failed to materialize", failed, len(units)))
	}
	return c.signal.MarkReady()
}

func (c *cycleRunner) materializeUnit(unit config.TemplateUnit, refs []reference.Reference, results map[reference.Reference]resolve.Result) error {
	raw, err := loadTemplateBytes(unit.Template)
	if err != nil {
		return locketerrors.Render("commands.materializeUnit", err)
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
		return locketerrors.Render("commands.materializeUnit", err)
	}
	if unit.MaxFileSize > 0 && int64(len(rendered)) > unit.MaxFileSize {
		return locketerrors.Render("commands.materializeUnit", fmt.Errorf("rendered content exceeds max file size (%d > %d)", len(rendered), unit.MaxFileSize))
	}

	switch unit.Destination.Kind {
	case config.DestinationPath:
		return materialize.WriteFile(unit.Destination.AbsolutePath, rendered, unit.FileMode, unit.DirMode, unit.Owner)
	case config.DestinationEnvironment:
		// Environment-variable destinations are consumed by `locket exec`;
		// inject alone has nowhere to place a process environment, so it
		// logs the entry's name at debug level and writes the rendered value
		// nowhere.
		c.logger.Debug().Str("name", unit.Destination.EnvName).Msg("inject: resolved environment entry")
		return nil
	case config.DestinationVolume:
		return fmt.Errorf("volume destinations are materialized by the volume driver, not inject")
	default:
		return fmt.Errorf("unknown destination kind %q", unit.Destination.Kind)
	}
}

func loadTemplateBytes(t config.Template) ([]byte, error) {
	switch t.Kind {
	case config.TemplateFile:
		return os.ReadFile(t.SourcePath)
	case config.TemplateLiteral:
		return os.ReadFile(t.LiteralPath)
	case config.TemplateInline:
		return []byte(t.Text), nil
	default:
		return nil, fmt.Errorf("unknown template kind %q", t.Kind)
	}
}

func extractReferences(units []config.TemplateUnit) ([]reference.Reference, [][]reference.Reference, error) {
	all := make([]reference.Reference, 0, len(units))
	perUnit := make([][]reference.Reference, len(units))

	for i, unit := range units {
		raw, err := loadTemplateBytes(unit.Template)
		if err != nil {
			return nil, nil, locketerrors.Render("commands.extractReferences", err)
		}
		for _, tag := range template.Parse(raw) {
			if tag.Key == "" {
				continue
			}
			if ref, ok := reference.Parse(tag.Key); ok {
				all = append(all, ref)
				perUnit[i] = append(perUnit[i], ref)
			}
		}
	}
	return all, perUnit, nil
}

func destinationLabel(d config.Destination) string {
	switch d.Kind {
	case config.DestinationPath:
		return d.AbsolutePath
	case config.DestinationEnvironment:
		return "$" + d.EnvName
	case config.DestinationVolume:
		return d.VolumeID + ":" + d.RelativePath
	default:
		return "?"
	}
}

func runWatchMode(ctx context.Context, runner *cycleRunner, mappings []config.PathMapping, units []config.TemplateUnit, debounce time.Duration, logger zerolog.Logger) error {
	if err := runner.runOnce(ctx, units); err != nil {
		runner.logger.Warn().Err(err).Msg("inject: initial cycle failed, watching anyway")
	}

	handler := &injectHandler{runner: runner, units: units}
	w, err := watch.New(debounce, handler, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	for _, m := range mappings {
		info, err := os.Stat(m.Src)
		if err != nil {
			return locketerrors.Watcher("commands.runWatchMode", fmt.Errorf("source %q: %w", m.Src, err))
		}
		if err := w.Watch(m.Src, info.IsDir()); err != nil {
			return err
		}
	}

	return w.Run(ctx)
}

// injectHandler re-runs the full cycle on any change; the units set is
// small enough in practice that per-path incremental updates aren't worth
// the added bookkeeping.
type injectHandler struct {
	runner *cycleRunner
	units  []config.TemplateUnit
}

func (h *injectHandler) HandleWrite(ctx context.Context, path string) error {
	return h.runner.runOnce(ctx, h.units)
}

func (h *injectHandler) HandleRemove(ctx context.Context, path string) error {
	return h.runner.runOnce(ctx, h.units)
}

func (h *injectHandler) HandleMove(ctx context.Context, from, to string) error {
	return h.runner.runOnce(ctx, h.units)
}

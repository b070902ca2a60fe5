package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bpbradley/locket/internal/config"
	locketerrors "github.com/bpbradley/locket/internal/errors"
	"github.com/bpbradley/locket/internal/provider"
	"github.com/bpbradley/locket/internal/reference"
	"github.com/bpbradley/locket/internal/resolve"
	"github.com/bpbradley/locket/internal/template"
)

// composeMessageType mirrors the message "type" field Docker Compose expects
// from a provider plugin's stdout stream (§6).
type composeMessageType string

const (
	composeInfo   composeMessageType = "info"
	composeError  composeMessageType = "error"
	composeDebug  composeMessageType = "debug"
	composeSetEnv composeMessageType = "setenv"
)

type composeMessage struct {
	Type    composeMessageType `json:"type"`
	Message string             `json:"message"`
}

func emitComposeMessage(t composeMessageType, message string) {
	line, err := json.Marshal(composeMessage{Type: t, Message: message})
	if err != nil {
		return
	}
	fmt.Println(string(line))
}

func setComposeEnv(key, value string) {
	emitComposeMessage(composeSetEnv, key+"="+value)
}

// NewComposeCommand builds `locket compose`, the container-compose provider
// protocol handler: `metadata` describes the plugin's capabilities, `up`
// resolves secrets and emits setenv messages for the target service, and
// `down` is a no-op since locket materializes nothing durable for compose.
func NewComposeCommand(loggerFn func() zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Docker Compose provider protocol handler",
	}

	cmd.AddCommand(newComposeMetadataCommand(), newComposeUpCommand(loggerFn), newComposeDownCommand())
	return cmd
}

func newComposeMetadataCommand() *cobra.Command {
	return &cobra.Command{
		Use:  "metadata [PROJECT]",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta := struct {
				Description string `json:"description"`
				Up          struct {
					Parameters []composeParameter `json:"parameters"`
				} `json:"up"`
				Down struct {
					Parameters []composeParameter `json:"parameters"`
				} `json:"down"`
			}{
				Description: "Resolve secrets and inject them as environment bindings for a compose service",
			}
			meta.Up.Parameters = []composeParameter{
				{Name: "secret", Description: "label=value secret spec, repeatable", Type: "string"},
				{Name: "env-file", Description: "path to a .env-style template, repeatable", Type: "string"},
			}
			meta.Down.Parameters = nil

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(meta)
		},
	}
}

type composeParameter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Type        string `json:"type"`
}

func newComposeUpCommand(loggerFn func() zerolog.Logger) *cobra.Command {
	var (
		secretFlag  []string
		envFileFlag []string
	)

	cmd := &cobra.Command{
		Use:  "up PROJECT",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFn()
			ctx := cmd.Context()
			project := args[0]

			var units []config.TemplateUnit
			for _, raw := range secretFlag {
				spec, err := config.ParseSecretSpec(raw)
				if err != nil {
					emitComposeMessage(composeError, err.Error())
					return locketerrors.Config("commands.compose.up", err)
				}
				units = append(units, secretSpecToUnit(spec, config.InjectError))
			}
			for _, path := range envFileFlag {
				units = append(units, config.TemplateUnit{
					Template:     config.Template{Kind: config.TemplateFile, SourcePath: path},
					Destination:  config.EnvironmentEntry(""),
					InjectPolicy: config.InjectError,
				})
			}

			emitComposeMessage(composeInfo, fmt.Sprintf("resolving secrets for project %q", project))

			p, err := buildProvider(ctx)
			if err != nil {
				emitComposeMessage(composeError, err.Error())
				return err
			}
			r := resolve.New([]provider.Provider{p}, resolve.DefaultRetryPolicy(), logger)

			for _, unit := range units {
				if unit.Destination.EnvName == "" {
					// .env-file style units carry the KEY= names inside the
					// file itself, not the destination; render then split
					// each resulting line into its own setenv message.
					env, err := envFileToBindings(ctx, r, unit)
					if err != nil {
						emitComposeMessage(composeError, err.Error())
						return locketerrors.Render("commands.compose.up", err)
					}
					for k, v := range env {
						setComposeEnv(k, v)
					}
					continue
				}
				env, err := resolveEnvironment(ctx, r, []config.TemplateUnit{unit})
				if err != nil {
					emitComposeMessage(composeError, err.Error())
					return locketerrors.Render("commands.compose.up", err)
				}
				setComposeEnv(unit.Destination.EnvName, env[unit.Destination.EnvName])
			}

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&secretFlag, "secret", nil, "label=value secret spec, repeatable")
	cmd.Flags().StringArrayVar(&envFileFlag, "env-file", nil, "path to a .env-style template, repeatable")

	return cmd
}

func newComposeDownCommand() *cobra.Command {
	return &cobra.Command{
		Use:  "down PROJECT",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// locket materializes nothing durable for a compose project, so
			// there's nothing to tear down.
			return nil
		},
	}
}

// envFileToBindings renders a .env-style template (KEY={{reference}} per
// line) and splits the result into individual KEY/VALUE bindings.
func envFileToBindings(ctx context.Context, r *resolve.Resolver, unit config.TemplateUnit) (map[string]string, error) {
	raw, err := loadTemplateBytes(unit.Template)
	if err != nil {
		return nil, err
	}

	rendered, err := renderTemplateBytes(ctx, r, raw, unit.InjectPolicy)
	if err != nil {
		return nil, err
	}

	bindings := make(map[string]string)
	for _, line := range strings.Split(string(rendered), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		bindings[strings.TrimSpace(key)] = value
	}
	return bindings, nil
}

// renderTemplateBytes resolves every reference embedded in raw and renders
// it in place, sharing the same lookup semantics as inject and exec.
func renderTemplateBytes(ctx context.Context, r *resolve.Resolver, raw []byte, policy config.InjectPolicy) ([]byte, error) {
	var refs []reference.Reference
	for _, tag := range template.Parse(raw) {
		if tag.Key == "" {
			continue
		}
		if ref, ok := reference.Parse(tag.Key); ok {
			refs = append(refs, ref)
		}
	}
	results := r.Resolve(ctx, refs)

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

	return template.Render(raw, lookup, policy)
}

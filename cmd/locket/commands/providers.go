// buildProvider constructs the provider selected by SECRETS_PROVIDER,
// reading each provider's own environment variables; each command then
// wraps it in a Resolver. Grounded on
// dsops's cmd/dsops/commands registerProviders helper, which dsops's
// render/exec commands both call before touching the resolver.
package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bpbradley/locket/internal/config"
	locketerrors "github.com/bpbradley/locket/internal/errors"
	"github.com/bpbradley/locket/internal/provider"
	"github.com/bpbradley/locket/internal/provider/bws"
	"github.com/bpbradley/locket/internal/provider/connect"
	"github.com/bpbradley/locket/internal/provider/infisical"
	"github.com/bpbradley/locket/internal/provider/op"
	"github.com/bpbradley/locket/internal/reference"
)

const defaultProviderTimeout = 30 * time.Second

// buildProvider constructs the single provider named by SECRETS_PROVIDER,
// reading its configuration from the environment (§6).
func buildProvider(ctx context.Context) (provider.Provider, error) {
	name := config.ProviderName(os.Getenv("SECRETS_PROVIDER"))
	if name == "" {
		name = config.ProviderOp
	}

	switch name {
	case config.ProviderOp:
		token, err := config.TokenSource(os.Getenv("OP_SERVICE_ACCOUNT_TOKEN")).Resolve()
		if err != nil {
			return nil, locketerrors.Config("commands.buildProvider", fmt.Errorf("OP_SERVICE_ACCOUNT_TOKEN: %w", err))
		}
		return op.New(op.Config{ServiceAccountToken: token, Binary: "op"}, os.ReadFile)

	case config.ProviderOpConnect:
		token, err := config.TokenSource(os.Getenv("OP_CONNECT_TOKEN")).Resolve()
		if err != nil {
			return nil, locketerrors.Config("commands.buildProvider", fmt.Errorf("OP_CONNECT_TOKEN: %w", err))
		}
		host := os.Getenv("OP_CONNECT_HOST")
		if host == "" {
			return nil, locketerrors.Config("commands.buildProvider", fmt.Errorf("OP_CONNECT_HOST is required for provider %q", name))
		}
		return connect.New(ctx, connect.Config{Host: host, Token: token, Timeout: defaultProviderTimeout})

	case config.ProviderBws:
		token, err := config.TokenSource(os.Getenv("BWS_MACHINE_TOKEN")).Resolve()
		if err != nil {
			return nil, locketerrors.Config("commands.buildProvider", fmt.Errorf("BWS_MACHINE_TOKEN: %w", err))
		}
		apiURL := envOrDefault("BWS_API_URL", "https://api.bitwarden.com")
		identityURL := envOrDefault("BWS_IDENTITY_URL", "https://identity.bitwarden.com")
		return bws.New(ctx, bws.Config{
			IdentityURL: identityURL,
			APIURL:      apiURL,
			AccessToken: token,
			Timeout:     defaultProviderTimeout,
		})

	case config.ProviderInfisical:
		clientSecret, err := config.TokenSource(os.Getenv("INFISICAL_CLIENT_SECRET")).Resolve()
		if err != nil {
			return nil, locketerrors.Config("commands.buildProvider", fmt.Errorf("INFISICAL_CLIENT_SECRET: %w", err))
		}
		url := envOrDefault("INFISICAL_URL", "https://app.infisical.com")
		clientID := os.Getenv("INFISICAL_CLIENT_ID")
		if clientID == "" {
			return nil, locketerrors.Config("commands.buildProvider", fmt.Errorf("INFISICAL_CLIENT_ID is required for provider %q", name))
		}
		return infisical.New(ctx, infisical.Config{
			URL:                url,
			ClientID:           clientID,
			ClientSecret:       clientSecret,
			DefaultEnvironment: os.Getenv("INFISICAL_ENVIRONMENT"),
			DefaultProjectID:   os.Getenv("INFISICAL_PROJECT_ID"),
			DefaultPath:        envOrDefault("INFISICAL_PATH", "/"),
			DefaultSecretType:  reference.InfisicalSecretShared,
			Timeout:            defaultProviderTimeout,
		})

	default:
		return nil, locketerrors.Config("commands.buildProvider", fmt.Errorf("unknown SECRETS_PROVIDER %q", name))
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package config

import (
	"fmt"
	"os"
	"strings"
)

// TokenSource resolves a secret value that may be given directly or
// indirected through a file, matching the `file:/path` convention used by
// every provider's token/secret environment variable (§6).
type TokenSource string

// Resolve returns the literal token value, reading from disk when the
// source used the "file:" prefix.
func (t TokenSource) Resolve() (string, error) {
	s := string(t)
	if path, ok := strings.CutPrefix(s, "file:"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading token file %q: %w", path, err)
		}
		trimmed := strings.TrimSpace(string(data))
		if trimmed == "" {
			return "", fmt.Errorf("token file %q is empty", path)
		}
		return trimmed, nil
	}
	if s == "" {
		return "", fmt.Errorf("missing token value")
	}
	return s, nil
}

// ProviderName selects which backend serves op:// / infisical:// / bare-UUID
// references for this process (SECRETS_PROVIDER).
type ProviderName string

const (
	ProviderOp        ProviderName = "op"
	ProviderOpConnect ProviderName = "op-connect"
	ProviderBws       ProviderName = "bws"
	ProviderInfisical ProviderName = "infisical"
)

// OpConfig configures the op CLI provider.
type OpConfig struct {
	ServiceAccountToken TokenSource // OP_SERVICE_ACCOUNT_TOKEN
}

// OpConnectConfig configures the 1Password Connect provider.
type OpConnectConfig struct {
	Host          string      // OP_CONNECT_HOST
	Token         TokenSource // OP_CONNECT_TOKEN
	MaxConcurrent int
}

// BwsConfig configures the Bitwarden Secrets Manager provider.
type BwsConfig struct {
	MachineToken TokenSource // BWS_MACHINE_TOKEN
	APIURL       string      // BWS_API_URL
	IdentityURL  string      // BWS_IDENTITY_URL
	MaxConcurrent int
}

// InfisicalConfig configures the Infisical provider.
type InfisicalConfig struct {
	URL                string      // INFISICAL_URL
	ClientID           string      // INFISICAL_CLIENT_ID
	ClientSecret       TokenSource // INFISICAL_CLIENT_SECRET
	DefaultEnvironment string
	DefaultProjectID   string
	DefaultPath        string
	DefaultSecretType  string
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSecretSpec_InlineText(t *testing.T) {
	spec, err := ParseSecretSpec("db_pass={{op://Vault/DB/password}}")
	require.NoError(t, err)
	assert.Equal(t, "db_pass", spec.Label)
	assert.Equal(t, "{{op://Vault/DB/password}}", spec.InlineText)
	assert.False(t, spec.IsFile())
}

func TestParseSecretSpec_FileForm(t *testing.T) {
	spec, err := ParseSecretSpec("tls_key=@/etc/locket/tls.key")
	require.NoError(t, err)
	assert.Equal(t, "tls_key", spec.Label)
	assert.Equal(t, "/etc/locket/tls.key", spec.FilePath)
	assert.True(t, spec.IsFile())
}

func TestParseSecretSpec_SplitsOnFirstEqualsOnly(t *testing.T) {
	spec, err := ParseSecretSpec("query=infisical:///KEY?env=prod&path=/x")
	require.NoError(t, err)
	assert.Equal(t, "query", spec.Label)
	assert.Equal(t, "infisical:///KEY?env=prod&path=/x", spec.InlineText)
}

func TestParseSecretSpec_RejectsMissingEquals(t *testing.T) {
	_, err := ParseSecretSpec("no-equals-sign")
	assert.Error(t, err)
}

func TestParseSecretSpec_RejectsEmptyLabel(t *testing.T) {
	_, err := ParseSecretSpec("=value")
	assert.Error(t, err)
}

func TestParseSecretSpec_RejectsEmptyFilePath(t *testing.T) {
	_, err := ParseSecretSpec("label=@")
	assert.Error(t, err)
}

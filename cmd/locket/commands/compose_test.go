package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpbradley/locket/internal/config"
	"github.com/bpbradley/locket/internal/provider"
	"github.com/bpbradley/locket/internal/reference"
	"github.com/bpbradley/locket/internal/resolve"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	require.NoError(t, w.Close())
	os.Stdout = old

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestEmitComposeMessage_WritesOneJSONLinePerCall(t *testing.T) {
	out := captureStdout(t, func() {
		emitComposeMessage(composeInfo, "resolving secrets")
	})

	var msg composeMessage
	require.NoError(t, json.Unmarshal(bytes.TrimSpace([]byte(out)), &msg))
	assert.Equal(t, composeInfo, msg.Type)
	assert.Equal(t, "resolving secrets", msg.Message)
}

func TestSetComposeEnv_EmitsSetEnvMessageWithKeyValue(t *testing.T) {
	out := captureStdout(t, func() {
		setComposeEnv("DB_PASSWORD", "s3cr3t")
	})

	var msg composeMessage
	require.NoError(t, json.Unmarshal(bytes.TrimSpace([]byte(out)), &msg))
	assert.Equal(t, composeSetEnv, msg.Type)
	assert.Equal(t, "DB_PASSWORD=s3cr3t", msg.Message)
}

func TestRenderTemplateBytes_SubstitutesResolvedReference(t *testing.T) {
	ref := mustTestRef(t, "bfe1d886-e0d5-4bde-953e-b1a2005a3af0")
	p := fakeProvider{values: map[reference.Reference][]byte{ref: []byte("p4ss")}}
	r := resolve.New([]provider.Provider{p}, resolve.DefaultRetryPolicy(), zerolog.Nop())

	raw := []byte("password={{" + ref.String() + "}}")
	rendered, err := renderTemplateBytes(context.Background(), r, raw, config.InjectError)
	require.NoError(t, err)
	assert.Equal(t, "password=p4ss", string(rendered))
}

func TestEnvFileToBindings_SplitsRenderedLinesIntoKeyValuePairs(t *testing.T) {
	ref := mustTestRef(t, "bfe1d886-e0d5-4bde-953e-b1a2005a3af0")
	p := fakeProvider{values: map[reference.Reference][]byte{ref: []byte("p4ss")}}
	r := resolve.New([]provider.Provider{p}, resolve.DefaultRetryPolicy(), zerolog.Nop())

	dir := t.TempDir()
	path := dir + "/app.env"
	content := "# comment\nDB_PASSWORD={{" + ref.String() + "}}\n\nAPI_KEY=plain-value\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	unit := config.TemplateUnit{
		Template:     config.Template{Kind: config.TemplateFile, SourcePath: path},
		InjectPolicy: config.InjectError,
	}

	bindings, err := envFileToBindings(context.Background(), r, unit)
	require.NoError(t, err)
	assert.Equal(t, "p4ss", bindings["DB_PASSWORD"])
	assert.Equal(t, "plain-value", bindings["API_KEY"])
}

func TestNewComposeCommand_RegistersSubcommands(t *testing.T) {
	cmd := NewComposeCommand(func() zerolog.Logger { return zerolog.Nop() })
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["metadata"])
	assert.True(t, names["up"])
	assert.True(t, names["down"])
}

func TestComposeDown_IsANoOp(t *testing.T) {
	cmd := NewComposeCommand(func() zerolog.Logger { return zerolog.Nop() })
	cmd.SetArgs([]string{"down", "myproject"})
	assert.NoError(t, cmd.Execute())
}

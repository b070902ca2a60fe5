package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMappings_ColonSeparator(t *testing.T) {
	mappings, err := ParseMappings("/tpl:/out")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, PathMapping{Src: "/tpl", Dst: "/out"}, mappings[0])
}

func TestParseMappings_EqualsSeparator(t *testing.T) {
	mappings, err := ParseMappings("/tpl=/out")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, PathMapping{Src: "/tpl", Dst: "/out"}, mappings[0])
}

func TestParseMappings_CommaSeparatedList(t *testing.T) {
	mappings, err := ParseMappings("/a:/b, /c:/d")
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, PathMapping{Src: "/a", Dst: "/b"}, mappings[0])
	assert.Equal(t, PathMapping{Src: "/c", Dst: "/d"}, mappings[1])
}

func TestParseMappings_SkipsEmptyEntries(t *testing.T) {
	mappings, err := ParseMappings("/a:/b,,")
	require.NoError(t, err)
	assert.Len(t, mappings, 1)
}

func TestParseMappings_RejectsMissingSeparator(t *testing.T) {
	_, err := ParseMappings("no-separator-here")
	assert.Error(t, err)
}

func TestParseMappings_RejectsEmptySourceOrDest(t *testing.T) {
	_, err := ParseMappings(":/out")
	assert.Error(t, err)

	_, err = ParseMappings("/tpl:")
	assert.Error(t, err)
}

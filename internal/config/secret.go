package config

import (
	"fmt"
	"strings"
)

// SecretSpec is one parsed `--secret label=value` entry. value is either an
// inline template (`label={{op://...}}`), plain literal text, or a
// `@/path/to/file` reference whose bytes become the secret verbatim
// (LiteralFile).
type SecretSpec struct {
	Label string
	// FilePath is set when value used the "@/path" form.
	FilePath string
	// InlineText holds the raw template/literal text otherwise.
	InlineText string
}

// IsFile reports whether this spec names a LiteralFile rather than inline text.
func (s SecretSpec) IsFile() bool { return s.FilePath != "" }

// ParseSecretSpec parses a single `label=value` entry. Splitting happens on
// the first "=" only, so inline template values containing "=" (e.g. query
// parameters within a reference) are preserved intact.
func ParseSecretSpec(raw string) (SecretSpec, error) {
	eq := strings.IndexByte(raw, '=')
	if eq < 0 {
		return SecretSpec{}, fmt.Errorf("secret %q: expected label=value", raw)
	}
	label := strings.TrimSpace(raw[:eq])
	value := raw[eq+1:]
	if label == "" {
		return SecretSpec{}, fmt.Errorf("secret %q: label must be non-empty", raw)
	}

	if strings.HasPrefix(value, "@") {
		path := strings.TrimPrefix(value, "@")
		if path == "" {
			return SecretSpec{}, fmt.Errorf("secret %q: file reference must name a path", raw)
		}
		return SecretSpec{Label: label, FilePath: path}, nil
	}

	return SecretSpec{Label: label, InlineText: value}, nil
}

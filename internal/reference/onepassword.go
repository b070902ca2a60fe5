package reference

import (
	"fmt"
	"net/url"
	"strings"
)

// OnePasswordRef addresses a single field within a 1Password item:
//
//	op://<vault>/<item>/<field>
//	op://<vault>/<item>/<section>/<field>
//
// Vault, item, section, and field are percent-decoded at parse time.
type OnePasswordRef struct {
	raw     string
	Vault   string
	Item    string
	Section string // empty when the 2-segment form was used
	Field   string
}

func (r OnePasswordRef) String() string { return r.raw }

// HasSection reports whether the reference named an explicit section.
func (r OnePasswordRef) HasSection() bool { return r.Section != "" }

// ParseOnePassword parses the op:// grammar. It returns an error (not ok=false
// sentinel) so callers distinguish "not this scheme" from "malformed op
// reference" when building diagnostics.
func ParseOnePassword(raw string) (OnePasswordRef, error) {
	if !strings.HasPrefix(raw, "op://") {
		return OnePasswordRef{}, fmt.Errorf("not an op:// reference")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return OnePasswordRef{}, fmt.Errorf("invalid op reference %q: %w", raw, err)
	}

	if u.Host == "" {
		return OnePasswordRef{}, fmt.Errorf("op reference %q: missing vault", raw)
	}
	vault, err := url.PathUnescape(u.Host)
	if err != nil {
		return OnePasswordRef{}, fmt.Errorf("op reference %q: invalid vault encoding: %w", raw, err)
	}

	rawSegments := strings.Split(strings.TrimPrefix(u.EscapedPath(), "/"), "/")
	segments := make([]string, len(rawSegments))
	for i, seg := range rawSegments {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return OnePasswordRef{}, fmt.Errorf("op reference %q: invalid path segment encoding: %w", raw, err)
		}
		segments[i] = decoded
	}

	var item, section, field string
	switch len(segments) {
	case 2:
		item, field = segments[0], segments[1]
	case 3:
		item, section, field = segments[0], segments[1], segments[2]
	default:
		return OnePasswordRef{}, fmt.Errorf("op reference %q: expected 2 or 3 path segments (item/field or item/section/field), got %d", raw, len(segments))
	}

	if vault == "" || item == "" || field == "" {
		return OnePasswordRef{}, fmt.Errorf("op reference %q: vault, item, and field must be non-empty", raw)
	}

	return OnePasswordRef{
		raw:     raw,
		Vault:   vault,
		Item:    item,
		Section: section,
		Field:   field,
	}, nil
}

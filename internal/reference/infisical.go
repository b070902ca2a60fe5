package reference

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	infisicalSlugRE = regexp.MustCompile(`^[a-z0-9-]+$`)
	infisicalPathRE = regexp.MustCompile(`^/[a-zA-Z0-9_/-]*$`)
	infisicalKeyBad = regexp.MustCompile(`[:/?\x00-\x1f]`)
)

// InfisicalSecretType selects between a shared (project-wide) and personal
// secret override, mirroring Infisical's own /api/v4 `type` query parameter.
type InfisicalSecretType string

const (
	InfisicalSecretShared   InfisicalSecretType = "shared"
	InfisicalSecretPersonal InfisicalSecretType = "personal"
)

// InfisicalRef addresses a single Infisical secret:
//
//	infisical:///<key>[?env=<slug>&path=<path>&project_id=<uuid>&type=<shared|personal>]
//
// Any option left unset falls back to the provider's configured default at
// resolve time (see internal/provider/infisical).
type InfisicalRef struct {
	raw       string
	Key       string
	Env       string // slug, optional
	Path      string // optional, must start with '/'
	ProjectID string // optional, UUID string
	Type      InfisicalSecretType
}

func (r InfisicalRef) String() string { return r.raw }

// ParseInfisical parses the infisical:// grammar.
func ParseInfisical(raw string) (InfisicalRef, error) {
	if !strings.HasPrefix(raw, "infisical://") {
		return InfisicalRef{}, fmt.Errorf("not an infisical:// reference")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return InfisicalRef{}, fmt.Errorf("invalid infisical reference %q: %w", raw, err)
	}

	if u.Host != "" {
		return InfisicalRef{}, fmt.Errorf("infisical reference %q: expected triple-slash form infisical:///<key>, got host %q", raw, u.Host)
	}

	rawKey := strings.TrimPrefix(u.Path, "/")
	if rawKey == "" {
		return InfisicalRef{}, fmt.Errorf("infisical reference %q: missing secret key", raw)
	}
	key, err := url.PathUnescape(rawKey)
	if err != nil {
		return InfisicalRef{}, fmt.Errorf("infisical reference %q: invalid key encoding: %w", raw, err)
	}
	if infisicalKeyBad.MatchString(key) {
		return InfisicalRef{}, fmt.Errorf("infisical reference %q: key %q must not contain slashes, colons, or control characters", raw, key)
	}

	q := u.Query()

	ref := InfisicalRef{raw: raw, Key: key}

	if env := q.Get("env"); env != "" {
		if !infisicalSlugRE.MatchString(env) {
			return InfisicalRef{}, fmt.Errorf("infisical reference %q: invalid env slug %q", raw, env)
		}
		ref.Env = env
	}

	if path := q.Get("path"); path != "" {
		if !infisicalPathRE.MatchString(path) {
			return InfisicalRef{}, fmt.Errorf("infisical reference %q: invalid path %q", raw, path)
		}
		ref.Path = path
	}

	if projectID := q.Get("project_id"); projectID != "" {
		ref.ProjectID = projectID
	}

	switch t := q.Get("type"); t {
	case "":
	case string(InfisicalSecretShared):
		ref.Type = InfisicalSecretShared
	case string(InfisicalSecretPersonal):
		ref.Type = InfisicalSecretPersonal
	default:
		return InfisicalRef{}, fmt.Errorf("infisical reference %q: invalid type %q", raw, t)
	}

	return ref, nil
}

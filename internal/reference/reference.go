// Package reference implements locket's secret-reference grammar (C1): an
// immutable, tagged-variant value type identifying exactly one secret at one
// provider, with structural equality suitable for deduplication and use as
// a map key.
package reference

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	locketerrors "github.com/bpbradley/locket/internal/errors"
)

// Kind identifies which provider family a Reference addresses.
type Kind string

const (
	KindOnePassword Kind = "op"       // shared by the op CLI and op-connect providers
	KindBws         Kind = "bws"      // Bitwarden Secrets Manager
	KindInfisical   Kind = "infisical"
)

// Reference is an immutable, hashable pointer to exactly one secret value at
// a provider. Two References compare equal iff they address the same
// secret through the same syntax; this is the identity used for
// deduplication in the resolver (C5).
type Reference struct {
	Kind      Kind
	OnePass   OnePasswordRef
	Bws       BwsRef
	Infisical InfisicalRef
}

// String renders the reference back to its canonical wire form.
func (r Reference) String() string {
	switch r.Kind {
	case KindOnePassword:
		return r.OnePass.String()
	case KindBws:
		return r.Bws.String()
	case KindInfisical:
		return r.Infisical.String()
	default:
		return ""
	}
}

// Fingerprint is a deterministic, non-reversible, log-safe identifier for
// the reference and the only reference-identifying detail locket ever logs.
// The resolver deduplicates and keys its results by the Reference value
// itself, not by its fingerprint.
func (r Reference) Fingerprint() string {
	sum := sha256.Sum256([]byte(string(r.Kind) + "\x00" + r.String()))
	return hex.EncodeToString(sum[:8])
}

// Parse attempts every known grammar in turn and returns the first match.
// A bare UUID is treated as a Bws reference; `op://...` as a OnePassword
// reference (used identically by the op and op-connect providers — which
// one actually serves it is a resolver/provider-registration concern, not a
// syntax concern); `infisical://...` as an Infisical reference. Strings
// matching none of these return ok=false so callers can treat the
// placeholder as literal text.
func Parse(raw string) (Reference, bool) {
	if ref, err := ParseOnePassword(raw); err == nil {
		return Reference{Kind: KindOnePassword, OnePass: ref}, true
	}
	if ref, err := ParseInfisical(raw); err == nil {
		return Reference{Kind: KindInfisical, Infisical: ref}, true
	}
	if ref, err := ParseBws(raw); err == nil {
		return Reference{Kind: KindBws, Bws: ref}, true
	}
	return Reference{}, false
}

// MustParse parses raw or returns a *locketerrors.Error of kind Reference.
func MustParse(raw string) (Reference, error) {
	ref, ok := Parse(raw)
	if !ok {
		return Reference{}, locketerrors.Reference("reference.Parse", fmt.Errorf("unrecognized reference syntax: %q", raw))
	}
	return ref, nil
}

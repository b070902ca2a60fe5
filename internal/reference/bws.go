package reference

import (
	"fmt"

	"github.com/google/uuid"
)

// BwsRef addresses a single Bitwarden Secrets Manager secret by its UUID.
// Bitwarden Secrets Manager has no path/field grammar: the UUID alone
// identifies the secret.
type BwsRef struct {
	ID uuid.UUID
}

func (r BwsRef) String() string { return r.ID.String() }

// ParseBws parses a bare UUID as a Bitwarden Secrets Manager reference.
func ParseBws(raw string) (BwsRef, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return BwsRef{}, fmt.Errorf("not a bws reference: %w", err)
	}
	return BwsRef{ID: id}, nil
}

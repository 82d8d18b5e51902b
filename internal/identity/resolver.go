package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"
)

const bearerScheme = "Bearer"

// DefaultAudience is the audience access tokens are expected to carry.
const DefaultAudience = "api://default"

// Resolver resolves connection credentials into identities.
type Resolver struct {
	verifier  Verifier
	directory Directory
	audience  string
	log       *slog.Logger
}

// NewResolver creates a Resolver. A nil verifier rejects every bearer token.
func NewResolver(log *slog.Logger, verifier Verifier, directory Directory, audience string) *Resolver {
	if audience == "" {
		audience = DefaultAudience
	}
	if directory == nil {
		directory = SubjectDirectory{}
	}
	return &Resolver{
		verifier:  verifier,
		directory: directory,
		audience:  audience,
		log:       log,
	}
}

// Resolve never fails: a missing credential yields the anonymous identity
// without contacting any collaborator, and every failure to resolve a
// presented credential yields the anonymous identity with Reason set.
func (r *Resolver) Resolve(ctx context.Context, credential string) Resolution {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return anonymous(nil)
	}

	token, err := parseBearer(credential)
	if err != nil {
		return anonymous(err)
	}

	if r.verifier == nil {
		return anonymous(fmt.Errorf("%w: no token verifier configured", ErrInvalidCredential))
	}
	claims, err := r.verifier.Verify(ctx, token, r.audience)
	if err != nil {
		return anonymous(fmt.Errorf("%w: %w", ErrInvalidCredential, err))
	}

	profile, err := r.directory.Profile(ctx, claims.Subject)
	if err != nil {
		return anonymous(fmt.Errorf("%w: %w", ErrIdentityLookupFailed, err))
	}

	id := profile.ID
	if id == "" {
		id = claims.Subject
	}

	name := displayName(profile)
	if name == "" {
		name = id
	}

	r.log.Debug("Resolved connection identity", "id", id)
	return Resolution{
		Identity: Identity{ID: id, Name: name},
		Verified: true,
	}
}

func parseBearer(credential string) (string, error) {
	parts := strings.Fields(credential)
	if len(parts) != 2 {
		return "", ErrMalformedCredential
	}
	if parts[0] != bearerScheme {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, parts[0])
	}
	return parts[1], nil
}

func displayName(p Profile) string {
	names := lo.Compact([]string{strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName)})
	return strings.Join(names, " ")
}

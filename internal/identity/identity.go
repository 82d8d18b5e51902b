// Package identity turns the credential a client presents when it connects
// into the identity bound to that connection.
//
// Resolution is best effort: any failure along the way downgrades the
// connection to the anonymous identity and is reported only through the
// returned Resolution for logging.
package identity

import (
	"context"
	"errors"
)

// AnonymousID is the identity id carried by unauthenticated connections.
const AnonymousID = "anon"

// Identity is the resolved (id, name) pair bound to a connection.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Anonymous is the identity used when no credential is presented or when
// resolution fails.
var Anonymous = Identity{ID: AnonymousID, Name: "Anonymous"}

// IsAnonymous reports whether i is the anonymous identity.
func (i Identity) IsAnonymous() bool {
	return i.ID == AnonymousID
}

var (
	// ErrMalformedCredential is returned when the credential is not "<scheme> <value>".
	ErrMalformedCredential = errors.New("malformed credential")
	// ErrUnsupportedScheme is returned for any scheme other than Bearer.
	ErrUnsupportedScheme = errors.New("unsupported credential scheme")
	// ErrInvalidCredential is returned when the token verifier rejects the bearer value.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrIdentityLookupFailed is returned when the directory cannot produce a profile.
	ErrIdentityLookupFailed = errors.New("identity lookup failed")
)

// Claims holds what a Verifier extracted from a valid token.
type Claims struct {
	Subject string
}

// Profile is a directory entry for a verified subject.
type Profile struct {
	ID        string
	FirstName string
	LastName  string
}

// Verifier checks a bearer token against the expected audience.
type Verifier interface {
	Verify(ctx context.Context, token, audience string) (Claims, error)
}

// Directory looks up the profile of a verified subject.
type Directory interface {
	Profile(ctx context.Context, subjectID string) (Profile, error)
}

// Resolution is the outcome of resolving a credential. Reason is set only
// when a presented credential could not be resolved; it must never be sent
// to the remote peer.
type Resolution struct {
	Identity Identity
	Verified bool
	Reason   error
}

func anonymous(reason error) Resolution {
	return Resolution{Identity: Anonymous, Reason: reason}
}

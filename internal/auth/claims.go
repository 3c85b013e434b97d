package auth

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoPrincipal is returned when a token carries neither a user id nor a
// (subject, issuer) pair.
var ErrNoPrincipal = errors.New("token identifies no principal")

// SessionClaims is the payload of a session token. Current tokens carry
// the internal user id in "uid"; legacy tokens only carry sub and iss.
// CourseID and Roles describe the caller's active course context.
type SessionClaims struct {
	UserID   string   `json:"uid,omitempty"`
	CourseID string   `json:"course_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the decoded identity reference of a token: either
// CurrentPrincipal or LegacyPrincipal.
type Principal interface {
	principal()
	String() string
}

// CurrentPrincipal references a user by internal id.
type CurrentPrincipal struct {
	UserID string
}

func (CurrentPrincipal) principal() {}

func (p CurrentPrincipal) String() string { return "user:" + p.UserID }

// LegacyPrincipal references a user by the external (subject, issuer) pair
// of an older token shape.
type LegacyPrincipal struct {
	Subject string
	Issuer  string
}

func (LegacyPrincipal) principal() {}

func (p LegacyPrincipal) String() string { return "legacy:" + p.Issuer + "/" + p.Subject }

// Principal decodes the identity reference. The current shape wins when a
// token carries both.
func (c *SessionClaims) Principal() (Principal, error) {
	if id := strings.TrimSpace(c.UserID); id != "" {
		return CurrentPrincipal{UserID: id}, nil
	}

	sub := strings.TrimSpace(c.Subject)
	iss := strings.TrimSpace(c.Issuer)
	if sub != "" && iss != "" {
		return LegacyPrincipal{Subject: sub, Issuer: iss}, nil
	}

	return nil, ErrNoPrincipal
}

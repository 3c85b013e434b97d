package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator validates session tokens
type TokenValidator interface {
	Validate(tokenString string) (*SessionClaims, error)
}

// HS256Validator validates HS256 session tokens against the process-wide
// secret(s) in a KeyStore.
type HS256Validator struct {
	keyStore  *KeyStore
	clockSkew time.Duration
}

// NewHS256Validator creates a new HS256 validator
func NewHS256Validator(keyStore *KeyStore, clockSkew time.Duration) *HS256Validator {
	return &HS256Validator{
		keyStore:  keyStore,
		clockSkew: clockSkew,
	}
}

// Validate verifies the signature and time claims of an HS256 token and
// decodes its payload.
func (v *HS256Validator) Validate(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.clockSkew),
	)
	if err != nil {
		var authErr *AuthError
		switch {
		case errors.As(err, &authErr):
			return nil, authErr
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, NewAuthError(AuthFailureTokenExpired, "token expired", err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, NewAuthError(AuthFailureInvalidSignature, "invalid signature", err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, NewAuthError(AuthFailureMalformedToken, "malformed token", err)
		default:
			return nil, NewAuthError(AuthFailureInvalidSignature, "failed to verify token", err)
		}
	}

	if !token.Valid {
		return nil, NewAuthError(AuthFailureUnknown, "invalid token", nil)
	}

	return claims, nil
}

func (v *HS256Validator) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		kid = DefaultKeyID
	}

	secret, ok := v.keyStore.GetHS256Key(kid)
	if !ok {
		return nil, NewAuthError(AuthFailureUnknownKey, fmt.Sprintf("no signing key for kid %q", kid), nil)
	}
	return secret, nil
}

package authz

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAccessTTL is the lifetime of signed access tokens.
const DefaultAccessTTL = 15 * time.Minute

// AccessClaims are the JWT claims carried by short-lived access tokens. The
// permission snapshot is embedded so request handlers can authorize without a
// store round trip; the opaque session token remains the durable credential.
type AccessClaims struct {
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// signAccessToken mints an HS256 access token for the user with the given
// permission snapshot.
func (s *Service) signAccessToken(userID string, perms PermissionSet, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := AccessClaims{
		Permissions: perms.Slice(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.tokenSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ParseAccessToken verifies an access token's signature and claims.
func (s *Service) ParseAccessToken(token string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(s.tokenSecret) == 0 {
		return nil, ErrInvalidCredentials
	}
	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidCredentials
		}
		return s.tokenSecret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}

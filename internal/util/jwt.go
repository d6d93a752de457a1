package util

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of the auth provider's access token we rely on.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

var ErrMissingSubject = errors.New("token has no subject")

// ValidateJWT verifies tokenString against keyMaterial. keyMaterial is either
// the shared HMAC secret or a PEM public key (RSA or ECDSA); the token's alg
// header decides which.
func ValidateJWT(tokenString, keyMaterial string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc(keyMaterial),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

func keyFunc(keyMaterial string) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			return []byte(keyMaterial), nil
		case *jwt.SigningMethodRSA:
			if !strings.Contains(keyMaterial, "BEGIN") {
				return nil, errors.New("RSA token but key material is not PEM")
			}
			return jwt.ParseRSAPublicKeyFromPEM([]byte(keyMaterial))
		case *jwt.SigningMethodECDSA:
			if !strings.Contains(keyMaterial, "BEGIN") {
				return nil, errors.New("ECDSA token but key material is not PEM")
			}
			return jwt.ParseECPublicKeyFromPEM([]byte(keyMaterial))
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
	}
}

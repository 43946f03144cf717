package util

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the API trusts from a verified token.
type Claims struct {
	OwnerID string
	Role    string
}

// GenerateJWT creates a token for a given owner ID.
func GenerateJWT(ownerID string, secret string, ttl time.Duration) (string, error) {
	return GenerateJWTWithRole(ownerID, "", secret, ttl)
}

// GenerateJWTWithRole creates a token carrying a role claim.
func GenerateJWTWithRole(ownerID, role, secret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": ownerID,
		"exp":     time.Now().Add(ttl).Unix(),
		"iat":     time.Now().Unix(),
	}
	if role != "" {
		claims["role"] = role
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// PurposeOAuthState marks the signed state of the calendar OAuth round trip.
const PurposeOAuthState = "oauth_state"

var ErrWrongPurpose = errors.New("token issued for another purpose")

// GeneratePurposeToken signs a short-lived token usable only where purpose is
// expected. ParseClaims rejects it, so it never works as an access token.
func GeneratePurposeToken(ownerID, purpose, secret string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"user_id": ownerID,
		"purpose": purpose,
		"exp":     time.Now().Add(ttl).Unix(),
		"iat":     time.Now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParsePurposeToken validates a token from GeneratePurposeToken and returns
// its owner.
func ParsePurposeToken(tokenStr, purpose, secret string) (string, error) {
	mc, err := parseMapClaims(tokenStr, secret)
	if err != nil {
		return "", err
	}
	if p, _ := mc["purpose"].(string); p != purpose {
		return "", ErrWrongPurpose
	}
	ownerID, ok := mc["user_id"].(string)
	if !ok || ownerID == "" {
		return "", jwt.ErrTokenMalformed
	}
	return ownerID, nil
}

// ParseJWT validates token and extracts the owner ID.
func ParseJWT(tokenStr, secret string) (string, error) {
	c, err := ParseClaims(tokenStr, secret)
	if err != nil {
		return "", err
	}
	return c.OwnerID, nil
}

// ParseClaims validates an access token and extracts owner and role.
func ParseClaims(tokenStr, secret string) (Claims, error) {
	mc, err := parseMapClaims(tokenStr, secret)
	if err != nil {
		return Claims{}, err
	}
	if _, scoped := mc["purpose"]; scoped {
		return Claims{}, ErrWrongPurpose
	}

	ownerID, ok := mc["user_id"].(string)
	if !ok || ownerID == "" {
		return Claims{}, jwt.ErrTokenMalformed
	}
	role, _ := mc["role"].(string)

	return Claims{OwnerID: ownerID, Role: role}, nil
}

func parseMapClaims(tokenStr, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}
	return mc, nil
}

func ExtractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

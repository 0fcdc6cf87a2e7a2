package httpapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims represents the claims of an access token
type JWTClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTAuth handles access token creation and validation
type JWTAuth struct {
	secretKey []byte
	ttl       time.Duration
}

// NewJWTAuth creates a new token handler. Tokens are valid for ttl.
func NewJWTAuth(secretKey string, ttl time.Duration) *JWTAuth {
	return &JWTAuth{
		secretKey: []byte(secretKey),
		ttl:       ttl,
	}
}

// GenerateToken creates a new access token for a user
func (j *JWTAuth) GenerateToken(username string) (string, time.Time, error) {
	if username == "" {
		return "", time.Time{}, errors.New("username cannot be empty")
	}

	now := time.Now()
	expiresAt := now.Add(j.ttl)

	claims := JWTClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken validates an access token and returns its claims
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	if tokenString == "" {
		return nil, errors.New("token cannot be empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if claims.Username == "" {
		return nil, errors.New("token has no username")
	}

	return claims, nil
}

// Authenticator resolves the user behind a request. Users authenticate
// with Basic credentials from a fixed table or with a bearer token issued
// by JWTAuth.
type Authenticator struct {
	users    map[string]string
	jwtAuth  *JWTAuth
	required bool
}

// NewAuthenticator creates an authenticator. When required is false,
// anonymous requests are allowed; supplied credentials are still checked.
func NewAuthenticator(users map[string]string, jwtAuth *JWTAuth, required bool) *Authenticator {
	copied := make(map[string]string, len(users))
	for user, pass := range users {
		copied[user] = pass
	}
	return &Authenticator{users: copied, jwtAuth: jwtAuth, required: required}
}

// Authenticate returns the username of the request, or "" for an anonymous
// request. Bad credentials fail with errHTTPUnauthorized; missing ones
// fail with errHTTPForbidden when authentication is required.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if a.required {
			return "", errHTTPForbidden
		}
		return "", nil
	}

	if user, pass, ok := r.BasicAuth(); ok {
		expected, known := a.users[user]
		if !known || subtle.ConstantTimeCompare([]byte(expected), []byte(pass)) != 1 {
			return "", errHTTPUnauthorized
		}
		return user, nil
	}

	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		claims, err := a.jwtAuth.ValidateToken(token)
		if err != nil {
			return "", errHTTPUnauthorized
		}
		return claims.Username, nil
	}

	return "", errHTTPUnauthorized
}

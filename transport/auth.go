package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sigilsec/sentinel/core"
)

// agentTokenTTL is the lifetime of an agent bearer token. Agents hold
// their token from enrollment; rotation happens by re-registering.
const agentTokenTTL = 365 * 24 * time.Hour

// AgentClaims is the JWT payload issued at agent registration.
type AgentClaims struct {
	AgentID        string `json:"agentId"`
	ConnectorID    string `json:"connectorId"`
	OrganizationID string `json:"organizationId"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies agent bearer tokens with HS256.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates an issuer over the daemon secret.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

// Issue signs a token for a registered agent.
func (i *TokenIssuer) Issue(agentID, connectorID, orgID string) (string, error) {
	if len(i.secret) == 0 {
		return "", fmt.Errorf("token secret not configured: %w", core.ErrConfigInvalid)
	}
	now := time.Now()
	claims := &AgentClaims{
		AgentID:        agentID,
		ConnectorID:    connectorID,
		OrganizationID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(agentTokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses and validates a bearer token.
func (i *TokenIssuer) Verify(tokenString string) (*AgentClaims, error) {
	claims := &AgentClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}
	if claims.AgentID == "" || claims.ConnectorID == "" {
		return nil, core.ErrInvalidToken
	}
	return claims, nil
}

type claimsKey struct{}

// claimsFromContext retrieves the verified claims set by the middleware.
func claimsFromContext(ctx context.Context) (*AgentClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*AgentClaims)
	return claims, ok
}

// Middleware authenticates the Authorization bearer header and stores the
// claims on the request context.
func (i *TokenIssuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := i.Verify(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

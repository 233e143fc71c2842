package rpc

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ScopeSubmit is the JWT scope that grants ledger_submit.
const ScopeSubmit = "ledger:submit"

// JWTConfig enables HMAC-signed bearer tokens for submissions. When
// HMACSecret is set it takes precedence over the static token.
type JWTConfig struct {
	HMACSecret string
	Issuer     string
	ScopeClaim string
	ClockSkew  time.Duration
}

func (c JWTConfig) enabled() bool {
	return strings.TrimSpace(c.HMACSecret) != ""
}

func (s *Server) requireAuth(r *http.Request) *Error {
	if s.cfg.AuthToken == "" && !s.cfg.JWT.enabled() {
		return &Error{Code: CodeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &Error{Code: CodeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &Error{Code: CodeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &Error{Code: CodeUnauthorized, Message: "missing bearer token"}
	}
	if s.cfg.JWT.enabled() {
		if err := s.cfg.JWT.verify(token); err != nil {
			return &Error{Code: CodeUnauthorized, Message: "invalid RPC credentials", Data: err.Error()}
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
		return &Error{Code: CodeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (c JWTConfig) verify(tokenString string) error {
	skew := c.ClockSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	opts := []jwt.ParserOption{jwt.WithLeeway(skew), jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(strings.TrimSpace(c.HMACSecret)), nil
	}, opts...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token invalid")
	}
	scopeClaim := c.ScopeClaim
	if scopeClaim == "" {
		scopeClaim = "scope"
	}
	for _, scope := range extractScopes(claims, scopeClaim) {
		if scope == ScopeSubmit {
			return nil
		}
	}
	return errors.New("insufficient scope")
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	switch v := claims[scopeClaim].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

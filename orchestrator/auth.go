// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID   string
	Username string
	Name     string
	Email    string
	Role     string
}

// IsAdmin reports whether the principal may manage providers.
func (p Principal) IsAdmin() bool {
	return strings.EqualFold(p.Role, "admin") || strings.EqualFold(p.Role, "super_admin")
}

type principalKey struct{}

// PrincipalFrom returns the principal stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ParseToken validates an HS256 bearer token and extracts the principal.
func ParseToken(secret []byte, tokenString string) (Principal, error) {
	if len(secret) == 0 {
		return Principal{}, errors.New("JWT secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, fmt.Errorf("invalid token claims")
	}

	p := Principal{
		UserID:   subject(claims),
		Username: getClaimString(claims, "username"),
		Name:     getClaimString(claims, "name"),
		Email:    getClaimString(claims, "email"),
		Role:     getClaimString(claims, "role"),
	}
	if p.UserID == "" {
		return Principal{}, fmt.Errorf("token has no subject")
	}
	return p, nil
}

// IssueToken signs a token for p. Used by assistantctl and tests.
func IssueToken(secret []byte, p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  p.UserID,
		"role": p.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	if p.Username != "" {
		claims["username"] = p.Username
	}
	if p.Name != "" {
		claims["name"] = p.Name
	}
	if p.Email != "" {
		claims["email"] = p.Email
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// subject accepts string or numeric user ids.
func subject(claims jwt.MapClaims) string {
	switch v := claims["sub"].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	if id, ok := claims["user_id"].(float64); ok {
		return fmt.Sprintf("%.0f", id)
	}
	return ""
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}

// authMiddleware rejects requests without a valid bearer token.
func authMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				sendErrorResponse(w, http.StatusUnauthorized, "missing bearer token", nil)
				return
			}
			p, err := ParseToken(secret, strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")))
			if err != nil {
				sendErrorResponse(w, http.StatusUnauthorized, "invalid token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
		})
	}
}

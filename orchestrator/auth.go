// Copyright 2025 ProcureSense
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
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// adminGuard protects state-changing admin endpoints with an HMAC-signed
// bearer token. With no secret configured the guard is disabled and requests
// pass through.
type adminGuard struct {
	secret []byte
}

func newAdminGuard(secret string) *adminGuard {
	if secret == "" {
		return &adminGuard{}
	}
	return &adminGuard{secret: []byte(secret)}
}

// enabled reports whether requests are actually checked.
func (g *adminGuard) enabled() bool {
	return len(g.secret) > 0
}

// authorize validates the Authorization header of an admin request.
func (g *adminGuard) authorize(r *http.Request) error {
	if !g.enabled() {
		return nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return fmt.Errorf("missing Authorization header")
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return fmt.Errorf("Authorization header must use Bearer scheme")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

// middleware wraps a handler with the admin check, returning 401 on failure.
func (g *adminGuard) middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := g.authorize(r); err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
			return
		}
		next(w, r)
	}
}

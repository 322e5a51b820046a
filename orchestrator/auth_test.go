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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signAdminToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAdminGuardDisabled(t *testing.T) {
	guard := newAdminGuard("")
	assert.False(t, guard.enabled())

	req := httptest.NewRequest(http.MethodPost, "/integration/reset-metrics", nil)
	assert.NoError(t, guard.authorize(req))
}

func TestAdminGuardAuthorize(t *testing.T) {
	const secret = "guard-secret"
	guard := newAdminGuard(secret)
	require.True(t, guard.enabled())

	newReq := func(header string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/integration/reset-metrics", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		return req
	}

	t.Run("valid token", func(t *testing.T) {
		token := signAdminToken(t, secret, jwt.MapClaims{
			"sub": "admin",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		assert.NoError(t, guard.authorize(newReq("Bearer "+token)))
	})

	t.Run("missing header", func(t *testing.T) {
		assert.ErrorContains(t, guard.authorize(newReq("")), "missing Authorization header")
	})

	t.Run("non-bearer scheme", func(t *testing.T) {
		assert.ErrorContains(t, guard.authorize(newReq("Basic dXNlcjpwYXNz")), "Bearer scheme")
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signAdminToken(t, "other-secret", jwt.MapClaims{
			"sub": "admin",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		assert.ErrorContains(t, guard.authorize(newReq("Bearer "+token)), "invalid token")
	})

	t.Run("expired token", func(t *testing.T) {
		token := signAdminToken(t, secret, jwt.MapClaims{
			"sub": "admin",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		assert.ErrorContains(t, guard.authorize(newReq("Bearer "+token)), "invalid token")
	})

	t.Run("garbage token", func(t *testing.T) {
		assert.Error(t, guard.authorize(newReq("Bearer not.a.jwt")))
	})
}

func TestAdminGuardMiddleware(t *testing.T) {
	guard := newAdminGuard("guard-secret")
	called := false
	handler := guard.middleware(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/integration/reset-metrics", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body.Error)
}

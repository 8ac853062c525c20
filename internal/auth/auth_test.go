package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"code-evolver/internal/config"

	"github.com/coreos/go-oidc"
	"github.com/stretchr/testify/assert"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

// MockKeySet satisfies oidc.KeySet to bypass signature verification
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

func makeFakeToken(t *testing.T, issuer, clientID, email string, scopes []string) string {
	t.Helper()
	claims := map[string]interface{}{
		"iss":   issuer,
		"aud":   clientID,
		"sub":   "test-user",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Add(-1 * time.Minute).Unix(),
		"email": email,
	}
	if len(scopes) > 0 {
		claims["scp"] = scopes
	}
	headerData := map[string]interface{}{
		"alg": "RS256",
		"typ": "JWT",
		"kid": "test-key",
	}
	headerBytes, _ := json.Marshal(headerData)
	payload, _ := json.Marshal(claims)
	return base64.RawURLEncoding.EncodeToString(headerBytes) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func TestRequireAuth_BearerToken_ExtractsEmail(t *testing.T) {
	issuer := "https://test-issuer.com"
	clientID := "test-client"
	fakeToken := makeFakeToken(t, issuer, clientID, "user@acme.com", []string{ScopeRegistryRead})

	verifier := oidc.NewVerifier(issuer, &MockKeySet{}, &oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: true, // Matches logic in auth.go for apiVerifier
	})

	a := &Auth{apiVerifier: verifier}

	req := httptest.NewRequest("GET", "/api/v1/artifacts", nil)
	req.Header.Set("Authorization", "Bearer "+fakeToken)
	rec := httptest.NewRecorder()

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, ok := UserEmail(r.Context())
		assert.True(t, ok, "email should be in context")
		assert.Equal(t, "user@acme.com", email)
		w.WriteHeader(http.StatusOK)
	})

	a.RequireAuth(nextHandler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Logf("Response Body: %s", rec.Body.String())
	}
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuth_BearerToken_EnforcesRegistryScopes(t *testing.T) {
	issuer := "https://test-issuer.com"
	clientID := "test-client"
	verifier := oidc.NewVerifier(issuer, &MockKeySet{}, &oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: true,
	})
	a := &Auth{apiVerifier: verifier}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("read scope cannot write", func(t *testing.T) {
		token := makeFakeToken(t, issuer, clientID, "user@acme.com", []string{ScopeRegistryRead})
		req := httptest.NewRequest("PUT", "/api/v1/artifacts", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		a.RequireAuth(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("write scope implies read", func(t *testing.T) {
		token := makeFakeToken(t, issuer, clientID, "user@acme.com", []string{ScopeRegistryWrite})
		req := httptest.NewRequest("GET", "/api/v1/artifacts", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		a.RequireAuth(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("no registry scope at all", func(t *testing.T) {
		token := makeFakeToken(t, issuer, clientID, "user@acme.com", []string{ScopeOpenID, ScopeEmail})
		req := httptest.NewRequest("GET", "/api/v1/artifacts", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		a.RequireAuth(next).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestRequireAuth_BypassMode(t *testing.T) {
	cfg := &config.Config{
		Environment:   "DEV",
		DevModeBypass: true,
	}
	a, err := New(context.Background(), cfg, &NoOpLogger{})
	assert.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/artifacts", nil)
	rec := httptest.NewRecorder()

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, ok := UserEmail(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "dev@localhost", email)
		w.WriteHeader(http.StatusOK)
	})

	a.RequireAuth(nextHandler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuth_MissingCookieRedirects(t *testing.T) {
	issuer := "https://test-issuer.com"
	verifier := oidc.NewVerifier(issuer, &MockKeySet{}, &oidc.Config{SkipClientIDCheck: true})

	a := &Auth{verifier: verifier, apiVerifier: verifier}

	req := httptest.NewRequest("GET", "/api/v1/artifacts", nil)
	rec := httptest.NewRecorder()

	a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a token")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

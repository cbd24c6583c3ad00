package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signTestToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestBearerAuthMiddleware(t *testing.T) {
	const secret = "test-signing-secret"

	var gotCaller AuthenticatedCaller
	var handlerCalled bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		gotCaller, _ = GetAuthenticatedCaller(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	protected := BearerAuthMiddleware(secret)(next)

	t.Run("missing header", func(t *testing.T) {
		handlerCalled = false
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest("GET", "/transfers/x", nil))
		if rec.Code != http.StatusUnauthorized || handlerCalled {
			t.Fatalf("expected 401 without a header, got %d called=%t", rec.Code, handlerCalled)
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		handlerCalled = false
		req := httptest.NewRequest("GET", "/transfers/x", nil)
		req.Header.Set("Authorization", "Token abc")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized || handlerCalled {
			t.Fatalf("expected 401 for a non-bearer header, got %d", rec.Code)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		handlerCalled = false
		token := signTestToken(t, "some-other-secret", jwt.MapClaims{
			"sub":     "user-1",
			"bsim_id": "bsim-a",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/transfers/x", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized || handlerCalled {
			t.Fatalf("expected 401 for a bad signature, got %d", rec.Code)
		}
	})

	t.Run("missing bsim_id claim", func(t *testing.T) {
		handlerCalled = false
		token := signTestToken(t, secret, jwt.MapClaims{
			"sub": "user-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/transfers/x", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized || handlerCalled {
			t.Fatalf("expected 401 without a bsim_id claim, got %d", rec.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		handlerCalled = false
		token := signTestToken(t, secret, jwt.MapClaims{
			"sub":        "user-1",
			"bsim_id":    "bsim-a",
			"account_id": "acct-1",
			"exp":        time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest("GET", "/transfers/x", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || !handlerCalled {
			t.Fatalf("expected the handler to run, got %d", rec.Code)
		}
		if gotCaller.UserID != "user-1" || gotCaller.BsimID != "bsim-a" || gotCaller.AccountID != "acct-1" {
			t.Fatalf("unexpected caller identity: %+v", gotCaller)
		}
	})
}

func TestInternalAPIKeyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	protected := InternalAPIKeyMiddleware("service-key")(next)

	req := httptest.NewRequest("POST", "/internal/settlements", nil)
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without the key, got %d", rec.Code)
	}

	req = httptest.NewRequest("POST", "/internal/settlements", nil)
	req.Header.Set("X-Internal-API-Key", "wrong-key")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong key, got %d", rec.Code)
	}

	req = httptest.NewRequest("POST", "/internal/settlements", nil)
	req.Header.Set("X-Internal-API-Key", "service-key")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with the correct key, got %d", rec.Code)
	}

	unconfigured := InternalAPIKeyMiddleware("")(next)
	req = httptest.NewRequest("POST", "/internal/settlements", nil)
	rec = httptest.NewRecorder()
	unconfigured.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the key is not configured, got %d", rec.Code)
	}
}

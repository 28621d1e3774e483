package v1

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	secret := "test-secret"
	token, err := GenerateAccessToken(42, secret)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	e := echo.New()
	handler := JWTMiddleware(secret)(func(c echo.Context) error {
		if got := currentUserID(c); got != 42 {
			t.Errorf("Expected user 42, got %d", got)
		}
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()

	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestJWTMiddlewareRejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not-a-jwt"},
	}

	e := echo.New()
	handler := JWTMiddleware("test-secret")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()

			err := handler(e.NewContext(req, rec))
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %v", err)
			}
		})
	}
}

func TestJWTMiddlewareRejectsWrongSecret(t *testing.T) {
	token, err := GenerateAccessToken(1, "secret-a")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}

	e := echo.New()
	handler := JWTMiddleware("secret-b")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()

	err = handler(e.NewContext(req, rec))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for wrong secret, got %v", err)
	}
}

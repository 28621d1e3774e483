package v1

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/recall/internal/profile"
	storetest "github.com/hrygo/recall/store/test"
)

func newTestServer(t *testing.T) (*echo.Echo, string) {
	t.Helper()

	st, _ := storetest.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewAPIV1Service("test-secret", &profile.Profile{Mode: "demo"}, st, logger)

	e := echo.New()
	svc.Register(e)

	token, err := GenerateAccessToken(1, "test-secret")
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}
	return e, token
}

func doJSON(e *echo.Echo, token, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doJSON(e, "", http.MethodGet, "/api/v1/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}

func TestConversationLifecycleEndpoints(t *testing.T) {
	e, token := newTestServer(t)

	// Create.
	rec := doJSON(e, token, http.MethodPost, "/api/v1/conversations", `{"title":"Trip planning"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created conversationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created.UID == "" || created.Status != "active" {
		t.Fatalf("Unexpected conversation: %+v", created)
	}

	// Get.
	rec = doJSON(e, token, http.MethodGet, "/api/v1/conversations/"+created.UID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	// Send a message; AI is disabled so the reply is degraded but stored.
	// The response carries both sides of the exchange.
	rec = doJSON(e, token, http.MethodPost, "/api/v1/conversations/"+created.UID+"/messages", `{"content":"hello"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var exchange struct {
		UserMessage messageResponse `json:"userMessage"`
		AIMessage   messageResponse `json:"aiMessage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &exchange); err != nil {
		t.Fatalf("Failed to decode reply: %v", err)
	}
	if exchange.UserMessage.Sender != "user" || exchange.UserMessage.Content != "hello" {
		t.Errorf("Expected echoed user message, got %+v", exchange.UserMessage)
	}
	if exchange.AIMessage.Sender != "ai" {
		t.Errorf("Expected AI reply, got %s", exchange.AIMessage.Sender)
	}

	// End.
	rec = doJSON(e, token, http.MethodPost, "/api/v1/conversations/"+created.UID+"/end", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var ended conversationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ended); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if ended.Status != "ended" || ended.EndedTs == nil {
		t.Errorf("Expected ended conversation, got %+v", ended)
	}

	// Second end is rejected.
	rec = doJSON(e, token, http.MethodPost, "/api/v1/conversations/"+created.UID+"/end", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 on second end, got %d", rec.Code)
	}

	// Messaging after end is rejected.
	rec = doJSON(e, token, http.MethodPost, "/api/v1/conversations/"+created.UID+"/messages", `{"content":"late"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 after end, got %d", rec.Code)
	}
}

func TestConversationValidationErrors(t *testing.T) {
	e, token := newTestServer(t)

	rec := doJSON(e, token, http.MethodPost, "/api/v1/conversations", `{"title":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing title, got %d", rec.Code)
	}

	rec = doJSON(e, token, http.MethodGet, "/api/v1/conversations/does-not-exist", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown conversation, got %d", rec.Code)
	}

	rec = doJSON(e, "", http.MethodGet, "/api/v1/conversations", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", rec.Code)
	}
}

func TestIntelligenceQueryEndpoint(t *testing.T) {
	e, token := newTestServer(t)

	// Seed one conversation so keyword fallback has a candidate.
	rec := doJSON(e, token, http.MethodPost, "/api/v1/conversations", `{"title":"Japan trip"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Seed failed: %d", rec.Code)
	}

	rec = doJSON(e, token, http.MethodPost, "/api/v1/intelligence/query", `{"query":"japan"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result intelligenceQueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	// AI is disabled: keyword matches, empty answer, warning set.
	if !result.Degraded || result.Warning == "" {
		t.Errorf("Expected degraded result with warning, got %+v", result)
	}
	if result.Answer != "" {
		t.Errorf("Expected empty answer without a provider, got %q", result.Answer)
	}
	if result.ResultsCount != 1 {
		t.Errorf("Expected 1 keyword match, got %d", result.ResultsCount)
	}

	// Validation error surfaces as 400.
	rec = doJSON(e, token, http.MethodPost, "/api/v1/intelligence/query", `{"query":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty query, got %d", rec.Code)
	}
}

func TestIntelligenceAnalyticsEndpoint(t *testing.T) {
	e, token := newTestServer(t)

	rec := doJSON(e, token, http.MethodGet, "/api/v1/intelligence/analytics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp analyticsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.TotalConversations != 0 || resp.QueryCount != 0 {
		t.Errorf("Expected empty analytics, got %+v", resp)
	}
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/stagecraft-ai/usagegate/internal/costs"
	"github.com/stagecraft-ai/usagegate/internal/db"
	"github.com/stagecraft-ai/usagegate/internal/guard"
	"github.com/stagecraft-ai/usagegate/internal/identity"
	"github.com/stagecraft-ai/usagegate/internal/models"
	"github.com/stagecraft-ai/usagegate/internal/quota"
	"github.com/stagecraft-ai/usagegate/internal/ratelimit"
	"github.com/stagecraft-ai/usagegate/internal/resetclock"
)

const testJWTSecret = "front-test-secret"

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("sqlite:file:front_%s?mode=memory&cache=shared", t.Name())
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	resolver := identity.NewResolver(testJWTSecret, "front-test-salt")
	provider := func() ratelimit.SettingsConfig { return ratelimit.SettingsConfig{} }
	limiter := ratelimit.NewManager(provider, time.Now, nil)
	engine := quota.NewEngine(conn, resetclock.NewUTC())
	g := guard.New(resolver, limiter, engine, nil, costs.Load(""), resetclock.NewUTC())

	r := gin.New()
	usageHandler := NewUsageHandler(g)
	r.POST("/v0/usage/reserve", usageHandler.Reserve)
	r.GET("/v0/usage/status", usageHandler.Status)
	return r, conn
}

func signUserToken(t *testing.T, userID uint64) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", userID),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + signed
}

func doRequest(t *testing.T, r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReserveEndpointGrantsAndRefuses(t *testing.T) {
	r, conn := newTestRouter(t)
	now := time.Now().UTC()
	if err := conn.Create(&models.User{
		ID: 1, Username: "ada", Membership: "trial",
		GenerationCount: 19, LastResetAt: now, Active: true,
	}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	token := signUserToken(t, 1)

	w := doRequest(t, r, http.MethodPost, "/v0/usage/reserve", token, `{"cost_units":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var granted map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &granted); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if granted["membership"] != "trial" || granted["remaining"] != float64(0) || granted["limit"] != float64(20) {
		t.Fatalf("unexpected grant body: %v", granted)
	}
	if granted["request_id"] == "" || granted["reset_at"] == "" {
		t.Fatalf("grant body missing request id or reset: %v", granted)
	}

	w = doRequest(t, r, http.MethodPost, "/v0/usage/reserve", token, `{"cost_units":2}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", w.Code, w.Body.String())
	}
	var refused map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &refused); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if refused["error_code"] != guard.CodeUsageLimitReached || refused["retryable"] != true {
		t.Fatalf("unexpected refusal body: %v", refused)
	}
	if _, ok := refused["reset_at"]; !ok {
		t.Fatalf("refusal should carry reset_at: %v", refused)
	}
}

func TestReserveEndpointRejectsMalformedBody(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(t, r, http.MethodPost, "/v0/usage/reserve", "", `{"cost_units":"lots"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["error_code"] != guard.CodeInvalidRequest {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestStatusEndpointRequiresCredential(t *testing.T) {
	r, conn := newTestRouter(t)
	now := time.Now().UTC()
	if err := conn.Create(&models.User{
		ID: 1, Username: "ada", Membership: "performer",
		GenerationCount: 10, LastResetAt: now, Active: true,
	}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	w := doRequest(t, r, http.MethodGet, "/v0/usage/status", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, r, http.MethodGet, "/v0/usage/status", signUserToken(t, 1), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["remaining"] != float64(190) || body["limit"] != float64(200) {
		t.Fatalf("unexpected status body: %v", body)
	}
}

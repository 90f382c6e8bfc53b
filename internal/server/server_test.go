package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                  "0",
		Env:                   "development",
		LogLevel:              "error",
		RequiredSignatures:    config.DefaultRequiredSignatures,
		WeightThreshold:       config.DefaultWeightThreshold,
		OutlierZScore:         config.DefaultOutlierZScore,
		AttestationTTL:        config.DefaultAttestationTTL,
		SlashingFraction:      config.DefaultSlashingFraction,
		MaxRetries:            config.DefaultMaxRetries,
		RetryBaseDelay:        time.Millisecond,
		BackoffMultiplier:     config.DefaultBackoffMultiplier,
		RetrySweepInterval:    config.DefaultRetrySweepInterval,
		FinalityConfirmations: 0,
		FinalityPollInterval:  time.Second,
		TriggerTTL:            config.DefaultTriggerTTL,
		RateLimitRPS:          1000,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	if w := do(s, "GET", "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, body %s", w.Code, w.Body.String())
	}
	if w := do(s, "GET", "/health/live", ""); w.Code != http.StatusOK {
		t.Fatalf("GET /health/live = %d", w.Code)
	}
	// Readiness flips only once Run has started.
	if w := do(s, "GET", "/health/ready", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /health/ready before Run = %d, want 503", w.Code)
	}
}

func TestPolicyLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	// Development mode without ADMIN_SECRET allows admin routes.
	w := do(s, "POST", "/v1/pools", `{"name":"main","capital":100000}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /v1/pools = %d, body %s", w.Code, w.Body.String())
	}
	var poolResp struct {
		Pool struct {
			ID string `json:"id"`
		} `json:"pool"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &poolResp); err != nil || poolResp.Pool.ID == "" {
		t.Fatalf("unexpected pool response: %s", w.Body.String())
	}

	w = do(s, "POST", "/v1/policies", `{
		"holderId": "hold_1",
		"location": "br-sp",
		"poolId": "`+poolResp.Pool.ID+`",
		"triggerConditions": [{"parameter":"rainfall","operator":"gte","threshold":100,"unit":"mm"}],
		"coverage": {"maxPayout": 50000, "currency": "USD"},
		"premium": 1000
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /v1/policies = %d, body %s", w.Code, w.Body.String())
	}
	var policyResp struct {
		Policy struct {
			ID string `json:"id"`
		} `json:"policy"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &policyResp); err != nil || policyResp.Policy.ID == "" {
		t.Fatalf("unexpected policy response: %s", w.Body.String())
	}
	policyID := policyResp.Policy.ID

	if w := do(s, "POST", "/v1/policies/"+policyID+"/activate", ""); w.Code != http.StatusOK {
		t.Fatalf("activate = %d, body %s", w.Code, w.Body.String())
	}
	if w := do(s, "GET", "/v1/policies/"+policyID, ""); w.Code != http.StatusOK {
		t.Fatalf("get policy = %d", w.Code)
	}
}

func TestAdminRoutesRequireSecretOutsideDevelopment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	cfg.Env = "production"
	cfg.AdminSecret = "s3cret"

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	w := do(s, "POST", "/v1/pools", `{"name":"main","capital":100000}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("admin route without secret = %d, want 403", w.Code)
	}

	req := httptest.NewRequest("POST", "/v1/pools", strings.NewReader(`{"name":"main","capital":100000}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Secret", "s3cret")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin route with secret = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestInvalidIDParamRejected(t *testing.T) {
	s := newTestServer(t)

	if w := do(s, "GET", "/v1/policies/bad!id", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid id = %d, want 400", w.Code)
	}
}

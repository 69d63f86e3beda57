package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/saker-ai/cometrpc/internal/gateway"
	"github.com/saker-ai/cometrpc/internal/protocol"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	handler := gateway.NewHandler(nil, gateway.Options{AdvertiseAddr: "127.0.0.1:8101", Registerer: registry})
	return NewRouter(handler, registry, nil)
}

func TestTokenEndpoint(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/token?aid=1&did=345&ver=1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	var resp protocol.TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(resp.Addresses) != 1 || resp.Addresses[0] != "127.0.0.1:8101" {
		t.Fatalf("addresses=%v, want [127.0.0.1:8101]", resp.Addresses)
	}
	if resp.Token == "" || resp.ExpireAt == 0 {
		t.Fatalf("response=%+v, want token and expiry", resp)
	}
}

func TestWebsocketRequiresToken(t *testing.T) {
	router := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?tok=nope", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/token", nil))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("health=%d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "comet_gateway_tokens_issued_total 1") {
		t.Fatalf("metrics=%d %s", rec.Code, rec.Body.String())
	}
}

package apihandlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestHealthCheckHandle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", HealthCheckHandle)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health check returned %d, want %d", w.Code, http.StatusOK)
	}
}

func TestResolveInstanceID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewHTTPHandler(nil, []string{"default", "clinic-b"}, nil)

	tests := []struct {
		name       string
		header     string
		expectedID string
		expectedOK bool
	}{
		{
			name:       "missing header falls back to first allowed",
			header:     "",
			expectedID: "default",
			expectedOK: true,
		},
		{
			name:       "allowed instance is accepted",
			header:     "clinic-b",
			expectedID: "clinic-b",
			expectedOK: true,
		},
		{
			name:       "unknown instance is rejected",
			header:     "not-allowed",
			expectedOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request, _ = http.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set(INSTANCE_ID_HEADER, tt.header)
			}

			instanceID, ok := h.resolveInstanceID(c)
			if ok != tt.expectedOK {
				t.Fatalf("resolveInstanceID ok = %v, want %v", ok, tt.expectedOK)
			}
			if ok && instanceID != tt.expectedID {
				t.Errorf("resolveInstanceID = %q, want %q", instanceID, tt.expectedID)
			}
		})
	}
}

func TestResolveInstanceIDWithEmptyAllowlist(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := NewHTTPHandler(nil, nil, nil)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request, _ = http.NewRequest(http.MethodGet, "/", nil)

	if _, ok := h.resolveInstanceID(c); ok {
		t.Error("expected resolution to fail with an empty allowlist")
	}
}

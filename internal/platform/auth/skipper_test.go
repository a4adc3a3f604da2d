package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestIsPublicPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/health/db", true},
		{"/metrics", true},
		{"/api/v1/patients", false},
		{"/login", false},
		{"/health/", false},
	}
	for _, tt := range tests {
		if got := IsPublicPath(tt.path); got != tt.want {
			t.Errorf("IsPublicPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestAuthSkipper(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/metrics")
	if !AuthSkipper(c) {
		t.Error("expected /metrics to be skipped")
	}
	c.SetPath("/api/v1/patients")
	if AuthSkipper(c) {
		t.Error("expected API route not to be skipped")
	}
}

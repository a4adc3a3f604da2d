package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// newChain wires the request id, logger and recovery middleware the way the
// server does and captures the log output.
func newChain(t *testing.T, routes func(e *echo.Echo)) (*echo.Echo, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	e.Use(Recovery(logger))
	e.Use(RequestID())
	e.Use(Logger(logger))
	routes(e)
	return e, &buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated when absent", "", false},
		{"client id preserved", "ward-3-terminal-7", true},
		{"oversized id replaced", strings.Repeat("x", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID()(func(c echo.Context) error {
				seen, _ = c.Get("request_id").(string)
				return nil
			})
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			if err := h(echo.New().NewContext(req, rec)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got := rec.Header().Get(RequestIDHeader)
			if got == "" || got != seen {
				t.Fatalf("response id %q does not match context id %q", got, seen)
			}
			if tt.keep && got != tt.incoming {
				t.Errorf("expected %q to be kept, got %q", tt.incoming, got)
			}
			if !tt.keep && got == tt.incoming {
				t.Errorf("expected %q to be replaced", tt.incoming)
			}
		})
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		path  string
		level string
		code  int
	}{
		{"/ok", "info", http.StatusOK},
		{"/missing", "warn", http.StatusNotFound},
		{"/broken", "error", http.StatusServiceUnavailable},
	}
	e, buf := newChain(t, func(e *echo.Echo) {
		e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
		e.GET("/missing", func(c echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "patient not found") })
		e.GET("/broken", func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
		})
	})

	for _, tt := range tests {
		buf.Reset()
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))
		lines := logLines(t, buf)
		if len(lines) != 1 {
			t.Fatalf("%s: expected one log line, got %d", tt.path, len(lines))
		}
		entry := lines[0]
		if entry["level"] != tt.level || entry["status"] != float64(tt.code) {
			t.Errorf("%s: expected %s/%d, got %v/%v", tt.path, tt.level, tt.code, entry["level"], entry["status"])
		}
		if rid, _ := entry["request_id"].(string); entry["route"] != tt.path || rid == "" {
			t.Errorf("%s: missing route or request id in %v", tt.path, entry)
		}
	}
}

func TestRecovery_PanicBecomes500(t *testing.T) {
	e, buf := newChain(t, func(e *echo.Echo) {
		e.GET("/patients", func(c echo.Context) error {
			var roster []string
			_ = roster[3]
			return nil
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set(RequestIDHeader, "rid-panic")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var recovered map[string]any
	for _, entry := range logLines(t, buf) {
		if entry["message"] == "panic recovered" {
			recovered = entry
		}
	}
	if recovered == nil {
		t.Fatalf("no panic entry in %s", buf.String())
	}
	if recovered["request_id"] != "rid-panic" || !strings.Contains(recovered["panic"].(string), "index out of range") {
		t.Errorf("unexpected panic entry %v", recovered)
	}
}

func TestRecovery_ReraisesAbort(t *testing.T) {
	h := Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic(http.ErrAbortHandler)
	})
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("expected ErrAbortHandler to propagate, got %v", r)
		}
	}()
	_ = h(c)
	t.Error("handler returned instead of panicking")
}

package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mediclear/mediclear/internal/platform/auth"
	"github.com/mediclear/mediclear/internal/platform/gate"
)

func newTestHandler(t *testing.T) (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv(t)
	return NewHandler(env.svc, gate.New(gate.Routes)), env, echo.New()
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func expectHTTPError(t *testing.T, err error, code int) *echo.HTTPError {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != code {
		t.Errorf("expected status %d, got %d (%v)", code, he.Code, he.Message)
	}
	return he
}

func TestHandler_Login(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.register(t, "nurse@example.com", auth.RoleNurse)

	rec := httptest.NewRecorder()
	req := jsonRequest(http.MethodPost, "/?redirect=%2Fwork-flow", `{"email":"nurse@example.com","password":"secret123"}`)
	if err := h.Login(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Token    string `json:"token"`
		State    string `json:"state"`
		Message  string `json:"message"`
		Redirect string `json:"redirect"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != "authenticated" || resp.Redirect != "/work-flow" || resp.Token == "" {
		t.Errorf("unexpected response %+v", resp)
	}
	if !strings.HasPrefix(resp.Message, "Login successful! Welcome back, Maria") {
		t.Errorf("unexpected message %q", resp.Message)
	}
	cookie := rec.Result().Cookies()
	if len(cookie) != 1 || cookie[0].Name != auth.SessionCookie || cookie[0].Value != resp.Token || !cookie[0].HttpOnly {
		t.Errorf("expected the session cookie, got %+v", cookie)
	}
}

func TestHandler_Login_DashboardRedirect(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.register(t, "doc@example.com", auth.RoleDoctor)

	rec := httptest.NewRecorder()
	req := jsonRequest(http.MethodPost, "/", `{"email":"doc@example.com","password":"secret123","redirect":"/nurse-dashboard"}`)
	if err := h.Login(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"redirect":"/doctor-dashboard"`) {
		t.Errorf("expected the doctor dashboard, got %s", rec.Body.String())
	}
}

func TestHandler_Login_InvalidCredentials(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.register(t, "nurse@example.com", auth.RoleNurse)

	req := jsonRequest(http.MethodPost, "/", `{"email":"nurse@example.com","password":"nope-nope"}`)
	he := expectHTTPError(t, h.Login(e.NewContext(req, httptest.NewRecorder())), http.StatusUnauthorized)
	if he.Message != "Invalid email or password. Please check your credentials and try again." {
		t.Errorf("unexpected message %v", he.Message)
	}
}

func TestHandler_Register(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.svc.SetRequireEmailConfirmation(true)
	h.SetExposeConfirmationTokens(true)

	rec := httptest.NewRecorder()
	req := jsonRequest(http.MethodPost, "/", `{"email":"new@example.com","password":"secret123","first_name":"Ana","last_name":"Reyes","role":"nurse"}`)
	if err := h.Register(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var body struct {
		Message           string `json:"message"`
		ConfirmationToken string `json:"confirmation_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Message != MessageSignedUp || body.ConfirmationToken == "" {
		t.Errorf("unexpected body %+v", body)
	}

	rec = httptest.NewRecorder()
	req = jsonRequest(http.MethodPost, "/", `{"token":"`+body.ConfirmationToken+`"}`)
	if err := h.Confirm(e.NewContext(req, rec)); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	req = jsonRequest(http.MethodPost, "/", `{"email":"new@example.com","password":"secret123","first_name":"Ana"}`)
	expectHTTPError(t, h.Register(e.NewContext(req, httptest.NewRecorder())), http.StatusConflict)
}

func TestHandler_LogoutAndMe(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.register(t, "nurse@example.com", auth.RoleNurse)
	res, err := env.svc.SignIn(context.Background(), "nurse@example.com", "secret123")
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token)
	req = req.WithContext(auth.WithClaims(req.Context(), res.Claims))
	rec := httptest.NewRecorder()
	if err := h.Me(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"dashboard":"/nurse-dashboard"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	if err := h.Logout(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Errorf("expected the cookie to be cleared, got %+v", c)
	}
	expectHTTPError(t, h.Me(e.NewContext(req, httptest.NewRecorder())), http.StatusUnauthorized)
}

func TestHandler_ListDoctors(t *testing.T) {
	h, env, e := newTestHandler(t)
	env.register(t, "doc@example.com", auth.RoleDoctor)

	rec := httptest.NewRecorder()
	if err := h.ListDoctors(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatal(err)
	}
	var opts []DoctorOption
	if err := json.Unmarshal(rec.Body.Bytes(), &opts); err != nil {
		t.Fatal(err)
	}
	if len(opts) != 1 || opts[0].Title != "Dr Maria Santos Cruz" {
		t.Errorf("unexpected options %+v", opts)
	}
}

func TestRegisterRoutes(t *testing.T) {
	h, _, e := newTestHandler(t)
	h.RegisterRoutes(e.Group("/api/v1"))
	want := map[string]bool{
		"POST:/api/v1/auth/login":    false,
		"POST:/api/v1/auth/register": false,
		"POST:/api/v1/auth/confirm":  false,
		"POST:/api/v1/auth/logout":   false,
		"GET:/api/v1/auth/me":        false,
		"GET:/api/v1/doctors":        false,
	}
	for _, r := range e.Routes() {
		key := r.Method + ":" + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("missing route %s", k)
		}
	}
}

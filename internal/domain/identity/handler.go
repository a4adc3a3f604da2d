package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mediclear/mediclear/internal/platform/auth"
	"github.com/mediclear/mediclear/internal/platform/gate"
)

type Handler struct {
	svc           *Service
	gate          *gate.Gate
	secureCookies bool
	exposeTokens  bool
}

func NewHandler(svc *Service, g *gate.Gate) *Handler {
	return &Handler{svc: svc, gate: g}
}

// SetSecureCookies marks the session cookie Secure.
func (h *Handler) SetSecureCookies(on bool) { h.secureCookies = on }

// SetExposeConfirmationTokens returns confirmation tokens in the sign-up
// response. There is no mail delivery, so development setups confirm with it.
func (h *Handler) SetExposeConfirmationTokens(on bool) { h.exposeTokens = on }

// RegisterRoutes mounts the auth endpoints. loginLimit wraps the login route
// only.
func (h *Handler) RegisterRoutes(api *echo.Group, loginLimit ...echo.MiddlewareFunc) {
	api.POST("/auth/login", h.Login, loginLimit...)
	api.POST("/auth/register", h.Register, loginLimit...)
	api.POST("/auth/confirm", h.Confirm)

	signedIn := api.Group("", auth.RequireAuthenticated())
	signedIn.POST("/auth/logout", h.Logout)
	signedIn.GET("/auth/me", h.Me)

	staff := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleDoctor))
	staff.GET("/doctors", h.ListDoctors)
}

func httpError(err error) error {
	var ve *ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrEmailNotConfirmed), errors.Is(err, ErrProfileNotFound):
		status = http.StatusForbidden
	case errors.Is(err, ErrEmailTaken), errors.Is(err, ErrSignInInProgress):
		status = http.StatusConflict
	}
	return echo.NewHTTPError(status, Message(err))
}

func (h *Handler) setSessionCookie(c echo.Context, token string, expires time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Redirect string `json:"redirect"`
}

type loginResponse struct {
	Identity  Identity  `json:"identity"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	State     State     `json:"state"`
	Message   string    `json:"message"`
	Redirect  string    `json:"redirect"`
}

// Login signs in and sets the session cookie. Redirect is the page the
// visitor was sent away from, when they may open it, else their dashboard.
func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Redirect == "" {
		req.Redirect = c.QueryParam("redirect")
	}
	sess := NewSession()
	res, err := sess.SignIn(c.Request().Context(), h.svc, req.Email, req.Password)
	if err != nil {
		return httpError(err)
	}
	expires := res.Claims.ExpiresAt.Time
	h.setSessionCookie(c, res.Token, expires)
	v := gate.Visitor{Authenticated: true, Role: res.Identity.Role}
	return c.JSON(http.StatusOK, loginResponse{
		Identity:  res.Identity,
		Token:     res.Token,
		ExpiresAt: expires,
		State:     sess.State(),
		Message:   sess.Message(),
		Redirect:  h.gate.SafeRedirect(v, req.Redirect),
	})
}

func (h *Handler) Register(c echo.Context) error {
	var req SignUpRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.SignUp(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	body := map[string]interface{}{
		"identity": res.Identity,
		"message":  MessageSignedUp,
	}
	if h.exposeTokens && res.ConfirmationToken != "" {
		body["confirmation_token"] = res.ConfirmationToken
	}
	return c.JSON(http.StatusCreated, body)
}

func (h *Handler) Confirm(c echo.Context) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Token == "" {
		req.Token = c.QueryParam("token")
	}
	if err := h.svc.ConfirmEmail(c.Request().Context(), req.Token); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": MessageConfirmed})
}

func (h *Handler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.svc.SignOut(ctx, auth.ClaimsFromContext(ctx)); err != nil {
		return httpError(err)
	}
	c.SetCookie(&http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, map[string]string{"message": MessageSignedOut, "redirect": gate.LoginPath})
}

// Me restores the identity behind the caller's session token.
func (h *Handler) Me(c echo.Context) error {
	id, _, err := h.svc.Restore(c.Request().Context(), auth.TokenFromRequest(c.Request()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"identity":  id,
		"state":     Authenticated,
		"dashboard": gate.DashboardFor(id.Role),
	})
}

func (h *Handler) ListDoctors(c echo.Context) error {
	opts, err := h.svc.ListDoctors(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Unable to fetch doctors. Please contact administrator.")
	}
	return c.JSON(http.StatusOK, opts)
}

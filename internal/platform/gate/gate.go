// Package gate decides which page routes a visitor may open and where to send
// them otherwise.
package gate

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mediclear/mediclear/internal/platform/auth"
)

const (
	LoginPath     = "/login"
	RegisterPath  = "/register"
	ForbiddenPath = "/forbidden"
	NotFoundPath  = "/not-found"
)

// Access says who may open a route.
type Access int

const (
	// Public routes are open to everyone.
	Public Access = iota
	// GuestOnly routes send signed-in visitors to their dashboard.
	GuestOnly
	// Protected routes need a session and, when Roles is set, one of them.
	Protected
)

type Route struct {
	Name   string
	Path   string
	Access Access
	Roles  []string
}

var staff = []string{auth.RoleNurse, auth.RoleDoctor}

// Routes is the page surface of the application.
var Routes = []Route{
	{Name: "landing-page", Path: "/", Access: Public},
	{Name: "login", Path: LoginPath, Access: GuestOnly},
	{Name: "register", Path: RegisterPath, Access: GuestOnly},
	{Name: "nurse-dashboard", Path: "/nurse-dashboard", Access: Protected, Roles: []string{auth.RoleNurse}},
	{Name: "doctor-dashboard", Path: "/doctor-dashboard", Access: Protected, Roles: []string{auth.RoleDoctor}},
	{Name: "patient-record", Path: "/patient-record", Access: Protected, Roles: staff},
	{Name: "work-flow", Path: "/work-flow", Access: Protected, Roles: staff},
	{Name: "patient-info", Path: "/patient-info/:id", Access: Protected, Roles: staff},
	{Name: "reports", Path: "/reports", Access: Protected, Roles: staff},
	{Name: "forbidden", Path: ForbiddenPath, Access: Protected},
	{Name: "not-found", Path: NotFoundPath, Access: Public},
}

// DashboardFor is where a role lands after signing in.
func DashboardFor(role string) string {
	switch role {
	case auth.RoleNurse:
		return "/nurse-dashboard"
	case auth.RoleDoctor:
		return "/doctor-dashboard"
	}
	return "/"
}

// Visitor is what the gate knows about the caller.
type Visitor struct {
	Authenticated bool
	Role          string
}

// VisitorFromContext reads the session identity attached by the auth
// middleware.
func VisitorFromContext(c echo.Context) Visitor {
	ctx := c.Request().Context()
	if auth.UserIDFromContext(ctx) == "" {
		return Visitor{}
	}
	return Visitor{Authenticated: true, Role: auth.RoleFromContext(ctx)}
}

// Decision is the outcome for one navigation. Redirect is empty when the
// visitor may proceed.
type Decision struct {
	Route    *Route
	Redirect string
}

func (d Decision) Allowed() bool { return d.Redirect == "" }

type Gate struct {
	routes []Route
}

func New(routes []Route) *Gate {
	return &Gate{routes: routes}
}

// Match finds the route for path. A ":name" segment matches any single
// non-empty segment.
func (g *Gate) Match(path string) (*Route, bool) {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		path = "/"
	}
	for i := range g.routes {
		if matches(g.routes[i].Path, path) {
			return &g.routes[i], true
		}
	}
	return nil, false
}

func matches(pattern, path string) bool {
	ps := strings.Split(pattern, "/")
	xs := strings.Split(path, "/")
	if len(ps) != len(xs) {
		return false
	}
	for i := range ps {
		if strings.HasPrefix(ps[i], ":") {
			if xs[i] == "" {
				return false
			}
			continue
		}
		if ps[i] != xs[i] {
			return false
		}
	}
	return true
}

// Decide applies the route rules to a navigation. target is the path with an
// optional query string; the whole of it is kept as the login redirect.
func (g *Gate) Decide(v Visitor, target string) Decision {
	path, _, _ := strings.Cut(target, "?")
	route, ok := g.Match(path)
	if !ok {
		return Decision{Redirect: NotFoundPath}
	}
	d := Decision{Route: route}
	switch route.Access {
	case Public:
	case GuestOnly:
		if v.Authenticated {
			d.Redirect = DashboardFor(v.Role)
		}
	case Protected:
		switch {
		case !v.Authenticated:
			d.Redirect = LoginPath + "?redirect=" + url.QueryEscape(target)
		case len(route.Roles) > 0 && !auth.HasRole([]string{v.Role}, route.Roles...):
			d.Redirect = ForbiddenPath
		}
	}
	return d
}

// SafeRedirect returns target when it is a local path the visitor may open,
// and the visitor's dashboard otherwise.
func (g *Gate) SafeRedirect(v Visitor, target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return DashboardFor(v.Role)
	}
	if d := g.Decide(v, target); !d.Allowed() {
		return DashboardFor(v.Role)
	}
	return target
}

// Middleware redirects page requests the visitor may not open.
func Middleware(g *Gate, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			v := VisitorFromContext(c)
			d := g.Decide(v, c.Request().URL.RequestURI())
			if d.Allowed() {
				return next(c)
			}
			logger.Debug().
				Str("path", c.Request().URL.Path).
				Str("role", v.Role).
				Str("redirect", d.Redirect).
				Msg("route gated")
			return c.Redirect(http.StatusFound, d.Redirect)
		}
	}
}

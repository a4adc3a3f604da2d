package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleNurse  = "nurse"
	RoleDoctor = "doctor"
	RoleOther  = "other"
	// RoleAdmin is never assigned through sign-up; it exists for operators
	// and CLI jobs.
	RoleAdmin = "admin"
)

// HasRole reports whether roles contains one of allowed. Admin matches any.
func HasRole(roles []string, allowed ...string) bool {
	for _, has := range roles {
		if has == RoleAdmin {
			return true
		}
		for _, want := range allowed {
			if has == want {
				return true
			}
		}
	}
	return false
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			if len(userRoles) == 0 {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if HasRole(userRoles, roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

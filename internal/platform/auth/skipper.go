package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are infrastructure endpoints that never need a scoped database
// connection or an audit record.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// AuthSkipper returns true for requests whose route is a public
// infrastructure endpoint.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}

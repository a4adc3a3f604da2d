package workflow

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mediclear/mediclear/internal/domain/patient"
	"github.com/mediclear/mediclear/internal/platform/auth"
)

type Handler struct {
	engine   *Engine
	patients *patient.Service
}

func NewHandler(engine *Engine, patients *patient.Service) *Handler {
	return &Handler{engine: engine, patients: patients}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleDoctor))
	g.GET("/workflow", h.GetOverview)
}

func (h *Handler) GetOverview(c echo.Context) error {
	dir := h.patients.Directory()
	if err := dir.Fetch(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "patient service unavailable")
	}
	return c.JSON(http.StatusOK, h.engine.Overview(dir.Patients()))
}

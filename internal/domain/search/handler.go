package search

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mediclear/mediclear/internal/domain/patient"
	"github.com/mediclear/mediclear/internal/platform/auth"
	"github.com/mediclear/mediclear/pkg/pagination"
)

type Handler struct {
	patients *patient.Service
}

func NewHandler(patients *patient.Service) *Handler {
	return &Handler{patients: patients}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleDoctor))
	g.GET("/patients", h.ListPatients)
}

// ListPatients serves ?q, ?status, ?ward and ?page over the caller's roster.
// Pages hold PageSize patients; page_size is not honoured here.
func (h *Handler) ListPatients(c echo.Context) error {
	dir := h.patients.Directory()
	if err := dir.Fetch(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "patient service unavailable")
	}
	s := New()
	s.SetCriteria(CriteriaFromContext(c))
	s.SetPage(pagination.FromContext(c).Page)
	return c.JSON(http.StatusOK, s.View(dir.Patients()))
}

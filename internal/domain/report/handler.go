package report

import (
	"bytes"
	"fmt"
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
	g := api.Group("/reports", auth.RequireRole(auth.RoleNurse, auth.RoleDoctor))
	g.GET("/summary", h.GetSummary)
	g.GET("/export.csv", h.ExportCSV)
	g.GET("/export.pdf", h.ExportPDF)
}

// Build fetches the caller's roster and computes the report for the query
// string filter.
func (h *Handler) Build(c echo.Context) (Report, error) {
	f, err := FilterFromContext(c)
	if err != nil {
		return Report{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dir := h.patients.Directory()
	if err := dir.Fetch(c.Request().Context()); err != nil {
		return Report{}, echo.NewHTTPError(http.StatusInternalServerError, "patient service unavailable")
	}
	return h.engine.Build(dir.Patients(), f), nil
}

func (h *Handler) GetSummary(c echo.Context) error {
	r, err := h.Build(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r.Summary)
}

func (h *Handler) ExportCSV(c echo.Context) error { return h.export(c, FormatCSV) }

func (h *Handler) ExportPDF(c echo.Context) error { return h.export(c, FormatPDF) }

func (h *Handler) export(c echo.Context, kind string) error {
	r, err := h.Build(c)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Write(&buf, kind, r); err != nil {
		h.engine.logger.Error().Err(err).Str("format", kind).Msg("report export failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "report export failed")
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", Filename(r.Summary.GeneratedAt, kind)))
	return c.Blob(http.StatusOK, ContentType(kind), buf.Bytes())
}

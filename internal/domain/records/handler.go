package records

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mediclear/mediclear/internal/domain/patient"
	"github.com/mediclear/mediclear/internal/platform/auth"
)

type Handler struct {
	svc      *Service
	patients *patient.Service
}

func NewHandler(svc *Service, patients *patient.Service) *Handler {
	return &Handler{svc: svc, patients: patients}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleDoctor))
	g.GET("/patients/:id/detail", h.GetDetail)

	mount(g, h.svc.VitalSigns)
	mount(g, h.svc.Diagnoses)
	mount(g, h.svc.Billing)
	mount(g, h.svc.MedicalHistory)
}

// GetDetail returns the patient with the newest record of each type.
func (h *Handler) GetDetail(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.patients.Directory().Get(ctx, id)
	if errors.Is(err, patient.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "patient service unavailable")
	}
	return c.JSON(http.StatusOK, h.svc.Detail(ctx, p))
}

// recordHandler serves the CRUD endpoints of one record Kind. Each request
// works on a fresh Store.
type recordHandler[T any] struct {
	newStore func() *Store[T]
}

func mount[T any](g *echo.Group, newStore func() *Store[T]) {
	rh := &recordHandler[T]{newStore: newStore}
	name := newStore().Kind().Name
	g.GET("/patients/:id/"+name, rh.List)
	g.POST("/patients/:id/"+name, rh.Create)
	g.PUT("/"+name+"/:id", rh.Update)
	g.DELETE("/"+name+"/:id", rh.Delete)
}

func httpError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "record not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "record service unavailable")
	}
}

func (rh *recordHandler[T]) List(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	st := rh.newStore()
	if err := st.Load(c.Request().Context(), patientID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st.Items())
}

func (rh *recordHandler[T]) Create(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	item := new(T)
	if err := c.Bind(item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := rh.newStore().Add(c.Request().Context(), patientID, item); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (rh *recordHandler[T]) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	item := new(T)
	if err := c.Bind(item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := rh.newStore().Update(c.Request().Context(), id, item); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (rh *recordHandler[T]) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := rh.newStore().Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

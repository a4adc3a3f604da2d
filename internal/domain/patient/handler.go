package patient

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mediclear/mediclear/internal/platform/auth"
	"github.com/mediclear/mediclear/pkg/format"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the single-patient endpoints. Listing lives with the
// search handler.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleDoctor))
	staff.GET("/patients/:id", h.GetPatient)
	staff.PUT("/patients/:id", h.UpdatePatient)
	staff.POST("/patients/:id/advance", h.AdvancePatient)

	nurses := api.Group("", auth.RequireRole(auth.RoleNurse))
	nurses.POST("/patients", h.CreatePatient)
	nurses.DELETE("/patients/:id", h.DeletePatient)
}

// Request is the patient form as browsers submit it: dates are plain
// YYYY-MM-DD strings and the physician may be blank.
type Request struct {
	CaseNumber          string `json:"case_number"`
	PatientName         string `json:"patient_name"`
	DateOfBirth         string `json:"date_of_birth"`
	AgeGender           string `json:"age_gender"`
	Ward                string `json:"ward"`
	AdmissionDate       string `json:"admission_date"`
	ReleaseDate         string `json:"release_date"`
	Status              string `json:"status"`
	AttendingPhysician  string `json:"attending_physician"`
	AttendingDoctorName string `json:"attending_doctor_name"`
	ContactNumber       string `json:"contact_number"`
}

// optionalDate reads a form date as a calendar day; any time of day is dropped.
func optionalDate(field, value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	day := format.DateForSubmission(value)
	if day == nil {
		return nil, &ValidationError{Field: field, Message: "invalid " + strings.ReplaceAll(field, "_", " ")}
	}
	t, err := time.Parse(format.ISODateLayout, *day)
	if err != nil {
		return nil, &ValidationError{Field: field, Message: "invalid " + strings.ReplaceAll(field, "_", " ")}
	}
	return &t, nil
}

// Patient converts the form into a Patient, rejecting malformed values.
func (r Request) Patient() (*Patient, error) {
	p := &Patient{
		CaseNumber:          r.CaseNumber,
		PatientName:         r.PatientName,
		AgeGender:           strings.TrimSpace(r.AgeGender),
		Ward:                strings.TrimSpace(r.Ward),
		Status:              Status(strings.TrimSpace(r.Status)),
		AttendingDoctorName: strings.TrimSpace(r.AttendingDoctorName),
		ContactNumber:       strings.TrimSpace(r.ContactNumber),
	}
	dob, err := optionalDate("date_of_birth", r.DateOfBirth)
	if err != nil {
		return nil, err
	}
	if dob != nil {
		p.DateOfBirth = *dob
	}
	if p.AdmissionDate, err = optionalDate("admission_date", r.AdmissionDate); err != nil {
		return nil, err
	}
	if p.ReleaseDate, err = optionalDate("release_date", r.ReleaseDate); err != nil {
		return nil, err
	}
	if s := strings.TrimSpace(r.AttendingPhysician); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, &ValidationError{Field: "attending_physician", Message: "invalid attending_physician"}
		}
		p.AttendingPhysicianID = &id
	}
	return p, nil
}

// httpError maps directory errors onto HTTP status codes.
func httpError(err error) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Message)
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrTransitionNotAllowed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "patient service unavailable")
	}
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := req.Patient()
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.Directory().Add(c.Request().Context(), p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.Directory().Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := req.Patient()
	if err != nil {
		return httpError(err)
	}
	p.ID = id
	if err := h.svc.Directory().Update(c.Request().Context(), p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) AdvancePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.Directory().Advance(ctx, id, auth.RoleFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Directory().Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

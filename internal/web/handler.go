// Package web serves the page routes. Each page answers with one JSON
// document carrying the signed-in identity and the data the page renders.
// Every page sits behind the route gate.
package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mediclear/mediclear/internal/domain/identity"
	"github.com/mediclear/mediclear/internal/domain/patient"
	"github.com/mediclear/mediclear/internal/domain/records"
	"github.com/mediclear/mediclear/internal/domain/report"
	"github.com/mediclear/mediclear/internal/domain/search"
	"github.com/mediclear/mediclear/internal/domain/workflow"
	"github.com/mediclear/mediclear/internal/platform/auth"
	"github.com/mediclear/mediclear/internal/platform/db"
	"github.com/mediclear/mediclear/internal/platform/gate"
	"github.com/mediclear/mediclear/pkg/pagination"
)

var titles = map[string]string{
	"landing-page":     "MediClear",
	"login":            "Sign In",
	"register":         "Create Account",
	"nurse-dashboard":  "Nurse Dashboard",
	"doctor-dashboard": "Doctor Dashboard",
	"patient-record":   "Patient Records",
	"work-flow":        "Discharge Workflow",
	"patient-info":     "Patient Information",
	"reports":          "Reports",
	"forbidden":        "Access Denied",
	"not-found":        "Page Not Found",
}

const (
	MessageForbidden = "You do not have permission to view this page."
	MessageNotFound  = "The page you are looking for does not exist."
)

// Page is the document every page route returns.
type Page struct {
	Name     string             `json:"name"`
	Title    string             `json:"title"`
	Identity *identity.Identity `json:"identity,omitempty"`
	Data     any                `json:"data,omitempty"`
}

// Deps are the services the pages read from.
type Deps struct {
	Gate     *gate.Gate
	Identity *identity.Service
	Patients *patient.Service
	Records  *records.Service
	Workflow *workflow.Engine
	Reports  *report.Engine
}

type Handler struct {
	deps   Deps
	logger zerolog.Logger
}

func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{deps: deps, logger: logger.With().Str("component", "web").Logger()}
}

// RegisterRoutes mounts one GET route per gate route. Paths outside the API
// that match no route are sent to the not-found page.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	pages := map[string]echo.HandlerFunc{
		"landing-page":     h.Landing,
		"login":            h.Login,
		"register":         h.Register,
		"nurse-dashboard":  h.NurseDashboard,
		"doctor-dashboard": h.DoctorDashboard,
		"patient-record":   h.PatientRecord,
		"work-flow":        h.WorkFlow,
		"patient-info":     h.PatientInfo,
		"reports":          h.Reports,
		"forbidden":        h.Forbidden,
		"not-found":        h.NotFound,
	}
	gated := gate.Middleware(h.deps.Gate, h.logger)
	for _, r := range gate.Routes {
		if page, ok := pages[r.Name]; ok {
			e.GET(r.Path, page, gated)
		}
	}
	e.RouteNotFound("/*", h.Unknown)
}

func (h *Handler) Unknown(c echo.Context) error {
	path := c.Request().URL.Path
	if strings.HasPrefix(path, "/api/") || c.Request().Method != http.MethodGet {
		return echo.ErrNotFound
	}
	return c.Redirect(http.StatusFound, gate.NotFoundPath)
}

// identityFor resolves the visitor's identity. A failed lookup renders the
// page anonymously; the gate has already let the visitor in.
func (h *Handler) identityFor(c echo.Context) *identity.Identity {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)
	if userID == "" {
		return nil
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil
	}
	id, err := h.deps.Identity.Lookup(ctx, uid)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("identity lookup failed")
		return nil
	}
	return &id
}

func (h *Handler) render(c echo.Context, name string, data any) error {
	return c.JSON(http.StatusOK, Page{
		Name:     name,
		Title:    titles[name],
		Identity: h.identityFor(c),
		Data:     data,
	})
}

func (h *Handler) roster(ctx context.Context) ([]*patient.Patient, error) {
	dir := h.deps.Patients.Directory()
	if err := dir.Fetch(ctx); err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "patient service unavailable")
	}
	return dir.Patients(), nil
}

func (h *Handler) Landing(c echo.Context) error {
	data := map[string]string{}
	if v := gate.VisitorFromContext(c); v.Authenticated {
		data["dashboard"] = gate.DashboardFor(v.Role)
	}
	return h.render(c, "landing-page", data)
}

func (h *Handler) Login(c echo.Context) error {
	return h.render(c, "login", map[string]string{"redirect": c.QueryParam("redirect")})
}

func (h *Handler) Register(c echo.Context) error {
	return h.render(c, "register", map[string]any{"roles": identity.SignupRoles})
}

type nurseDashboard struct {
	Counts   patient.Counts    `json:"counts"`
	Metrics  []workflow.Metric `json:"metrics"`
	Patients search.View       `json:"patients"`
}

func (h *Handler) NurseDashboard(c echo.Context) error {
	roster, err := h.roster(c.Request().Context())
	if err != nil {
		return err
	}
	return h.render(c, "nurse-dashboard", nurseDashboard{
		Counts:   patient.Count(roster),
		Metrics:  h.deps.Workflow.Metrics(roster),
		Patients: search.NewView(roster, search.DefaultCriteria(), 1),
	})
}

func (h *Handler) DoctorDashboard(c echo.Context) error {
	roster, err := h.roster(c.Request().Context())
	if err != nil {
		return err
	}
	return h.render(c, "doctor-dashboard", patient.NewDoctorDashboard(roster))
}

type patientRecord struct {
	Search       search.View             `json:"search"`
	Doctors      []identity.DoctorOption `json:"doctors"`
	DoctorsError string                  `json:"doctors_error,omitempty"`
}

// PatientRecord loads the roster and the physician picker together. A failed
// doctor list leaves the picker empty rather than failing the page.
func (h *Handler) PatientRecord(c echo.Context) error {
	ctx := c.Request().Context()
	dir := h.deps.Patients.Directory()
	var (
		doctors    []identity.DoctorOption
		doctorsErr error
		g          errgroup.Group
	)
	g.Go(func() error {
		return db.WithOwnConn(ctx, dir.Fetch)
	})
	g.Go(func() error {
		doctorsErr = db.WithOwnConn(ctx, func(ctx context.Context) error {
			var err error
			doctors, err = h.deps.Identity.ListDoctors(ctx)
			return err
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "patient service unavailable")
	}
	page := patientRecord{
		Search:  search.NewView(dir.Patients(), search.CriteriaFromContext(c), pagination.FromContext(c).Page),
		Doctors: doctors,
	}
	if doctorsErr != nil {
		h.logger.Error().Err(doctorsErr).Msg("error fetching doctors")
		page.Doctors = []identity.DoctorOption{}
		page.DoctorsError = "Unable to load doctors"
	}
	return h.render(c, "patient-record", page)
}

func (h *Handler) WorkFlow(c echo.Context) error {
	roster, err := h.roster(c.Request().Context())
	if err != nil {
		return err
	}
	return h.render(c, "work-flow", h.deps.Workflow.Overview(roster))
}

type patientInfo struct {
	*records.Detail
	Steps         []workflow.StepInfo `json:"steps"`
	Step          int                 `json:"step"`
	Progress      int                 `json:"progress"`
	ProgressText  string              `json:"progress_text"`
	DaysInProcess int                 `json:"days_in_process"`
}

func (h *Handler) PatientInfo(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	ctx := c.Request().Context()
	p, err := h.deps.Patients.Directory().Get(ctx, id)
	if errors.Is(err, patient.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "patient service unavailable")
	}
	return h.render(c, "patient-info", patientInfo{
		Detail:        h.deps.Records.Detail(ctx, p),
		Steps:         workflow.Steps,
		Step:          workflow.Step(p.Status),
		Progress:      workflow.Progress(p.Status),
		ProgressText:  workflow.ProgressText(p.Status),
		DaysInProcess: h.deps.Workflow.DaysInProcess(p),
	})
}

func (h *Handler) Reports(c echo.Context) error {
	f, err := report.FilterFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	roster, err := h.roster(c.Request().Context())
	if err != nil {
		return err
	}
	return h.render(c, "reports", h.deps.Reports.Build(roster, f))
}

func (h *Handler) Forbidden(c echo.Context) error {
	v := gate.VisitorFromContext(c)
	return h.render(c, "forbidden", map[string]string{
		"message":   MessageForbidden,
		"dashboard": gate.DashboardFor(v.Role),
	})
}

func (h *Handler) NotFound(c echo.Context) error {
	return h.render(c, "not-found", map[string]string{"message": MessageNotFound, "home": "/"})
}

// Package search filters and pages the patient roster.
package search

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mediclear/mediclear/internal/domain/patient"
	"github.com/mediclear/mediclear/pkg/pagination"
)

const (
	AllStatuses = "All Statuses"
	AllWards    = "All Wards"
	PageSize    = pagination.DefaultPageSize
)

var StatusOptions = []string{
	AllStatuses,
	string(patient.StatusAdmitted),
	string(patient.StatusDischargeRequested),
	string(patient.StatusApproved),
	string(patient.StatusReleased),
}

var WardOptions = []string{
	AllWards,
	"General Medicine",
	"Cardiology",
	"Emergency",
	"Orthopedics",
	"Maternity",
}

// Criteria narrows the roster. The sentinels AllStatuses and AllWards, like
// an empty value, disable their filter.
type Criteria struct {
	Query  string `json:"query"`
	Status string `json:"status"`
	Ward   string `json:"ward"`
}

func DefaultCriteria() Criteria {
	return Criteria{Status: AllStatuses, Ward: AllWards}
}

// Normalize trims the query and replaces blank filters with their sentinels.
func (c Criteria) Normalize() Criteria {
	c.Query = strings.TrimSpace(c.Query)
	c.Status = strings.TrimSpace(c.Status)
	c.Ward = strings.TrimSpace(c.Ward)
	if c.Status == "" {
		c.Status = AllStatuses
	}
	if c.Ward == "" {
		c.Ward = AllWards
	}
	return c
}

// Changed reports whether switching from c to other changes the result set,
// which is when the caller must go back to page 1.
func (c Criteria) Changed(other Criteria) bool {
	return c.Normalize() != other.Normalize()
}

func CriteriaFromContext(c echo.Context) Criteria {
	return Criteria{
		Query:  c.QueryParam("q"),
		Status: c.QueryParam("status"),
		Ward:   c.QueryParam("ward"),
	}.Normalize()
}

// Matches applies the criteria to one patient. The query is a
// case-insensitive substring match on name or case number.
func (c Criteria) Matches(p *patient.Patient) bool {
	c = c.Normalize()
	if c.Query != "" {
		q := strings.ToLower(c.Query)
		if !strings.Contains(strings.ToLower(p.PatientName), q) &&
			!strings.Contains(strings.ToLower(p.CaseNumber), q) {
			return false
		}
	}
	if c.Status != AllStatuses && string(p.Status) != c.Status {
		return false
	}
	if c.Ward != AllWards && p.Ward != c.Ward {
		return false
	}
	return true
}

// Filter keeps the roster order.
func Filter(roster []*patient.Patient, c Criteria) []*patient.Patient {
	out := make([]*patient.Patient, 0, len(roster))
	for _, p := range roster {
		if c.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// View is one page of the filtered roster plus the filter options.
type View struct {
	Criteria      Criteria                              `json:"criteria"`
	Results       pagination.Response[*patient.Patient] `json:"results"`
	StatusOptions []string                              `json:"status_options"`
	WardOptions   []string                              `json:"ward_options"`
}

func NewView(roster []*patient.Patient, c Criteria, page int) View {
	c = c.Normalize()
	return View{
		Criteria:      c,
		Results:       pagination.NewResponse(Filter(roster, c), pagination.Params{Page: page, PageSize: PageSize}),
		StatusOptions: StatusOptions,
		WardOptions:   WardOptions,
	}
}

// Search holds a user's current criteria and page. Changing the criteria
// moves back to page 1.
type Search struct {
	criteria Criteria
	page     int
}

func New() *Search {
	return &Search{criteria: DefaultCriteria(), page: 1}
}

func (s *Search) Criteria() Criteria { return s.criteria }

func (s *Search) Page() int { return s.page }

func (s *Search) SetCriteria(c Criteria) {
	if s.criteria.Changed(c) {
		s.page = 1
	}
	s.criteria = c.Normalize()
}

func (s *Search) SetPage(page int) {
	if page < 1 {
		page = 1
	}
	s.page = page
}

func (s *Search) ClearFilters() {
	s.criteria = DefaultCriteria()
	s.page = 1
}

func (s *Search) View(roster []*patient.Patient) View {
	return NewView(roster, s.criteria, s.page)
}

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mediclear/mediclear/internal/domain/patient"
)

func roster() []*patient.Patient {
	return []*patient.Patient{
		{CaseNumber: "C-100", PatientName: "Ana Reyes", Status: patient.StatusAdmitted, Ward: "Cardiology"},
		{CaseNumber: "C-101", PatientName: "Juan Cruz", Status: patient.StatusApproved, Ward: "Emergency"},
		{CaseNumber: "BANANA-7", PatientName: "Pedro Lim", Status: patient.StatusReleased, Ward: "Cardiology"},
		{CaseNumber: "C-103", PatientName: "Mariana Sy", Status: patient.StatusAdmitted, Ward: "Maternity"},
		{CaseNumber: "C-104", PatientName: "Jose Tan", Status: patient.StatusDischargeRequested, Ward: "Emergency"},
	}
}

func names(ps []*patient.Patient) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.PatientName
	}
	return out
}

func TestFilter_QueryMatchesNameOrCaseNumber(t *testing.T) {
	got := Filter(roster(), Criteria{Query: "  ANA "})
	want := []string{"Ana Reyes", "Pedro Lim", "Mariana Sy"}
	if fmt.Sprint(names(got)) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, names(got))
	}
}

func TestFilter_StatusAndWard(t *testing.T) {
	got := Filter(roster(), Criteria{Status: string(patient.StatusAdmitted), Ward: AllWards})
	if len(got) != 2 {
		t.Errorf("expected 2 admitted patients, got %v", names(got))
	}
	got = Filter(roster(), Criteria{Status: AllStatuses, Ward: "Emergency"})
	if len(got) != 2 {
		t.Errorf("expected 2 emergency patients, got %v", names(got))
	}
	got = Filter(roster(), Criteria{Query: "ana", Ward: "Cardiology"})
	if fmt.Sprint(names(got)) != "[Ana Reyes Pedro Lim]" {
		t.Errorf("expected combined filters, got %v", names(got))
	}
	if got := Filter(roster(), DefaultCriteria()); len(got) != 5 {
		t.Errorf("sentinels must not filter, got %d", len(got))
	}
	if got := Filter(roster(), Criteria{Status: "released"}); len(got) != 0 {
		t.Errorf("status match is exact, got %v", names(got))
	}
}

func TestNewView_Pagination(t *testing.T) {
	var ps []*patient.Patient
	for i := 0; i < 25; i++ {
		ps = append(ps, &patient.Patient{CaseNumber: fmt.Sprintf("C-%02d", i), Status: patient.StatusAdmitted})
	}
	v := NewView(ps, DefaultCriteria(), 3)
	if v.Results.TotalPages != 3 {
		t.Errorf("expected 3 pages, got %d", v.Results.TotalPages)
	}
	if len(v.Results.Data) != 5 || v.Results.Data[0].CaseNumber != "C-20" {
		t.Errorf("expected the last 5 patients on page 3, got %d", len(v.Results.Data))
	}
	if v := NewView(ps, DefaultCriteria(), 4); len(v.Results.Data) != 0 || v.Results.Data == nil {
		t.Error("expected an empty, non-nil page past the end")
	}
	if v := NewView(ps, DefaultCriteria(), 0); v.Results.Page != 1 {
		t.Errorf("expected page 0 to clamp to 1, got %d", v.Results.Page)
	}
	if v := NewView(nil, DefaultCriteria(), 1); v.Results.TotalPages != 0 {
		t.Errorf("expected 0 pages for no results, got %d", v.Results.TotalPages)
	}
}

func TestSearch_PageResetsWhenCriteriaChange(t *testing.T) {
	s := New()
	s.SetPage(3)
	s.SetCriteria(Criteria{Status: "", Ward: " "})
	if s.Page() != 3 {
		t.Errorf("equivalent criteria must keep the page, got %d", s.Page())
	}
	s.SetCriteria(Criteria{Query: "ana"})
	if s.Page() != 1 {
		t.Errorf("expected page reset, got %d", s.Page())
	}
	s.SetPage(2)
	s.ClearFilters()
	if s.Page() != 1 || s.Criteria() != DefaultCriteria() {
		t.Errorf("expected defaults after clear, got %+v page %d", s.Criteria(), s.Page())
	}
}

func TestCriteria_Changed(t *testing.T) {
	a := Criteria{Query: "ana"}
	if a.Changed(Criteria{Query: " ana ", Status: AllStatuses, Ward: AllWards}) {
		t.Error("normalized criteria must compare equal")
	}
	if !a.Changed(Criteria{Query: "ana", Ward: "Emergency"}) {
		t.Error("expected a ward change to count")
	}
}

type rosterRepo struct{ items []*patient.Patient }

func (r *rosterRepo) List(context.Context) ([]*patient.Patient, error) { return r.items, nil }
func (r *rosterRepo) GetByID(context.Context, uuid.UUID) (*patient.Patient, error) {
	return nil, patient.ErrNotFound
}
func (r *rosterRepo) Create(context.Context, *patient.Patient) error { return nil }
func (r *rosterRepo) Update(context.Context, *patient.Patient) error { return nil }
func (r *rosterRepo) Delete(context.Context, uuid.UUID) error        { return nil }

func TestHandler_ListPatients(t *testing.T) {
	h := NewHandler(patient.NewService(&rosterRepo{items: roster()}, zerolog.Nop()))
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?q=ana&ward=Cardiology&page=1", nil), rec)

	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v struct {
		Criteria Criteria `json:"criteria"`
		Results  struct {
			Data       []patient.Patient `json:"data"`
			Total      int               `json:"total"`
			TotalPages int               `json:"total_pages"`
		} `json:"results"`
		StatusOptions []string `json:"status_options"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatal(err)
	}
	if v.Results.Total != 2 || v.Results.TotalPages != 1 || v.Criteria.Status != AllStatuses {
		t.Errorf("unexpected response %+v", v)
	}
	if len(v.StatusOptions) != 5 {
		t.Errorf("expected 5 status options, got %d", len(v.StatusOptions))
	}
}

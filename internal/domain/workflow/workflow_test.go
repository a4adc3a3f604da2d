package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mediclear/mediclear/internal/domain/patient"
)

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func newTestEngine(now time.Time) *Engine {
	e := NewEngine(zerolog.Nop())
	e.now = func() time.Time { return now }
	return e
}

func TestStep(t *testing.T) {
	tests := []struct {
		status patient.Status
		want   int
	}{
		{patient.StatusAdmitted, 1},
		{patient.StatusDischargeRequested, 2},
		{patient.StatusApproved, 3},
		{patient.StatusReleased, 4},
		{"Active", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := Step(tt.status); got != tt.want {
			t.Errorf("Step(%q) = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestProgress(t *testing.T) {
	if got := Progress(patient.StatusApproved); got != 75 {
		t.Errorf("expected Approved to be 75, got %d", got)
	}
	if got := Progress(patient.StatusAdmitted); got != 25 {
		t.Errorf("expected Admitted to be 25, got %d", got)
	}
	if got := Progress("unknown"); got != 0 {
		t.Errorf("expected unknown status to be 0, got %d", got)
	}
	if got := ProgressText(patient.StatusDischargeRequested); got != "2/4" {
		t.Errorf("expected 2/4, got %s", got)
	}
}

func TestDaysBetween(t *testing.T) {
	e := newTestEngine(time.Now())
	start := date("2025-09-01")
	if got := e.DaysBetween(start, *date("2025-09-05")); got != 4 {
		t.Errorf("expected 4, got %d", got)
	}
	if got := e.DaysBetween(start, start.Add(30*time.Hour)); got != 2 {
		t.Errorf("expected partial days to round up to 2, got %d", got)
	}
	if got := e.DaysBetween(date("2025-09-05"), *start); got != 4 {
		t.Errorf("expected absolute difference, got %d", got)
	}
	if got := e.DaysBetween(nil, time.Now()); got != 0 {
		t.Errorf("expected 0 for missing start, got %d", got)
	}
	if got := e.DaysBetween(&time.Time{}, time.Now()); got != 0 {
		t.Errorf("expected 0 for malformed start, got %d", got)
	}
}

func TestDaysInProcess(t *testing.T) {
	e := newTestEngine(time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC))

	released := &patient.Patient{Status: patient.StatusReleased, AdmissionDate: date("2025-09-01"), ReleaseDate: date("2025-09-05")}
	if got := e.DaysInProcess(released); got != 4 {
		t.Errorf("expected 4, got %d", got)
	}
	open := &patient.Patient{Status: patient.StatusApproved, AdmissionDate: date("2025-09-01"), ReleaseDate: date("2025-09-05")}
	if got := e.DaysInProcess(open); got != 10 {
		t.Errorf("expected days until now for unreleased patient, got %d", got)
	}
	releasedNoDate := &patient.Patient{Status: patient.StatusReleased, AdmissionDate: date("2025-09-08")}
	if got := e.DaysInProcess(releasedNoDate); got != 3 {
		t.Errorf("expected fallback to now, got %d", got)
	}
	if got := e.DaysInProcess(&patient.Patient{Status: patient.StatusAdmitted}); got != 0 {
		t.Errorf("expected 0 without admission date, got %d", got)
	}
}

func TestAverageProcessingTime(t *testing.T) {
	e := newTestEngine(time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC))
	if got := e.AverageProcessingTime(nil); got != 0 {
		t.Errorf("expected 0 for empty roster, got %v", got)
	}
	onlyOpen := []*patient.Patient{{Status: patient.StatusAdmitted, AdmissionDate: date("2025-09-01")}}
	if got := e.AverageProcessingTime(onlyOpen); got != 0 {
		t.Errorf("expected 0 with no released patients, got %v", got)
	}

	roster := []*patient.Patient{
		{Status: patient.StatusReleased, AdmissionDate: date("2025-09-01"), ReleaseDate: date("2025-09-05")},
		{Status: patient.StatusReleased, AdmissionDate: date("2025-09-01"), ReleaseDate: date("2025-09-04")},
		{Status: patient.StatusReleased, AdmissionDate: date("2025-09-01"), ReleaseDate: date("2025-09-04")},
		{Status: patient.StatusAdmitted, AdmissionDate: date("2025-08-01")},
	}
	if got := e.AverageProcessingTime(roster); got != 3.3 {
		t.Errorf("expected 3.3, got %v", got)
	}
}

func TestRowsAndItems(t *testing.T) {
	roster := []*patient.Patient{
		{Status: patient.StatusAdmitted},
		{Status: patient.StatusAdmitted},
		{Status: patient.StatusApproved},
	}
	rows := Rows(roster)
	if len(rows) != 4 || rows[0].PatientCount != 2 || rows[2].PatientCount != 1 || rows[3].PatientCount != 0 {
		t.Errorf("unexpected rows %+v", rows)
	}
	items := Items(roster)
	if items[0].Percentage != 66.7 || items[2].Percentage != 33.3 || items[1].Percentage != 0 {
		t.Errorf("unexpected percentages %+v", items)
	}
	for _, it := range Items(nil) {
		if it.Percentage != 0 || it.PatientCount != 0 {
			t.Errorf("expected zeros for empty roster, got %+v", it)
		}
	}
}

func TestMetricsAndPatientData(t *testing.T) {
	e := newTestEngine(time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC))
	id := uuid.New()
	roster := []*patient.Patient{
		{ID: id, PatientName: "Ana", CaseNumber: "C-1", Status: patient.StatusApproved, AdmissionDate: date("2025-09-07")},
		{Status: patient.StatusDischargeRequested},
		{Status: patient.StatusReleased, AdmissionDate: date("2025-09-01"), ReleaseDate: date("2025-09-05")},
	}
	metrics := e.Metrics(roster)
	want := []string{"4.0 days", "1", "1"}
	for i, m := range metrics {
		if m.Value != want[i] {
			t.Errorf("%s: expected %q, got %q", m.Title, want[i], m.Value)
		}
	}
	if metrics[2].Title != "Released Patients" {
		t.Errorf("unexpected metric label %q", metrics[2].Title)
	}

	data := e.PatientData(roster)
	if data[0].PatientID != id.String() || data[0].WorkflowProgress != 75 || data[0].WorkflowProgressText != "3/4" ||
		data[0].DaysInProcess != 3 || data[0].AdmissionDate != "2025-09-07" {
		t.Errorf("unexpected patient row %+v", data[0])
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

func TestHandler_GetOverview(t *testing.T) {
	repo := &rosterRepo{items: []*patient.Patient{{Status: patient.StatusAdmitted}, {Status: patient.StatusReleased}}}
	h := NewHandler(newTestEngine(time.Now()), patient.NewService(repo, zerolog.Nop()))
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	if err := h.GetOverview(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Overview
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Rows) != 4 || len(got.Patients) != 2 || len(got.Metrics) != 3 {
		t.Errorf("unexpected overview %+v", got)
	}
	if got.Items[0].Percentage != 50 {
		t.Errorf("expected Admitted at 50%%, got %v", got.Items[0].Percentage)
	}
}

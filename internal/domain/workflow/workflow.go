// Package workflow derives discharge progress, processing times and roster
// aggregates from a patient roster. Nothing here touches storage; every
// function recomputes from the snapshot it is given.
package workflow

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/mediclear/mediclear/internal/domain/patient"
	"github.com/mediclear/mediclear/pkg/format"
)

// StepInfo is one stage of the discharge workflow.
type StepInfo struct {
	Step     int            `json:"step"`
	Title    string         `json:"title"`
	Subtitle string         `json:"subtitle"`
	Icon     string         `json:"icon"`
	Color    string         `json:"color"`
	Status   patient.Status `json:"status"`
}

var Steps = []StepInfo{
	{Step: 1, Title: "Admitted", Subtitle: "Patient admitted to hospital", Icon: "mdi-account-multiple-outline", Color: "blue", Status: patient.StatusAdmitted},
	{Step: 2, Title: "Discharge Requested", Subtitle: "Nurse requests discharge", Icon: "mdi-file-document-outline", Color: "orange", Status: patient.StatusDischargeRequested},
	{Step: 3, Title: "Approved", Subtitle: "Doctor approves discharge", Icon: "mdi-check-circle-outline", Color: "green", Status: patient.StatusApproved},
	{Step: 4, Title: "Released", Subtitle: "Patient released from hospital", Icon: "mdi-check-circle-outline", Color: "grey", Status: patient.StatusReleased},
}

var StatusColors = map[patient.Status]string{
	patient.StatusAdmitted:           "blue",
	patient.StatusDischargeRequested: "orange",
	patient.StatusApproved:           "green",
	patient.StatusReleased:           "grey",
}

// Step returns the 1-based workflow position of status, or 0 when unknown.
func Step(status patient.Status) int {
	for _, s := range Steps {
		if s.Status == status {
			return s.Step
		}
	}
	return 0
}

// Progress is the percentage of the workflow completed, rounded to a whole
// number.
func Progress(status patient.Status) int {
	return int(math.Round(float64(Step(status)) / float64(len(Steps)) * 100))
}

// ProgressText renders the position as "step/total".
func ProgressText(status patient.Status) string {
	return fmt.Sprintf("%d/%d", Step(status), len(Steps))
}

const day = 24 * time.Hour

// Engine computes the time-dependent figures. The clock is injectable.
type Engine struct {
	logger zerolog.Logger
	now    func() time.Time
}

func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger.With().Str("component", "workflow").Logger(), now: time.Now}
}

// DaysBetween is the number of calendar days between start and end, rounded
// up. A missing start yields 0; a zero start is logged as malformed.
func (e *Engine) DaysBetween(start *time.Time, end time.Time) int {
	if start == nil {
		return 0
	}
	if start.IsZero() {
		e.logger.Warn().Msg("invalid start date")
		return 0
	}
	diff := end.Sub(*start)
	if diff < 0 {
		diff = -diff
	}
	return int(math.Ceil(float64(diff) / float64(day)))
}

// DaysInProcess counts from admission to release for released patients with
// a release date, and from admission to now otherwise.
func (e *Engine) DaysInProcess(p *patient.Patient) int {
	if p.AdmissionDate == nil {
		return 0
	}
	if p.Status == patient.StatusReleased && p.ReleaseDate != nil {
		return e.DaysBetween(p.AdmissionDate, *p.ReleaseDate)
	}
	return e.DaysBetween(p.AdmissionDate, e.now())
}

// AverageProcessingTime is the mean DaysInProcess over released patients,
// rounded to one decimal, or 0 when nobody has been released.
func (e *Engine) AverageProcessingTime(roster []*patient.Patient) float64 {
	total, released := 0, 0
	for _, p := range roster {
		if p.Status != patient.StatusReleased {
			continue
		}
		released++
		total += e.DaysInProcess(p)
	}
	if released == 0 {
		return 0
	}
	return format.Round(float64(total)/float64(released), 1)
}

// Row is a workflow step with the number of patients currently at it.
type Row struct {
	StepInfo
	PatientCount int `json:"patient_count"`
}

func countByStatus(roster []*patient.Patient) map[patient.Status]int {
	counts := make(map[patient.Status]int, len(Steps))
	for _, p := range roster {
		counts[p.Status]++
	}
	return counts
}

func Rows(roster []*patient.Patient) []Row {
	counts := countByStatus(roster)
	rows := make([]Row, len(Steps))
	for i, s := range Steps {
		rows[i] = Row{StepInfo: s, PatientCount: counts[s.Status]}
	}
	return rows
}

// Item is a step's share of the whole roster.
type Item struct {
	Title        patient.Status `json:"title"`
	Icon         string         `json:"icon"`
	Color        string         `json:"color"`
	PatientCount int            `json:"patient_count"`
	Percentage   float64        `json:"percentage"`
}

// Items reports each step's count and its percentage of the roster, to one
// decimal. An empty roster yields 0 percent everywhere.
func Items(roster []*patient.Patient) []Item {
	counts := countByStatus(roster)
	items := make([]Item, len(Steps))
	for i, s := range Steps {
		pct := 0.0
		if len(roster) > 0 {
			pct = format.Round(float64(counts[s.Status])/float64(len(roster))*100, 1)
		}
		items[i] = Item{Title: s.Status, Icon: s.Icon, Color: s.Color, PatientCount: counts[s.Status], Percentage: pct}
	}
	return items
}

// PatientRow is one patient's position in the workflow.
type PatientRow struct {
	PatientID            string         `json:"patient_id"`
	PatientName          string         `json:"patient_name"`
	CaseNumber           string         `json:"case_number"`
	CurrentStatus        patient.Status `json:"current_status"`
	WorkflowProgress     int            `json:"workflow_progress"`
	WorkflowProgressText string         `json:"workflow_progress_text"`
	DaysInProcess        int            `json:"days_in_process"`
	AdmissionDate        string         `json:"admission_date"`
}

func (e *Engine) PatientData(roster []*patient.Patient) []PatientRow {
	rows := make([]PatientRow, len(roster))
	for i, p := range roster {
		rows[i] = PatientRow{
			PatientID:            p.ID.String(),
			PatientName:          p.PatientName,
			CaseNumber:           p.CaseNumber,
			CurrentStatus:        p.Status,
			WorkflowProgress:     Progress(p.Status),
			WorkflowProgressText: ProgressText(p.Status),
			DaysInProcess:        e.DaysInProcess(p),
			AdmissionDate:        format.ISODate(p.AdmissionDate, ""),
		}
	}
	return rows
}

// Metric is a headline figure on the workflow page.
type Metric struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Text  string `json:"text"`
	Icon  string `json:"icon"`
}

func (e *Engine) Metrics(roster []*patient.Patient) []Metric {
	counts := patient.Count(roster)
	return []Metric{
		{
			Title: "Average Processing Time",
			Value: strconv.FormatFloat(e.AverageProcessingTime(roster), 'f', 1, 64) + " days",
			Text:  "From admission to release",
			Icon:  "mdi-clock-outline",
		},
		{
			Title: "Pending Approvals",
			Value: strconv.Itoa(counts.DischargeRequested),
			Text:  "Awaiting doctor review",
			Icon:  "mdi-file-clock-outline",
		},
		{
			Title: "Released Patients",
			Value: strconv.Itoa(counts.Released),
			Text:  "Patients released from hospital",
			Icon:  "mdi-account-check-outline",
		},
	}
}

// Overview bundles everything the workflow page shows.
type Overview struct {
	Steps                 []StepInfo                `json:"steps"`
	StatusColors          map[patient.Status]string `json:"status_colors"`
	Rows                  []Row                     `json:"rows"`
	Items                 []Item                    `json:"items"`
	Patients              []PatientRow              `json:"patients"`
	Metrics               []Metric                  `json:"metrics"`
	AverageProcessingTime float64                   `json:"average_processing_time"`
}

func (e *Engine) Overview(roster []*patient.Patient) Overview {
	return Overview{
		Steps:                 Steps,
		StatusColors:          StatusColors,
		Rows:                  Rows(roster),
		Items:                 Items(roster),
		Patients:              e.PatientData(roster),
		Metrics:               e.Metrics(roster),
		AverageProcessingTime: e.AverageProcessingTime(roster),
	}
}

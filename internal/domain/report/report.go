// Package report groups a filtered patient roster into the statistics and
// chart datasets shown on the reports page, and renders CSV and PDF exports
// of the same rows.
package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mediclear/mediclear/internal/domain/patient"
	"github.com/mediclear/mediclear/internal/domain/search"
	"github.com/mediclear/mediclear/pkg/format"
)

const (
	Unassigned = "Unassigned"

	GenderMale   = "Male"
	GenderFemale = "Female"
	GenderOther  = "Other"

	monthLayout = "Jan 2006"
)

// Filter selects the patients a report covers. The date range applies only
// when both ends are set and covers the whole of both days.
type Filter struct {
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
	Ward   string     `json:"ward"`
	Status string     `json:"status"`
}

func DefaultFilter() Filter {
	return Filter{Ward: search.AllWards, Status: search.AllStatuses}
}

func (f Filter) Normalize() Filter {
	f.Ward = strings.TrimSpace(f.Ward)
	f.Status = strings.TrimSpace(f.Status)
	if f.Ward == "" {
		f.Ward = search.AllWards
	}
	if f.Status == "" {
		f.Status = search.AllStatuses
	}
	return f
}

// HasDateRange reports whether the admission date filter is active.
func (f Filter) HasDateRange() bool {
	return f.From != nil && f.To != nil
}

// FilterFromContext reads ?from, ?to, ?ward and ?status.
func FilterFromContext(c echo.Context) (Filter, error) {
	return ParseFilter(c.QueryParam("from"), c.QueryParam("to"), c.QueryParam("ward"), c.QueryParam("status"))
}

// ParseFilter builds a Filter from form values. Dates are YYYY-MM-DD and may
// be blank.
func ParseFilter(from, to, ward, status string) (Filter, error) {
	f := Filter{Ward: ward, Status: status}
	for _, q := range []struct {
		name  string
		value string
		dst   **time.Time
	}{{"from", from, &f.From}, {"to", to, &f.To}} {
		v := strings.TrimSpace(q.value)
		if v == "" {
			continue
		}
		t, err := time.Parse(format.ISODateLayout, v)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid %s date: %q", q.name, v)
		}
		*q.dst = &t
	}
	return f.Normalize(), nil
}

// Bucket is one labelled count. Distributions are ordered slices so that the
// JSON and the exports keep a stable order.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type Distribution []Bucket

// Get returns the count for label, 0 when absent.
func (d Distribution) Get(label string) int {
	for _, b := range d {
		if b.Label == label {
			return b.Count
		}
	}
	return 0
}

func (d Distribution) Labels() []string {
	out := make([]string, len(d))
	for i, b := range d {
		out[i] = b.Label
	}
	return out
}

func (d Distribution) Counts() []int {
	out := make([]int, len(d))
	for i, b := range d {
		out[i] = b.Count
	}
	return out
}

func (d Distribution) add(label string) Distribution {
	for i := range d {
		if d[i].Label == label {
			d[i].Count++
			return d
		}
	}
	return append(d, Bucket{Label: label, Count: 1})
}

// Engine applies filters and computes the statistics. Malformed rows are
// logged and bucketed, never rejected.
type Engine struct {
	logger zerolog.Logger
	now    func() time.Time
}

func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger.With().Str("component", "report").Logger(), now: time.Now}
}

// Apply returns the patients matching f in roster order. With a date range
// set, patients without an admission date are left out.
func (e *Engine) Apply(roster []*patient.Patient, f Filter) []*patient.Patient {
	f = f.Normalize()
	var start, end time.Time
	if f.HasDateRange() {
		start, end = format.StartOfDay(*f.From), format.EndOfDay(*f.To)
	}
	out := make([]*patient.Patient, 0, len(roster))
	for _, p := range roster {
		if f.HasDateRange() {
			if p.AdmissionDate == nil || p.AdmissionDate.IsZero() {
				e.logger.Warn().Str("patient_id", p.ID.String()).Msg("patient without admission date left out of dated report")
				continue
			}
			if p.AdmissionDate.Before(start) || p.AdmissionDate.After(end) {
				continue
			}
		}
		if f.Ward != search.AllWards && p.Ward != f.Ward {
			continue
		}
		if f.Status != search.AllStatuses && string(p.Status) != f.Status {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ByStatus always carries the four workflow statuses in order.
func ByStatus(patients []*patient.Patient) Distribution {
	d := make(Distribution, len(patient.Statuses))
	for i, s := range patient.Statuses {
		d[i] = Bucket{Label: string(s)}
	}
	for _, p := range patients {
		for i := range d {
			if d[i].Label == string(p.Status) {
				d[i].Count++
			}
		}
	}
	return d
}

// ByWard groups by ward in order of first appearance.
func ByWard(patients []*patient.Patient) Distribution {
	d := Distribution{}
	for _, p := range patients {
		d = d.add(format.OrDefault(p.Ward, Unassigned))
	}
	return d
}

// Gender reads the second token of an "age/gender" value such as "30/F".
// Anything but a lone M or F, including a missing or extra token, is Other.
func Gender(ageGender string) string {
	parts := strings.Split(ageGender, "/")
	if len(parts) != 2 {
		return GenderOther
	}
	switch strings.ToUpper(strings.TrimSpace(parts[1])) {
	case "M":
		return GenderMale
	case "F":
		return GenderFemale
	}
	return GenderOther
}

// Age reads the leading integer of the first "age/gender" token; "45y" is 45.
// It returns false when there is no leading number.
func Age(ageGender string) (int, bool) {
	first, _, _ := strings.Cut(ageGender, "/")
	first = strings.TrimSpace(first)
	end := strings.IndexFunc(first, func(r rune) bool { return !unicode.IsDigit(r) })
	if end == -1 {
		end = len(first)
	}
	n, err := strconv.Atoi(first[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (e *Engine) ByGender(patients []*patient.Patient) Distribution {
	d := Distribution{{Label: GenderMale}, {Label: GenderFemale}, {Label: GenderOther}}
	for _, p := range patients {
		g := Gender(p.AgeGender)
		if g == GenderOther {
			e.logger.Debug().Str("patient_id", p.ID.String()).Str("age_gender", p.AgeGender).Msg("gender not recognised")
		}
		for i := range d {
			if d[i].Label == g {
				d[i].Count++
			}
		}
	}
	return d
}

// AverageAge is the rounded mean age. Patients whose age cannot be read count
// as 0 and still count towards the denominator.
func (e *Engine) AverageAge(patients []*patient.Patient) int {
	if len(patients) == 0 {
		return 0
	}
	total := 0
	for _, p := range patients {
		age, ok := Age(p.AgeGender)
		if !ok {
			e.logger.Debug().Str("patient_id", p.ID.String()).Str("age_gender", p.AgeGender).Msg("age not recognised")
		}
		total += age
	}
	return int(format.Round(float64(total)/float64(len(patients)), 0))
}

// ByMonth counts admissions per "Jan 2006" month, oldest first.
func ByMonth(patients []*patient.Patient) Distribution {
	months := map[time.Time]int{}
	for _, p := range patients {
		if p.AdmissionDate == nil || p.AdmissionDate.IsZero() {
			continue
		}
		y, m, _ := p.AdmissionDate.Date()
		months[time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)]++
	}
	keys := make([]time.Time, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	d := make(Distribution, len(keys))
	for i, k := range keys {
		d[i] = Bucket{Label: k.Format(monthLayout), Count: months[k]}
	}
	return d
}

// Dataset and ChartData follow the shape chart libraries consume.
type Dataset struct {
	Label           string   `json:"label"`
	Data            []int    `json:"data"`
	BackgroundColor []string `json:"backgroundColor"`
	BorderColor     string   `json:"borderColor,omitempty"`
	BorderWidth     int      `json:"borderWidth,omitempty"`
}

type ChartData struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

type Charts struct {
	Status  ChartData `json:"status"`
	Ward    ChartData `json:"ward"`
	Gender  ChartData `json:"gender"`
	Monthly ChartData `json:"monthly"`
}

var (
	statusPalette = []string{"#2196F3", "#FF9800", "#4CAF50", "#9E9E9E"}
	wardPalette   = []string{"#F44336", "#E91E63", "#9C27B0", "#673AB7", "#3F51B5", "#2196F3"}
	genderPalette = []string{"#2196F3", "#E91E63", "#9E9E9E"}
)

func chart(label string, d Distribution, colors []string) ChartData {
	return ChartData{
		Labels:   d.Labels(),
		Datasets: []Dataset{{Label: label, Data: d.Counts(), BackgroundColor: colors}},
	}
}

// Summary is everything the reports page renders for one filter.
type Summary struct {
	GeneratedAt   time.Time    `json:"generated_at"`
	Filter        Filter       `json:"filter"`
	Total         int          `json:"total"`
	ByStatus      Distribution `json:"by_status"`
	ByWard        Distribution `json:"by_ward"`
	ByGender      Distribution `json:"by_gender"`
	ByMonth       Distribution `json:"by_month"`
	AverageAge    int          `json:"average_age"`
	Charts        Charts       `json:"charts"`
	WardOptions   []string     `json:"ward_options"`
	StatusOptions []string     `json:"status_options"`
}

// Report is a summary together with the rows it was computed from.
type Report struct {
	Summary  Summary            `json:"summary"`
	Patients []*patient.Patient `json:"patients"`
}

func (e *Engine) Build(roster []*patient.Patient, f Filter) Report {
	f = f.Normalize()
	patients := e.Apply(roster, f)
	byMonth := ByMonth(patients)
	monthly := chart("Admissions by Month", byMonth, []string{"#2196F3"})
	monthly.Datasets[0].BorderColor = "#1976D2"
	monthly.Datasets[0].BorderWidth = 2

	s := Summary{
		GeneratedAt:   e.now(),
		Filter:        f,
		Total:         len(patients),
		ByStatus:      ByStatus(patients),
		ByWard:        ByWard(patients),
		ByGender:      e.ByGender(patients),
		ByMonth:       byMonth,
		AverageAge:    e.AverageAge(patients),
		WardOptions:   search.WardOptions,
		StatusOptions: search.StatusOptions,
	}
	s.Charts = Charts{
		Status:  chart("Patients by Status", s.ByStatus, statusPalette),
		Ward:    chart("Patients by Ward", s.ByWard, wardPalette),
		Gender:  chart("Patients by Gender", s.ByGender, genderPalette),
		Monthly: monthly,
	}
	return Report{Summary: s, Patients: patients}
}

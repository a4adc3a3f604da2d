package patient

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mediclear/mediclear/internal/platform/auth"
)

// Status is a patient's position in the discharge workflow.
type Status string

const (
	StatusAdmitted           Status = "Admitted"
	StatusDischargeRequested Status = "Discharge Requested"
	StatusApproved           Status = "Approved"
	StatusReleased           Status = "Released"
)

// Statuses lists the workflow statuses in order.
var Statuses = []Status{StatusAdmitted, StatusDischargeRequested, StatusApproved, StatusReleased}

func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.TrimSpace(s))
	if !st.Valid() {
		return "", fmt.Errorf("invalid status: %q", s)
	}
	return st, nil
}

type Patient struct {
	ID                   uuid.UUID  `json:"patient_id"`
	CaseNumber           string     `json:"case_number"`
	PatientName          string     `json:"patient_name"`
	DateOfBirth          time.Time  `json:"date_of_birth"`
	AgeGender            string     `json:"age_gender"`
	Ward                 string     `json:"ward"`
	AdmissionDate        *time.Time `json:"admission_date"`
	ReleaseDate          *time.Time `json:"release_date"`
	Status               Status     `json:"status"`
	AttendingPhysicianID *uuid.UUID `json:"attending_physician,omitempty"`
	AttendingDoctorName  string     `json:"attending_doctor_name"`
	ContactNumber        string     `json:"contact_number"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Clone returns a copy that shares no pointers with p.
func (p *Patient) Clone() *Patient {
	cp := *p
	if p.AdmissionDate != nil {
		d := *p.AdmissionDate
		cp.AdmissionDate = &d
	}
	if p.ReleaseDate != nil {
		d := *p.ReleaseDate
		cp.ReleaseDate = &d
	}
	if p.AttendingPhysicianID != nil {
		id := *p.AttendingPhysicianID
		cp.AttendingPhysicianID = &id
	}
	return &cp
}

func (p *Patient) physician() string {
	if p.AttendingPhysicianID == nil {
		return ""
	}
	return p.AttendingPhysicianID.String()
}

var (
	ErrNotFound             = errors.New("patient not found")
	ErrTransitionNotAllowed = errors.New("status transition not allowed")
)

// ValidationError reports a missing or malformed field on a patient.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validate checks the fields every stored patient must carry.
func Validate(p *Patient) error {
	if strings.TrimSpace(p.CaseNumber) == "" {
		return &ValidationError{Field: "case_number", Message: "Case number is required"}
	}
	if strings.TrimSpace(p.PatientName) == "" {
		return &ValidationError{Field: "patient_name", Message: "Patient name is required"}
	}
	if p.DateOfBirth.IsZero() {
		return &ValidationError{Field: "date_of_birth", Message: "Date of birth is required"}
	}
	if p.Status != "" && !p.Status.Valid() {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("invalid status: %s", p.Status)}
	}
	return nil
}

// NextStatus returns the status a patient moves to when the given role
// advances it. Nurses request discharge, doctors approve, and either may
// release an approved patient.
func NextStatus(from Status, role string) (Status, error) {
	var to Status
	var allowed []string
	switch from {
	case StatusAdmitted:
		to, allowed = StatusDischargeRequested, []string{auth.RoleNurse}
	case StatusDischargeRequested:
		to, allowed = StatusApproved, []string{auth.RoleDoctor}
	case StatusApproved:
		to, allowed = StatusReleased, []string{auth.RoleNurse, auth.RoleDoctor}
	default:
		return "", fmt.Errorf("%w: %s is final", ErrTransitionNotAllowed, from)
	}
	if !auth.HasRole([]string{role}, allowed...) {
		return "", fmt.Errorf("%w: %s cannot move %s to %s", ErrTransitionNotAllowed, role, from, to)
	}
	return to, nil
}

// VisibleTo reports whether the row policies let the caller see p: nurses and
// admins see every patient, doctors only those they attend.
func VisibleTo(p *Patient, role, userID string) bool {
	switch role {
	case auth.RoleNurse, auth.RoleAdmin:
		return true
	case auth.RoleDoctor:
		return userID != "" && p.physician() == userID
	}
	return false
}

// Counts summarizes a roster by workflow status.
type Counts struct {
	Total              int `json:"total"`
	Admitted           int `json:"admitted"`
	DischargeRequested int `json:"discharge_requested"`
	Approved           int `json:"approved"`
	Released           int `json:"released"`
}

func Count(patients []*Patient) Counts {
	c := Counts{Total: len(patients)}
	for _, p := range patients {
		switch p.Status {
		case StatusAdmitted:
			c.Admitted++
		case StatusDischargeRequested:
			c.DischargeRequested++
		case StatusApproved:
			c.Approved++
		case StatusReleased:
			c.Released++
		}
	}
	return c
}

// StatCard is one tile on the doctor dashboard.
type StatCard struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
	Count int    `json:"count"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// DoctorDashboard is what a doctor sees on landing: the patients waiting for
// approval and the approval pipeline totals.
type DoctorDashboard struct {
	Discharging []*Patient `json:"discharging_patients"`
	Stats       []StatCard `json:"stats"`
}

func NewDoctorDashboard(patients []*Patient) DoctorDashboard {
	counts := Count(patients)
	discharging := make([]*Patient, 0)
	for _, p := range patients {
		if p.Status == StatusDischargeRequested {
			discharging = append(discharging, p)
		}
	}
	return DoctorDashboard{
		Discharging: discharging,
		Stats: []StatCard{
			{ID: 1, Title: "Pending Approvals", Text: "Requiring your review", Count: counts.DischargeRequested, Color: "orange", Icon: "mdi-clock-alert-outline"},
			{ID: 2, Title: "Approved Patients", Text: "Ready for discharge", Count: counts.Approved, Color: "green", Icon: "mdi-check-circle-outline"},
			{ID: 3, Title: "Released Patients", Text: "Successfully discharged", Count: counts.Released, Color: "blue", Icon: "mdi-exit-to-app"},
		},
	}
}

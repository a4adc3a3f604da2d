package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediclear/mediclear/internal/platform/auth"
	"github.com/mediclear/mediclear/internal/platform/db"
	"github.com/mediclear/mediclear/internal/platform/websocket"
	"github.com/mediclear/mediclear/pkg/format"
)

const (
	EventCreated       = "patient.created"
	EventUpdated       = "patient.updated"
	EventStatusChanged = "patient.status_changed"
	EventDeleted       = "patient.deleted"
)

// Service holds what every Directory shares: the repository, the event hub
// and the policy re-check switch.
type Service struct {
	repo    Repository
	logger  zerolog.Logger
	events  websocket.EventPublisher
	metrics *Metrics
	verify  bool
	now     func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "patient").Logger(),
		now:    time.Now,
	}
}

// SetEventPublisher attaches the hub that receives roster changes.
func (s *Service) SetEventPublisher(p websocket.EventPublisher) { s.events = p }

func (s *Service) SetMetrics(m *Metrics) { s.metrics = m }

// SetVerifyRowPolicy re-applies the row policies to every fetched roster and
// drops, counts and logs rows the database should not have returned.
func (s *Service) SetVerifyRowPolicy(on bool) { s.verify = on }

// Directory returns an empty roster container for one request.
func (s *Service) Directory() *Directory {
	return &Directory{svc: s}
}

func (s *Service) today() *time.Time {
	d := format.StartOfDay(s.now().UTC())
	return &d
}

func (s *Service) publish(ctx context.Context, eventType string, p *Patient) {
	if s.events == nil {
		return
	}
	var data json.RawMessage
	if eventType != EventDeleted {
		data, _ = json.Marshal(p)
	}
	err := s.events.Publish(ctx, websocket.Event{
		Type:        eventType,
		Topic:       websocket.TopicRoster,
		PatientID:   p.ID.String(),
		Data:        data,
		PhysicianID: p.physician(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("type", eventType).Msg("failed to publish roster event")
	}
}

func callerScope(ctx context.Context) (role, userID string, ok bool) {
	if sc, ok := db.ScopeFromContext(ctx); ok {
		return sc.Role, sc.UserID, true
	}
	if uid := auth.UserIDFromContext(ctx); uid != "" {
		return auth.RoleFromContext(ctx), uid, true
	}
	return "", "", false
}

func (s *Service) enforce(ctx context.Context, items []*Patient) []*Patient {
	if !s.verify {
		return items
	}
	role, userID, ok := callerScope(ctx)
	if !ok {
		return items
	}
	kept := make([]*Patient, 0, len(items))
	rejected := 0
	for _, p := range items {
		if VisibleTo(p, role, userID) {
			kept = append(kept, p)
			continue
		}
		rejected++
		s.logger.Error().
			Str("patient_id", p.ID.String()).
			Str("role", role).
			Str("user_id", userID).
			Msg("row policy mismatch: database returned a patient outside the caller's scope")
	}
	s.metrics.mismatch(rejected)
	return kept
}

// Directory is the per-request patient roster: the fetched patients, the
// patient currently being viewed and the CRUD operations that keep both in
// step with the database. A failed backend call leaves the state untouched.
type Directory struct {
	svc *Service

	mu       sync.RWMutex
	patients []*Patient
	current  *Patient
}

// Fetch replaces the roster with the patients visible to the caller.
func (d *Directory) Fetch(ctx context.Context) error {
	items, err := d.svc.repo.List(ctx)
	if err != nil {
		d.svc.logger.Error().Err(err).Msg("error fetching patients")
		return fmt.Errorf("fetch patients: %w", err)
	}
	items = d.svc.enforce(ctx, items)
	if items == nil {
		items = []*Patient{}
	}

	d.mu.Lock()
	d.patients = items
	d.mu.Unlock()
	return nil
}

// Patients returns the roster snapshot. Callers must treat it as read-only.
func (d *Directory) Patients() []*Patient {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Patient, len(d.patients))
	copy(out, d.patients)
	return out
}

func (d *Directory) Counts() Counts {
	return Count(d.Patients())
}

func (d *Directory) DoctorDashboard() DoctorDashboard {
	return NewDoctorDashboard(d.Patients())
}

// Find looks a patient up in the loaded roster only.
func (d *Directory) Find(id uuid.UUID) (*Patient, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.patients {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Current is the patient last loaded with Get, or nil.
func (d *Directory) Current() *Patient {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Get returns the patient from the roster when loaded, otherwise from the
// database, and makes it the current patient. A miss clears the current
// patient.
func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	if p, ok := d.Find(id); ok {
		d.setCurrent(p)
		return p, nil
	}

	p, err := d.svc.repo.GetByID(ctx, id)
	if err == nil && len(d.svc.enforce(ctx, []*Patient{p})) == 0 {
		err = ErrNotFound
	}
	if err != nil {
		d.setCurrent(nil)
		if errors.Is(err, ErrNotFound) {
			d.svc.logger.Info().Str("patient_id", id.String()).Msg("patient not found")
			return nil, ErrNotFound
		}
		d.svc.logger.Error().Err(err).Str("patient_id", id.String()).Msg("error fetching patient")
		return nil, fmt.Errorf("get patient: %w", err)
	}
	d.setCurrent(p)
	return p, nil
}

func (d *Directory) setCurrent(p *Patient) {
	d.mu.Lock()
	d.current = p
	d.mu.Unlock()
}

// Add admits a new patient. Admission date defaults to today and status to
// Admitted. The patient joins the roster only if one has been fetched.
func (d *Directory) Add(ctx context.Context, p *Patient) error {
	p.CaseNumber = strings.TrimSpace(p.CaseNumber)
	p.PatientName = strings.TrimSpace(p.PatientName)
	if p.Status == "" {
		p.Status = StatusAdmitted
	}
	if p.AdmissionDate == nil {
		p.AdmissionDate = d.svc.today()
	}
	if err := Validate(p); err != nil {
		return err
	}
	if p.Status == StatusReleased && p.ReleaseDate == nil {
		p.ReleaseDate = d.svc.today()
	}

	if err := d.svc.repo.Create(ctx, p); err != nil {
		d.svc.logger.Error().Err(err).Str("case_number", p.CaseNumber).Msg("error adding patient")
		return fmt.Errorf("add patient: %w", err)
	}

	d.mu.Lock()
	if d.patients != nil {
		d.patients = append([]*Patient{p}, d.patients...)
	}
	d.mu.Unlock()

	d.svc.publish(ctx, EventCreated, p)
	return nil
}

// Update saves the editable fields of p. An empty status and missing
// admission or release dates keep the stored values.
func (d *Directory) Update(ctx context.Context, p *Patient) error {
	p.CaseNumber = strings.TrimSpace(p.CaseNumber)
	p.PatientName = strings.TrimSpace(p.PatientName)
	if err := Validate(p); err != nil {
		return err
	}
	prev, err := d.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	if p.Status == "" {
		p.Status = prev.Status
	}
	if p.AdmissionDate == nil {
		p.AdmissionDate = prev.AdmissionDate
	}
	if p.ReleaseDate == nil {
		p.ReleaseDate = prev.ReleaseDate
	}
	return d.save(ctx, prev.Status, p)
}

// Advance moves the patient one step along the workflow on behalf of role.
func (d *Directory) Advance(ctx context.Context, id uuid.UUID, role string) (*Patient, error) {
	prev, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := NextStatus(prev.Status, role)
	if err != nil {
		return nil, err
	}
	p := prev.Clone()
	p.Status = next
	if err := d.save(ctx, prev.Status, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Directory) save(ctx context.Context, from Status, p *Patient) error {
	if p.Status == StatusReleased && p.ReleaseDate == nil {
		p.ReleaseDate = d.svc.today()
	}
	if err := d.svc.repo.Update(ctx, p); err != nil {
		if errors.Is(err, ErrNotFound) {
			d.forget(p.ID)
			return ErrNotFound
		}
		d.svc.logger.Error().Err(err).Str("patient_id", p.ID.String()).Msg("error updating patient")
		return fmt.Errorf("update patient: %w", err)
	}

	d.mu.Lock()
	replaced := false
	for i, existing := range d.patients {
		if existing.ID == p.ID {
			d.patients[i] = p
			replaced = true
			break
		}
	}
	if !replaced && d.patients != nil {
		d.patients = append(d.patients, p)
	}
	d.current = p
	d.mu.Unlock()

	if from != p.Status {
		d.svc.metrics.transition(from, p.Status)
		d.svc.logger.Info().
			Str("patient_id", p.ID.String()).
			Str("from", string(from)).
			Str("to", string(p.Status)).
			Msg("patient status changed")
		d.svc.publish(ctx, EventStatusChanged, p)
		return nil
	}
	d.svc.publish(ctx, EventUpdated, p)
	return nil
}

func (d *Directory) Delete(ctx context.Context, id uuid.UUID) error {
	prev, err := d.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := d.svc.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			d.forget(id)
			return ErrNotFound
		}
		d.svc.logger.Error().Err(err).Str("patient_id", id.String()).Msg("error deleting patient")
		return fmt.Errorf("delete patient: %w", err)
	}
	d.forget(id)
	d.svc.publish(ctx, EventDeleted, prev)
	return nil
}

func (d *Directory) forget(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.patients != nil {
		kept := make([]*Patient, 0, len(d.patients))
		for _, p := range d.patients {
			if p.ID != id {
				kept = append(kept, p)
			}
		}
		d.patients = kept
	}
	if d.current != nil && d.current.ID == id {
		d.current = nil
	}
}

// Reset empties the roster and the current patient.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients = nil
	d.current = nil
}

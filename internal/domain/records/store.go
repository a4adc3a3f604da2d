package records

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store holds one patient's records of a single Kind and keeps the list in
// step with the repository. Failed writes leave the list untouched.
type Store[T any] struct {
	kind   *Kind[T]
	repo   Repository[T]
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	patientID uuid.UUID
	items     []*T
}

func NewStore[T any](kind *Kind[T], repo Repository[T], logger zerolog.Logger) *Store[T] {
	return &Store[T]{
		kind:   kind,
		repo:   repo,
		logger: logger.With().Str("record", kind.Name).Logger(),
		now:    time.Now,
	}
}

func (s *Store[T]) Kind() *Kind[T] { return s.kind }

// Load replaces the list with the records of patientID.
func (s *Store[T]) Load(ctx context.Context, patientID uuid.UUID) error {
	items, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		s.logger.Error().Err(err).Str("patient_id", patientID.String()).Msgf("error fetching %s", s.kind.Label)
		return fmt.Errorf("load %s: %w", s.kind.Label, err)
	}
	if items == nil {
		items = []*T{}
	}
	s.mu.Lock()
	s.patientID = patientID
	s.items = items
	s.mu.Unlock()
	return nil
}

func (s *Store[T]) Items() []*T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*T, len(s.items))
	copy(out, s.items)
	return out
}

// Latest is the newest record, or nil when the patient has none.
func (s *Store[T]) Latest() *T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.items) == 0 {
		return nil
	}
	return s.items[0]
}

func (s *Store[T]) Add(ctx context.Context, patientID uuid.UUID, item *T) error {
	*s.kind.PatientID(item) = patientID
	*s.kind.ID(item) = uuid.Nil
	s.kind.prepare(item, s.now())
	if err := s.kind.validate(item); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, item); err != nil {
		if !errors.Is(err, ErrPatientNotFound) {
			s.logger.Error().Err(err).Str("patient_id", patientID.String()).Msgf("error adding %s", s.kind.Label)
		}
		return err
	}

	s.mu.Lock()
	if s.items != nil && s.patientID == patientID {
		s.items = append([]*T{item}, s.items...)
	}
	s.mu.Unlock()
	return nil
}

// Update saves item under id. The owning patient cannot change.
func (s *Store[T]) Update(ctx context.Context, id uuid.UUID, item *T) error {
	*s.kind.ID(item) = id
	if err := s.kind.validate(item); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, item); err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error().Err(err).Str("id", id.String()).Msgf("error updating %s", s.kind.Label)
		}
		return err
	}

	s.mu.Lock()
	for i, existing := range s.items {
		if *s.kind.ID(existing) == id {
			s.items[i] = item
			break
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Store[T]) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error().Err(err).Str("id", id.String()).Msgf("error deleting %s", s.kind.Label)
		}
		return err
	}

	s.mu.Lock()
	if s.items != nil {
		kept := make([]*T, 0, len(s.items))
		for _, existing := range s.items {
			if *s.kind.ID(existing) != id {
				kept = append(kept, existing)
			}
		}
		s.items = kept
	}
	s.mu.Unlock()
	return nil
}

func (s *Store[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patientID = uuid.Nil
	s.items = nil
}

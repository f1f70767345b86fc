package booking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/vzale/apptbooking/config"
	"github.com/vzale/apptbooking/internal/cache"
	"github.com/vzale/apptbooking/internal/domain"
	"github.com/vzale/apptbooking/internal/kafka"
	"github.com/vzale/apptbooking/internal/repository"
	"github.com/vzale/apptbooking/internal/service/slots"
)

type UseCase interface {
	Book(ctx context.Context, input BookInput) (*domain.Appointment, error)
	Reschedule(ctx context.Context, id int64, newAt time.Time) (*domain.Appointment, error)
	Cancel(ctx context.Context, id int64) (*domain.Appointment, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type Webhook interface {
	Notify(ctx context.Context, event kafka.AppointmentEvent) error
}

type Broadcaster interface {
	SlotChanged(event, date string, staffID int64, slot string)
}

type BookInput struct {
	Name           string
	Email          string
	Phone          string
	StaffID        int64
	ServiceID      int64
	ScheduledAt    time.Time
	IdempotencyKey string
	ClientID       string
}

// Service is the atomic booking engine. Steps up to the commit run inside
// one database transaction and roll back together; everything after the
// commit is best-effort and can never undo the booking.
type Service struct {
	repo    repository.AppointmentRepository
	store   cache.EphemeralStore
	locks   *slots.LockManager
	tracker *slots.SelectionTracker
	cfg     config.BookingConfig
	hours   domain.BusinessHours

	producer    Producer
	topic       string
	webhook     Webhook
	broadcaster Broadcaster

	now func() time.Time
}

type Option func(*Service)

func WithProducer(p Producer, topic string) Option {
	return func(s *Service) {
		s.producer = p
		s.topic = topic
	}
}

func WithWebhook(w Webhook) Option {
	return func(s *Service) {
		s.webhook = w
	}
}

func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) {
		s.broadcaster = b
	}
}

func NewService(repo repository.AppointmentRepository, store cache.EphemeralStore, locks *slots.LockManager, tracker *slots.SelectionTracker, cfg config.BookingConfig, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		store:   store,
		locks:   locks,
		tracker: tracker,
		cfg:     cfg,
		hours:   cfg.Hours(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// idempotencyKey returns the caller-supplied key or derives one from the
// request identity bucketed to the minute, so an identical retried submit
// hashes the same.
func idempotencyKey(input BookInput) string {
	if input.IdempotencyKey != "" {
		return input.IdempotencyKey
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", input.Email, input.StaffID, input.ScheduledAt.Truncate(time.Minute).Unix())))
	return hex.EncodeToString(sum[:])
}

func (s *Service) Book(ctx context.Context, input BookInput) (*domain.Appointment, error) {
	if input.Name == "" || input.Email == "" || input.StaffID == 0 || input.ServiceID == 0 || input.ScheduledAt.IsZero() {
		return nil, domain.Invalid(domain.ReasonMissingField)
	}
	at := input.ScheduledAt.UTC()

	key := idempotencyKey(input)
	if _, err := s.repo.FindRecentByKey(ctx, key, s.now().Add(-s.cfg.DedupWindow())); err == nil {
		s.releaseClientHolds(ctx, input.StaffID, at, input.ClientID)
		return nil, domain.ErrDuplicateSubmission
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.StorageError{Err: err}
	}

	appt := &domain.Appointment{
		CustomerName:   input.Name,
		Email:          input.Email,
		Phone:          input.Phone,
		ScheduledAt:    at,
		ServiceID:      input.ServiceID,
		StaffID:        input.StaffID,
		IdempotencyKey: key,
	}

	guard := func(ctx context.Context) error {
		if reason := s.hours.CheckBookable(at, s.now().UTC()); reason != "" {
			return domain.Invalid(reason)
		}
		attempts, err := s.store.Increment(ctx, cache.BookingRateKey(input.Email), s.cfg.AttemptWindow())
		if err != nil {
			return err
		}
		if attempts > int64(s.cfg.AttemptLimit) {
			return domain.Invalid(domain.ReasonRateLimited)
		}
		return nil
	}

	if err := s.repo.Book(ctx, appt, guard); err != nil {
		// The attempt is over either way; a failed booking must not strand
		// the client's processing lock for its full TTL.
		s.releaseClientHolds(ctx, input.StaffID, at, input.ClientID)
		if errors.Is(err, repository.ErrSlotConflict) {
			return nil, s.slotTaken(ctx, input.StaffID, at)
		}
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		return nil, &domain.StorageError{Err: err}
	}

	s.afterCommit(ctx, "booking_confirmed", appt, input.ClientID)
	return appt, nil
}

// slotTaken builds the conflict error with up to three alternative open
// slots for the same staff and day.
func (s *Service) slotTaken(ctx context.Context, staffID int64, at time.Time) error {
	taken := &domain.SlotTakenError{}
	day := at.Truncate(24 * time.Hour)
	appts, err := s.repo.ListDay(ctx, staffID, day, day.AddDate(0, 0, 1), 0)
	if err != nil {
		log.Printf("alternative slots lookup failed: %v", err)
		return taken
	}
	booked := make([]string, 0, len(appts))
	for _, a := range appts {
		booked = append(booked, a.ScheduledAt.UTC().Format(domain.SlotLayout))
	}
	requested := at.Format(domain.SlotLayout)
	for _, slot := range s.hours.OpenSlots(booked) {
		if slot == requested {
			continue
		}
		taken.Alternatives = append(taken.Alternatives, slot)
		if len(taken.Alternatives) == 3 {
			break
		}
	}
	return taken
}

// Reschedule runs the reduced pipeline: time validation plus the locked
// conflict check against the new slot only.
func (s *Service) Reschedule(ctx context.Context, id int64, newAt time.Time) (*domain.Appointment, error) {
	newAt = newAt.UTC()
	if reason := s.hours.CheckBookable(newAt, s.now().UTC()); reason != "" {
		return nil, domain.Invalid(reason)
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	oldAt := current.ScheduledAt

	updated, err := s.repo.Reschedule(ctx, id, newAt)
	if err != nil {
		if errors.Is(err, repository.ErrSlotConflict) {
			return nil, s.slotTaken(ctx, current.StaffID, newAt)
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, &domain.StorageError{Err: err}
	}

	s.invalidateDay(ctx, updated.StaffID, oldAt)
	s.afterCommit(ctx, "booking_rescheduled", updated, "")
	return updated, nil
}

// Cancel is idempotent: cancelling an already-cancelled appointment is a
// success, not an error.
func (s *Service) Cancel(ctx context.Context, id int64) (*domain.Appointment, error) {
	appt, err := s.repo.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, &domain.StorageError{Err: err}
	}
	s.afterCommit(ctx, "booking_cancelled", appt, "")
	return appt, nil
}

// releaseClientHolds drops the client's selection and advisory lock for the
// attempted slot. Runs on both outcomes of a booking attempt: the lock is
// advisory and must never outlive the attempt that took it.
func (s *Service) releaseClientHolds(ctx context.Context, staffID int64, at time.Time, clientID string) {
	if clientID == "" {
		return
	}
	date := at.UTC().Format(domain.DateLayout)
	slot := at.UTC().Format(domain.SlotLayout)
	if err := s.tracker.Clear(ctx, date, staffID, clientID); err != nil {
		log.Printf("selection release failed: %v", err)
	}
	if err := s.locks.ReleaseFor(ctx, date, staffID, slot, clientID); err != nil {
		log.Printf("slot lock release failed: %v", err)
	}
}

func (s *Service) invalidateDay(ctx context.Context, staffID int64, at time.Time) {
	date := at.UTC().Format(domain.DateLayout)
	if err := s.store.Delete(ctx, cache.DayCacheKey(date, staffID)); err != nil {
		log.Printf("day cache invalidation failed for %s staff %d: %v", date, staffID, err)
	}
}

// afterCommit runs the best-effort side effects. Failures are logged and
// never surfaced to the caller as a booking failure.
func (s *Service) afterCommit(ctx context.Context, event string, appt *domain.Appointment, clientID string) {
	date := appt.ScheduledAt.UTC().Format(domain.DateLayout)
	slot := appt.ScheduledAt.UTC().Format(domain.SlotLayout)

	s.invalidateDay(ctx, appt.StaffID, appt.ScheduledAt)
	s.releaseClientHolds(ctx, appt.StaffID, appt.ScheduledAt, clientID)

	payload := kafka.AppointmentEvent{
		Type:          event,
		AppointmentID: appt.ID,
		StrongID:      appt.StrongID,
		Email:         appt.Email,
		StaffID:       appt.StaffID,
		ScheduledAt:   appt.ScheduledAt,
		Status:        string(appt.Status),
	}
	if s.producer != nil && s.topic != "" {
		if err := s.producer.Publish(ctx, s.topic, appt.StrongID, payload); err != nil {
			log.Printf("publish %s event for %s failed: %v", event, appt.StrongID, err)
		}
	}
	if s.webhook != nil {
		if err := s.webhook.Notify(ctx, payload); err != nil {
			log.Printf("webhook %s for %s failed: %v", event, appt.StrongID, err)
		}
	}
	if s.broadcaster != nil {
		s.broadcaster.SlotChanged(event, date, appt.StaffID, slot)
	}
}

var _ UseCase = (*Service)(nil)

package booking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vzale/apptbooking/config"
	"github.com/vzale/apptbooking/internal/cache"
	"github.com/vzale/apptbooking/internal/domain"
	"github.com/vzale/apptbooking/internal/repository"
	"github.com/vzale/apptbooking/internal/service/slots"
)

// memRepo reproduces the repository's transactional contract in memory: the
// conflict check, the guard callback and the insert run under one lock, so
// concurrent callers serialize exactly like rows under SELECT ... FOR UPDATE.
type memRepo struct {
	mu     sync.Mutex
	nextID int64
	appts  []*domain.Appointment

	// now is swapped by tests that move the clock.
	now func() time.Time
}

func (r *memRepo) clock() time.Time {
	if r.now != nil {
		return r.now().UTC()
	}
	return time.Now().UTC()
}

func (r *memRepo) conflict(staffID int64, at time.Time, excludeID int64) bool {
	for _, a := range r.appts {
		if a.ID == excludeID || a.StaffID != staffID || !a.ScheduledAt.Equal(at) {
			continue
		}
		if a.Status == domain.StatusConfirmed || a.Status == domain.StatusCreated {
			return true
		}
	}
	return false
}

func (r *memRepo) Book(ctx context.Context, appt *domain.Appointment, guard func(context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflict(appt.StaffID, appt.ScheduledAt, 0) {
		return repository.ErrSlotConflict
	}
	if err := guard(ctx); err != nil {
		return err
	}
	if r.conflict(appt.StaffID, appt.ScheduledAt, 0) {
		return repository.ErrSlotConflict
	}
	r.nextID++
	appt.ID = r.nextID
	appt.CreatedAt = r.clock()
	appt.Status = domain.StatusConfirmed
	appt.StrongID = domain.StrongID(appt.ID, appt.CreatedAt)
	r.appts = append(r.appts, appt)
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id int64) (*domain.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.ID == id {
			copied := *a
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) FindRecentByKey(ctx context.Context, key string, since time.Time) (*domain.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.IdempotencyKey == key && a.CreatedAt.After(since) {
			copied := *a
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) ListDay(ctx context.Context, staffID int64, dayStart, dayEnd time.Time, excludeID int64) ([]domain.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Appointment
	for _, a := range r.appts {
		if a.StaffID != staffID || a.ID == excludeID || a.Status == domain.StatusCancelled {
			continue
		}
		if !a.ScheduledAt.Before(dayStart) && a.ScheduledAt.Before(dayEnd) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) Cancel(ctx context.Context, id int64) (*domain.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.ID == id {
			a.Status = domain.StatusCancelled
			copied := *a
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRepo) Reschedule(ctx context.Context, id int64, newAt time.Time) (*domain.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.ID != id {
			continue
		}
		if r.conflict(a.StaffID, newAt, id) {
			return nil, repository.ErrSlotConflict
		}
		if a.OriginalAt == nil {
			orig := a.ScheduledAt
			a.OriginalAt = &orig
		}
		now := time.Now().UTC()
		a.ScheduledAt = newAt
		a.RescheduledAt = &now
		copied := *a
		return &copied, nil
	}
	return nil, domain.ErrNotFound
}

var _ repository.AppointmentRepository = (*memRepo)(nil)

var bookingNow = time.Date(2025, 9, 8, 9, 0, 0, 0, time.UTC) // Monday

func testBookingConfig() config.BookingConfig {
	return config.BookingConfig{
		OpenTime:             "09:00",
		CloseTime:            "18:00",
		SlotIntervalMinutes:  30,
		WorkingDays:          []int{1, 2, 3, 4, 5},
		AdvanceDays:          30,
		PastBufferSeconds:    60,
		DedupWindowMinutes:   60,
		AttemptLimit:         3,
		AttemptWindowMinutes: 5,
	}
}

func newBookingService(repo *memRepo, store cache.EphemeralStore) (*Service, *slots.SelectionTracker, *slots.LockManager) {
	cfg := testBookingConfig()
	locks := slots.NewLockManager(store, 30*time.Second, 10*time.Minute, 100, time.Minute)
	tracker := slots.NewSelectionTracker(store, 10*time.Second)
	svc := NewService(repo, store, locks, tracker, cfg)
	svc.now = func() time.Time { return bookingNow }
	return svc, tracker, locks
}

func input(email string, at time.Time) BookInput {
	return BookInput{
		Name:        "Jane Roe",
		Email:       email,
		Phone:       "+15550100",
		StaffID:     1,
		ServiceID:   2,
		ScheduledAt: at,
	}
}

func TestBook_Success(t *testing.T) {
	repo := &memRepo{}
	svc, _, _ := newBookingService(repo, cache.NewMemoryStore())

	appt, err := svc.Book(context.Background(), input("jane@example.com", bookingNow.Add(time.Hour)))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), appt.ID)
	assert.Equal(t, domain.StatusConfirmed, appt.Status)
	assert.Equal(t, domain.StrongID(appt.ID, appt.CreatedAt), appt.StrongID)
	assert.NotEmpty(t, appt.IdempotencyKey)
}

func TestBook_ExactlyOneWinnerUnderContention(t *testing.T) {
	repo := &memRepo{}
	svc, _, _ := newBookingService(repo, cache.NewMemoryStore())
	at := bookingNow.Add(time.Hour)

	const contenders = 25
	results := make(chan error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := input(fmt.Sprintf("client%d@example.com", i), at)
			_, err := svc.Book(context.Background(), in)
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		var taken *domain.SlotTakenError
		assert.ErrorAs(t, err, &taken)
		conflicts++
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, contenders-1, conflicts)
	assert.Len(t, repo.appts, 1)
}

func TestBook_DuplicateSubmission(t *testing.T) {
	repo := &memRepo{}
	svc, _, _ := newBookingService(repo, cache.NewMemoryStore())
	in := input("jane@example.com", bookingNow.Add(time.Hour))

	_, err := svc.Book(context.Background(), in)
	assert.NoError(t, err)

	// Identical resubmit hashes to the same derived key inside the window.
	_, err = svc.Book(context.Background(), in)
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)
}

func TestBook_ExplicitIdempotencyKey(t *testing.T) {
	repo := &memRepo{}
	svc, _, _ := newBookingService(repo, cache.NewMemoryStore())

	first := input("jane@example.com", bookingNow.Add(time.Hour))
	first.IdempotencyKey = "req-42"
	_, err := svc.Book(context.Background(), first)
	assert.NoError(t, err)

	// Same key wins even when the payload differs.
	second := input("jane@example.com", bookingNow.Add(2*time.Hour))
	second.IdempotencyKey = "req-42"
	_, err = svc.Book(context.Background(), second)
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)
}

func TestBook_KeyReuseAfterDedupWindow(t *testing.T) {
	repo := &memRepo{}
	svc, _, _ := newBookingService(repo, cache.NewMemoryStore())
	clock := bookingNow
	svc.now = func() time.Time { return clock }
	repo.now = func() time.Time { return clock }
	ctx := context.Background()

	first := input("jane@example.com", bookingNow.Add(time.Hour))
	first.IdempotencyKey = "req-7"
	_, err := svc.Book(ctx, first)
	assert.NoError(t, err)

	// Inside the window the key still collides.
	second := input("jane@example.com", bookingNow.Add(2*time.Hour))
	second.IdempotencyKey = "req-7"
	_, err = svc.Book(ctx, second)
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)

	// Past the window the same key is a fresh attempt.
	clock = bookingNow.Add(61 * time.Minute)
	appt, err := svc.Book(ctx, second)
	assert.NoError(t, err)
	assert.Equal(t, bookingNow.Add(2*time.Hour), appt.ScheduledAt)
}

func TestBook_ValidationReasons(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*BookInput)
		reason string
	}{
		{"missing name", func(in *BookInput) { in.Name = "" }, domain.ReasonMissingField},
		{"missing staff", func(in *BookInput) { in.StaffID = 0 }, domain.ReasonMissingField},
		{"past slot", func(in *BookInput) { in.ScheduledAt = bookingNow.Add(-2 * time.Hour) }, domain.ReasonPastDate},
		{"outside hours", func(in *BookInput) { in.ScheduledAt = bookingNow.Add(10 * time.Hour) }, domain.ReasonOutsideHours},
		{"non-working day", func(in *BookInput) { in.ScheduledAt = bookingNow.AddDate(0, 0, 6).Add(time.Hour) }, domain.ReasonNonWorkingDay},
		{"too far ahead", func(in *BookInput) { in.ScheduledAt = bookingNow.AddDate(0, 0, 45) }, domain.ReasonTooFarAdvance},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _ := newBookingService(&memRepo{}, cache.NewMemoryStore())
			in := input("jane@example.com", bookingNow.Add(time.Hour))
			tc.mutate(&in)
			_, err := svc.Book(context.Background(), in)
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.reason, verr.Reason)
		})
	}
}

func TestBook_RateLimited(t *testing.T) {
	repo := &memRepo{}
	svc, _, _ := newBookingService(repo, cache.NewMemoryStore())

	for i := 0; i < 3; i++ {
		in := input("greedy@example.com", bookingNow.Add(time.Duration(i+1)*time.Hour))
		_, err := svc.Book(context.Background(), in)
		assert.NoError(t, err)
	}

	in := input("greedy@example.com", bookingNow.Add(5*time.Hour))
	_, err := svc.Book(context.Background(), in)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, domain.ReasonRateLimited, verr.Reason)
}

func TestBook_AlternativesExcludeRequestedSlot(t *testing.T) {
	repo := &memRepo{}
	svc, _, _ := newBookingService(repo, cache.NewMemoryStore())
	at := bookingNow.Add(time.Hour) // 10:00

	_, err := svc.Book(context.Background(), input("first@example.com", at))
	assert.NoError(t, err)

	_, err = svc.Book(context.Background(), input("second@example.com", at))
	var taken *domain.SlotTakenError
	assert.ErrorAs(t, err, &taken)
	assert.Equal(t, []string{"09:00", "09:30", "10:30"}, taken.Alternatives)
	assert.NotContains(t, taken.Alternatives, "10:00")
}

func TestBook_ReleasesSelectionAndLockAfterCommit(t *testing.T) {
	repo := &memRepo{}
	store := cache.NewMemoryStore()
	svc, tracker, locks := newBookingService(repo, store)
	ctx := context.Background()

	at := bookingNow.Add(time.Hour)
	date := at.Format(domain.DateLayout)
	assert.NoError(t, tracker.Select(ctx, date, 1, "10:00", "client-a"))
	_, err := locks.TryLock(ctx, date, 1, "10:00", "client-a", slots.LockProcessing)
	assert.NoError(t, err)

	in := input("jane@example.com", at)
	in.ClientID = "client-a"
	_, err = svc.Book(ctx, in)
	assert.NoError(t, err)

	active, err := tracker.Active(ctx, date, 1)
	assert.NoError(t, err)
	assert.Empty(t, active)
	_, err = store.Get(ctx, cache.SlotLockKey(date, 1, "10:00"))
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestBook_ReleasesLockWhenSlotTaken(t *testing.T) {
	repo := &memRepo{}
	store := cache.NewMemoryStore()
	svc, tracker, locks := newBookingService(repo, store)
	ctx := context.Background()
	at := bookingNow.Add(time.Hour)
	date := at.Format(domain.DateLayout)

	// The losing client holds a selection and a processing lock when another
	// client wins the slot in the database.
	assert.NoError(t, tracker.Select(ctx, date, 1, "10:00", "client-loser"))
	_, err := locks.TryLock(ctx, date, 1, "10:00", "client-loser", slots.LockProcessing)
	assert.NoError(t, err)

	_, err = svc.Book(ctx, input("winner@example.com", at))
	assert.NoError(t, err)

	in := input("loser@example.com", at)
	in.ClientID = "client-loser"
	_, err = svc.Book(ctx, in)
	var taken *domain.SlotTakenError
	assert.ErrorAs(t, err, &taken)

	// The failed attempt must not strand the lock for its TTL.
	_, err = store.Get(ctx, cache.SlotLockKey(date, 1, "10:00"))
	assert.ErrorIs(t, err, cache.ErrNotFound)
	active, err := tracker.Active(ctx, date, 1)
	assert.NoError(t, err)
	assert.Empty(t, active)
}

func TestBook_ReleasesLockOnValidationFailure(t *testing.T) {
	repo := &memRepo{}
	store := cache.NewMemoryStore()
	svc, _, locks := newBookingService(repo, store)
	ctx := context.Background()
	at := bookingNow.Add(10 * time.Hour) // 19:00, past closing
	date := at.Format(domain.DateLayout)

	_, err := locks.TryLock(ctx, date, 1, "19:00", "client-a", slots.LockProcessing)
	assert.NoError(t, err)

	in := input("jane@example.com", at)
	in.ClientID = "client-a"
	_, err = svc.Book(ctx, in)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, domain.ReasonOutsideHours, verr.Reason)

	_, err = store.Get(ctx, cache.SlotLockKey(date, 1, "19:00"))
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestCancel_Idempotent(t *testing.T) {
	repo := &memRepo{}
	svc, _, _ := newBookingService(repo, cache.NewMemoryStore())
	ctx := context.Background()

	appt, err := svc.Book(ctx, input("jane@example.com", bookingNow.Add(time.Hour)))
	assert.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, appt.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	again, err := svc.Cancel(ctx, appt.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, again.Status)

	_, err = svc.Cancel(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancel_FreesTheSlot(t *testing.T) {
	repo := &memRepo{}
	svc, _, _ := newBookingService(repo, cache.NewMemoryStore())
	ctx := context.Background()
	at := bookingNow.Add(time.Hour)

	appt, err := svc.Book(ctx, input("jane@example.com", at))
	assert.NoError(t, err)
	_, err = svc.Cancel(ctx, appt.ID)
	assert.NoError(t, err)

	rebooked, err := svc.Book(ctx, input("other@example.com", at))
	assert.NoError(t, err)
	assert.Equal(t, at, rebooked.ScheduledAt)
}

func TestReschedule(t *testing.T) {
	repo := &memRepo{}
	svc, _, _ := newBookingService(repo, cache.NewMemoryStore())
	ctx := context.Background()
	at := bookingNow.Add(time.Hour)

	appt, err := svc.Book(ctx, input("jane@example.com", at))
	assert.NoError(t, err)

	moved, err := svc.Reschedule(ctx, appt.ID, bookingNow.Add(2*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, bookingNow.Add(2*time.Hour), moved.ScheduledAt)
	if assert.NotNil(t, moved.OriginalAt) {
		assert.Equal(t, at, *moved.OriginalAt)
	}
	assert.NotNil(t, moved.RescheduledAt)

	// The vacated slot is bookable again.
	_, err = svc.Book(ctx, input("other@example.com", at))
	assert.NoError(t, err)
}

func TestReschedule_ConflictAndValidation(t *testing.T) {
	repo := &memRepo{}
	svc, _, _ := newBookingService(repo, cache.NewMemoryStore())
	ctx := context.Background()

	first, err := svc.Book(ctx, input("jane@example.com", bookingNow.Add(time.Hour)))
	assert.NoError(t, err)
	_, err = svc.Book(ctx, input("other@example.com", bookingNow.Add(2*time.Hour)))
	assert.NoError(t, err)

	_, err = svc.Reschedule(ctx, first.ID, bookingNow.Add(2*time.Hour))
	var taken *domain.SlotTakenError
	assert.ErrorAs(t, err, &taken)

	_, err = svc.Reschedule(ctx, first.ID, bookingNow.Add(-3*time.Hour))
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, domain.ReasonPastDate, verr.Reason)

	_, err = svc.Reschedule(ctx, 999, bookingNow.Add(3*time.Hour))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// A taken slot must not count against the caller's attempt limit: the
// conflict check fires before the guard.
func TestBook_ConflictSkipsGuard(t *testing.T) {
	repo := &memRepo{}
	store := cache.NewMemoryStore()
	svc, _, _ := newBookingService(repo, store)
	ctx := context.Background()
	at := bookingNow.Add(time.Hour)

	_, err := svc.Book(ctx, input("first@example.com", at))
	assert.NoError(t, err)

	_, err = svc.Book(ctx, input("second@example.com", at))
	var taken *domain.SlotTakenError
	assert.ErrorAs(t, err, &taken)

	_, err = store.Get(ctx, cache.BookingRateKey("second@example.com"))
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

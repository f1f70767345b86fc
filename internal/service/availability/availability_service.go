package availability

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/vzale/apptbooking/internal/cache"
	"github.com/vzale/apptbooking/internal/domain"
	"github.com/vzale/apptbooking/internal/repository"
	"github.com/vzale/apptbooking/internal/service/slots"
)

// Slot display states, in merge priority order. A processing lock means a
// booking is being finalized right now, which is more time-relevant to a
// concurrent viewer than the confirmed row it may be about to create.
const (
	StateProcessing = "processing"
	StateSelected   = "selected"
	StateBooked     = "booked"
)

type SlotInfo struct {
	State            string `json:"state"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
}

type Availability struct {
	All    bool
	Reason string
	Times  []string
	Detail map[string]SlotInfo
}

type UseCase interface {
	Unavailable(ctx context.Context, date string, staffID, excludeID int64, clientID string) (*Availability, error)
}

type Service struct {
	repo        repository.AppointmentRepository
	store       cache.EphemeralStore
	tracker     *slots.SelectionTracker
	hours       domain.BusinessHours
	dayCacheTTL time.Duration
}

func NewService(repo repository.AppointmentRepository, store cache.EphemeralStore, tracker *slots.SelectionTracker, hours domain.BusinessHours, dayCacheTTL time.Duration) *Service {
	return &Service{repo: repo, store: store, tracker: tracker, hours: hours, dayCacheTTL: dayCacheTTL}
}

// Unavailable merges the three sources of slot state for one (date, staff)
// grid. Whole-day short-circuits run before any query: a closed day returns
// an all-unavailable sentinel instead of per-slot detail.
func (s *Service) Unavailable(ctx context.Context, date string, staffID, excludeID int64, clientID string) (*Availability, error) {
	day, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return nil, domain.Invalid(domain.ReasonInvalidInput)
	}

	if s.hours.IsBlackout(date) || !s.hours.IsWorkingDay(day) {
		return &Availability{All: true, Reason: domain.ReasonNonWorkingDay}, nil
	}
	now := time.Now().UTC()
	today := now.Truncate(24 * time.Hour)
	if day.Before(today) {
		return &Availability{All: true, Reason: domain.ReasonPastDate}, nil
	}
	if s.hours.AdvanceDays > 0 && day.After(now.AddDate(0, 0, s.hours.AdvanceDays)) {
		return &Availability{All: true, Reason: domain.ReasonTooFarAdvance}, nil
	}

	detail := make(map[string]SlotInfo)

	// 1. Hard locks override everything. The holder stays hidden: a viewer
	// learns the slot is being finalized, never by whom.
	lockKeys, err := s.store.Keys(ctx, cache.SlotLockPattern(date, staffID))
	if err != nil {
		return nil, err
	}
	for _, key := range lockKeys {
		// Key layout is lock:<date>:<staff>:<HH:MM>; the slot spans the
		// last two segments.
		parts := strings.Split(key, ":")
		if len(parts) < 5 {
			continue
		}
		slot := parts[len(parts)-2] + ":" + parts[len(parts)-1]
		ttl, err := s.store.TTL(ctx, key)
		if err != nil || ttl <= 0 {
			continue
		}
		detail[slot] = SlotInfo{State: StateProcessing, RemainingSeconds: int(ttl.Seconds())}
	}

	// 2. Other clients' active selections. The requester's own pick must
	// never come back to it as a conflict.
	active, err := s.tracker.Active(ctx, date, staffID)
	if err != nil {
		return nil, err
	}
	for slot, holder := range active {
		if holder == clientID {
			continue
		}
		if _, taken := detail[slot]; !taken {
			detail[slot] = SlotInfo{State: StateSelected}
		}
	}

	// 3. Confirmed appointments fill in whatever is not already flagged.
	booked, err := s.bookedTimes(ctx, date, staffID, day, excludeID)
	if err != nil {
		return nil, err
	}
	for _, slot := range booked {
		if _, taken := detail[slot]; !taken {
			detail[slot] = SlotInfo{State: StateBooked}
		}
	}

	times := make([]string, 0, len(detail))
	for slot := range detail {
		times = append(times, slot)
	}
	sort.Strings(times)
	return &Availability{Times: times, Detail: detail}, nil
}

// bookedTimes reads the day's appointment times through a short-TTL cache.
// The cache is bypassed when an appointment is excluded (reschedule view)
// and invalidated by the booking engine on every write.
func (s *Service) bookedTimes(ctx context.Context, date string, staffID int64, day time.Time, excludeID int64) ([]string, error) {
	cacheKey := cache.DayCacheKey(date, staffID)
	if excludeID == 0 {
		if raw, err := s.store.Get(ctx, cacheKey); err == nil {
			var times []string
			if err := json.Unmarshal([]byte(raw), &times); err == nil {
				return times, nil
			}
		}
	}

	appts, err := s.repo.ListDay(ctx, staffID, day, day.AddDate(0, 0, 1), excludeID)
	if err != nil {
		return nil, err
	}
	times := make([]string, 0, len(appts))
	for _, a := range appts {
		times = append(times, a.ScheduledAt.UTC().Format(domain.SlotLayout))
	}

	if excludeID == 0 {
		payload, err := json.Marshal(times)
		if err == nil {
			if err := s.store.Set(ctx, cacheKey, string(payload), s.dayCacheTTL); err != nil {
				log.Printf("day cache write failed: %v", err)
			}
		}
	}
	return times, nil
}

var _ UseCase = (*Service)(nil)

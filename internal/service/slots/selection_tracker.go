package slots

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/vzale/apptbooking/internal/cache"
)

// SelectionTracker records which slot a client is currently looking at, one
// grouped record per (date, staff) scope so a poll tick reads the whole grid
// in a single call. Entries carry their write timestamp in the value because
// hash fields have no individual TTL; staleness is swept at read time.
type SelectionTracker struct {
	store cache.EphemeralStore
	ttl   time.Duration

	// now is swapped in tests to age entries without sleeping.
	now func() time.Time
}

func NewSelectionTracker(store cache.EphemeralStore, ttl time.Duration) *SelectionTracker {
	return &SelectionTracker{store: store, ttl: ttl, now: time.Now}
}

func (t *SelectionTracker) encode(clientID string) string {
	return clientID + "|" + strconv.FormatInt(t.now().Unix(), 10)
}

func (t *SelectionTracker) decode(value string) (clientID string, stale bool) {
	holder, ts, ok := strings.Cut(value, "|")
	if !ok {
		return "", true
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", true
	}
	return holder, t.now().Sub(time.Unix(sec, 0)) > t.ttl
}

// Select records the client's pick. The client's previous selection in the
// same scope is removed first: one active selection per client per scope,
// without the caller having to know its old slot.
func (t *SelectionTracker) Select(ctx context.Context, date string, staffID int64, slot, clientID string) error {
	key := cache.SelectionKey(date, staffID)
	fields, err := t.store.HGetAll(ctx, key)
	if err != nil {
		return err
	}
	for field, value := range fields {
		if field == slot {
			continue
		}
		holder, stale := t.decode(value)
		if stale || holder == clientID {
			if err := t.store.HDel(ctx, key, field); err != nil {
				return err
			}
		}
	}
	if err := t.store.HSet(ctx, key, slot, t.encode(clientID)); err != nil {
		return err
	}
	return t.store.Expire(ctx, key, t.ttl)
}

func (t *SelectionTracker) Deselect(ctx context.Context, date string, staffID int64, slot string) error {
	return t.store.HDel(ctx, cache.SelectionKey(date, staffID), slot)
}

// Active returns slot -> holder for the scope, passively dropping stale
// entries it encounters.
func (t *SelectionTracker) Active(ctx context.Context, date string, staffID int64) (map[string]string, error) {
	key := cache.SelectionKey(date, staffID)
	fields, err := t.store.HGetAll(ctx, key)
	if err != nil {
		return nil, err
	}
	active := make(map[string]string, len(fields))
	for field, value := range fields {
		holder, stale := t.decode(value)
		if stale {
			_ = t.store.HDel(ctx, key, field)
			continue
		}
		active[field] = holder
	}
	return active, nil
}

// Clear removes every selection the client holds in the scope. Called after
// a committed booking so the client's own pick stops showing to others.
func (t *SelectionTracker) Clear(ctx context.Context, date string, staffID int64, clientID string) error {
	key := cache.SelectionKey(date, staffID)
	fields, err := t.store.HGetAll(ctx, key)
	if err != nil {
		return err
	}
	for field, value := range fields {
		holder, _ := t.decode(value)
		if holder == clientID {
			if err := t.store.HDel(ctx, key, field); err != nil {
				return err
			}
		}
	}
	return nil
}

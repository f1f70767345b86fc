package slots

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vzale/apptbooking/internal/cache"
)

var (
	ErrSlotLocked  = errors.New("slot is already locked")
	ErrRateLimited = errors.New("too many lock attempts")
)

type LockKind int

const (
	// LockSelect is the short advisory lock taken while a client is picking.
	LockSelect LockKind = iota
	// LockProcessing is the firmer lock taken immediately before a booking
	// is submitted; it takes display priority in availability responses.
	LockProcessing
)

type LockToken struct {
	Key   string
	Value string
}

// LockManager owns the per-slot advisory locks. Uniqueness is enforced by
// the store's set-if-not-exists, not by a check-then-set, so two clients
// racing for the same slot cannot both acquire it.
type LockManager struct {
	store         cache.EphemeralStore
	softTTL       time.Duration
	hardTTL       time.Duration
	attemptLimit  int
	attemptWindow time.Duration
}

func NewLockManager(store cache.EphemeralStore, softTTL, hardTTL time.Duration, attemptsPerWindow int, attemptWindow time.Duration) *LockManager {
	return &LockManager{
		store:         store,
		softTTL:       softTTL,
		hardTTL:       hardTTL,
		attemptLimit:  attemptsPerWindow,
		attemptWindow: attemptWindow,
	}
}

// TryLock rate-limits the client first, independent of which slot is
// targeted, then attempts the atomic acquire.
func (m *LockManager) TryLock(ctx context.Context, date string, staffID int64, slot, clientID string, kind LockKind) (*LockToken, error) {
	attempts, err := m.store.Increment(ctx, cache.LockRateKey(clientID), m.attemptWindow)
	if err != nil {
		return nil, err
	}
	if attempts > int64(m.attemptLimit) {
		return nil, ErrRateLimited
	}

	ttl := m.softTTL
	if kind == LockProcessing {
		ttl = m.hardTTL
	}
	key := cache.SlotLockKey(date, staffID, slot)
	value := clientID + "|" + uuid.NewString()
	ok, err := m.store.SetNX(ctx, key, value, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSlotLocked
	}
	return &LockToken{Key: key, Value: value}, nil
}

// Unlock releases the lock only while the token still owns it.
func (m *LockManager) Unlock(ctx context.Context, token *LockToken) error {
	if token == nil {
		return nil
	}
	current, err := m.store.Get(ctx, token.Key)
	if err == cache.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if current != token.Value {
		return nil
	}
	return m.store.Delete(ctx, token.Key)
}

func (m *LockManager) Validate(ctx context.Context, token *LockToken) bool {
	if token == nil {
		return false
	}
	current, err := m.store.Get(ctx, token.Key)
	return err == nil && current == token.Value
}

// ReleaseFor drops the lock on a slot if the given client holds it. Used by
// the booking engine's post-commit step so a finished transaction does not
// strand the lock for its full TTL.
func (m *LockManager) ReleaseFor(ctx context.Context, date string, staffID int64, slot, clientID string) error {
	key := cache.SlotLockKey(date, staffID, slot)
	value, err := m.store.Get(ctx, key)
	if err == cache.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if holder, _, ok := strings.Cut(value, "|"); !ok || holder != clientID {
		return nil
	}
	return m.store.Delete(ctx, key)
}

// HolderOf extracts the client part of a stored lock value.
func HolderOf(value string) string {
	holder, _, _ := strings.Cut(value, "|")
	return holder
}

package cache

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const canaryKey = "health:canary"

// Failover routes every ephemeral-store call to the fast cache while it is
// healthy and to the durable-store fallback when it is not. Cache errors are
// absorbed here and never propagate as request failures: the first failing
// call flips the primary to unavailable and is retried on the fallback.
//
// A periodic canary probe detects recovery; on the down->up transition the
// selections accumulated in the fallback are replayed into the primary once,
// so viewers polling a slot grid do not see in-progress picks vanish.
type Failover struct {
	primary   EphemeralStore
	fallback  EphemeralStore
	available atomic.Bool

	replayTTL time.Duration
	replayMu  sync.Mutex
}

func NewFailover(primary, fallback EphemeralStore, replayTTL time.Duration) *Failover {
	f := &Failover{primary: primary, fallback: fallback, replayTTL: replayTTL}
	f.available.Store(true)
	return f
}

// Available reports whether the fast cache is currently in use.
func (f *Failover) Available() bool {
	return f.available.Load()
}

func (f *Failover) markDown(err error) {
	if f.available.CompareAndSwap(true, false) {
		log.Printf("fast cache unavailable, switching to durable fallback: %v", err)
	}
}

// usable filters real backend failures from ErrNotFound, which is a valid
// outcome and must pass through.
func usable(err error) bool {
	return err == nil || err == ErrNotFound
}

func (f *Failover) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.available.Load() {
		if err := f.primary.Set(ctx, key, value, ttl); usable(err) {
			return err
		} else {
			f.markDown(err)
		}
	}
	return f.fallback.Set(ctx, key, value, ttl)
}

func (f *Failover) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if f.available.Load() {
		ok, err := f.primary.SetNX(ctx, key, value, ttl)
		if usable(err) {
			return ok, err
		}
		f.markDown(err)
	}
	return f.fallback.SetNX(ctx, key, value, ttl)
}

func (f *Failover) Get(ctx context.Context, key string) (string, error) {
	if f.available.Load() {
		val, err := f.primary.Get(ctx, key)
		if usable(err) {
			return val, err
		}
		f.markDown(err)
	}
	return f.fallback.Get(ctx, key)
}

func (f *Failover) Delete(ctx context.Context, keys ...string) error {
	if f.available.Load() {
		if err := f.primary.Delete(ctx, keys...); usable(err) {
			return err
		} else {
			f.markDown(err)
		}
	}
	return f.fallback.Delete(ctx, keys...)
}

func (f *Failover) TTL(ctx context.Context, key string) (time.Duration, error) {
	if f.available.Load() {
		ttl, err := f.primary.TTL(ctx, key)
		if usable(err) {
			return ttl, err
		}
		f.markDown(err)
	}
	return f.fallback.TTL(ctx, key)
}

func (f *Failover) HSet(ctx context.Context, key, field, value string) error {
	if f.available.Load() {
		if err := f.primary.HSet(ctx, key, field, value); usable(err) {
			return err
		} else {
			f.markDown(err)
		}
	}
	return f.fallback.HSet(ctx, key, field, value)
}

func (f *Failover) HDel(ctx context.Context, key string, fields ...string) error {
	if f.available.Load() {
		if err := f.primary.HDel(ctx, key, fields...); usable(err) {
			return err
		} else {
			f.markDown(err)
		}
	}
	return f.fallback.HDel(ctx, key, fields...)
}

func (f *Failover) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if f.available.Load() {
		m, err := f.primary.HGetAll(ctx, key)
		if usable(err) {
			return m, err
		}
		f.markDown(err)
	}
	return f.fallback.HGetAll(ctx, key)
}

func (f *Failover) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if f.available.Load() {
		if err := f.primary.Expire(ctx, key, ttl); usable(err) {
			return err
		} else {
			f.markDown(err)
		}
	}
	return f.fallback.Expire(ctx, key, ttl)
}

func (f *Failover) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if f.available.Load() {
		n, err := f.primary.Increment(ctx, key, ttl)
		if usable(err) {
			return n, err
		}
		f.markDown(err)
	}
	return f.fallback.Increment(ctx, key, ttl)
}

func (f *Failover) Keys(ctx context.Context, pattern string) ([]string, error) {
	if f.available.Load() {
		keys, err := f.primary.Keys(ctx, pattern)
		if usable(err) {
			return keys, err
		}
		f.markDown(err)
	}
	return f.fallback.Keys(ctx, pattern)
}

func (f *Failover) Ping(ctx context.Context) error {
	if f.available.Load() {
		return f.primary.Ping(ctx)
	}
	return f.fallback.Ping(ctx)
}

// Probe writes and reads back a canary key on the primary. On recovery it
// replays fallback-resident selections into the primary before flipping the
// availability flag, so the first poll after recovery sees a populated grid.
func (f *Failover) Probe(ctx context.Context) {
	token := uuid.NewString()
	if err := f.primary.Set(ctx, canaryKey, token, 30*time.Second); err != nil {
		f.markDown(err)
		return
	}
	got, err := f.primary.Get(ctx, canaryKey)
	if err != nil || got != token {
		f.markDown(err)
		return
	}
	if f.available.Load() {
		return
	}
	f.replaySelections(ctx)
	if f.available.CompareAndSwap(false, true) {
		log.Printf("fast cache recovered, resuming primary path")
	}
}

func (f *Failover) replaySelections(ctx context.Context) {
	f.replayMu.Lock()
	defer f.replayMu.Unlock()

	scopes, err := f.fallback.Keys(ctx, SelectionPattern)
	if err != nil {
		log.Printf("selection replay: list fallback scopes: %v", err)
		return
	}
	for _, scope := range scopes {
		fields, err := f.fallback.HGetAll(ctx, scope)
		if err != nil || len(fields) == 0 {
			continue
		}
		for field, value := range fields {
			if err := f.primary.HSet(ctx, scope, field, value); err != nil {
				log.Printf("selection replay: %s: %v", scope, err)
				return
			}
		}
		_ = f.primary.Expire(ctx, scope, f.replayTTL)
		for field := range fields {
			_ = f.fallback.HDel(ctx, scope, field)
		}
		_ = f.fallback.Delete(ctx, scope)
	}
	if len(scopes) > 0 {
		log.Printf("replayed %d selection scopes into fast cache", len(scopes))
	}
}

// Run drives the canary probe until the context is cancelled.
func (f *Failover) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

var _ EphemeralStore = (*Failover)(nil)

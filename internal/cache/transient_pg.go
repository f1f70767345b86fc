package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGTransientStore reproduces the ephemeral-store semantics on top of the
// durable store's transients table when Redis is unavailable. The table has
// no native expiry, so every read compares expires_at to now and deletes
// expired rows it encounters. Hash fields are stored as "key#field" rows.
type PGTransientStore struct {
	db *pgxpool.Pool
}

func NewPGTransientStore(db *pgxpool.Pool) *PGTransientStore {
	return &PGTransientStore{db: db}
}

const hashSep = "#"

// defaultHashTTL bounds hash-field rows written before the container Expire
// call lands.
const defaultHashTTL = 10 * time.Minute

func (s *PGTransientStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := s.db.Exec(ctx, `INSERT INTO transients (key, value, expires_at) VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, key, value, ttl.Seconds())
	return err
}

func (s *PGTransientStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	cmd, err := s.db.Exec(ctx, `INSERT INTO transients (key, value, expires_at) VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
		WHERE transients.expires_at <= now()`, key, value, ttl.Seconds())
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (s *PGTransientStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	var expiresAt time.Time
	err := s.db.QueryRow(ctx, `SELECT value, expires_at FROM transients WHERE key = $1`, key).Scan(&value, &expiresAt)
	if err == pgx.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !expiresAt.After(time.Now()) {
		_, _ = s.db.Exec(ctx, `DELETE FROM transients WHERE key = $1`, key)
		return "", ErrNotFound
	}
	return value, nil
}

func (s *PGTransientStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `DELETE FROM transients WHERE key = ANY($1)`, keys)
	return err
}

func (s *PGTransientStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	var expiresAt time.Time
	err := s.db.QueryRow(ctx, `SELECT expires_at FROM transients WHERE key = $1`, key).Scan(&expiresAt)
	if err == pgx.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0, ErrNotFound
	}
	return ttl, nil
}

func (s *PGTransientStore) HSet(ctx context.Context, key, field, value string) error {
	return s.Set(ctx, key+hashSep+field, value, defaultHashTTL)
}

func (s *PGTransientStore) HDel(ctx context.Context, key string, fields ...string) error {
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, key+hashSep+f)
	}
	return s.Delete(ctx, keys...)
}

func (s *PGTransientStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value, expires_at FROM transients WHERE key LIKE $1`, key+hashSep+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	var stale []string
	now := time.Now()
	for rows.Next() {
		var k, v string
		var expiresAt time.Time
		if err := rows.Scan(&k, &v, &expiresAt); err != nil {
			return nil, err
		}
		if !expiresAt.After(now) {
			stale = append(stale, k)
			continue
		}
		result[strings.TrimPrefix(k, key+hashSep)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		_, _ = s.db.Exec(ctx, `DELETE FROM transients WHERE key = ANY($1)`, stale)
	}
	return result, nil
}

func (s *PGTransientStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.db.Exec(ctx, `UPDATE transients SET expires_at = now() + make_interval(secs => $2) WHERE key = $1 OR key LIKE $3`,
		key, ttl.Seconds(), key+hashSep+"%")
	return err
}

func (s *PGTransientStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var value string
	err := s.db.QueryRow(ctx, `INSERT INTO transients (key, value, expires_at) VALUES ($1, '1', now() + make_interval(secs => $2))
		ON CONFLICT (key) DO UPDATE SET
			value = CASE WHEN transients.expires_at <= now() THEN '1' ELSE (transients.value::bigint + 1)::text END,
			expires_at = CASE WHEN transients.expires_at <= now() THEN EXCLUDED.expires_at ELSE transients.expires_at END
		RETURNING value`, key, ttl.Seconds()).Scan(&value)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}

// Keys matches a glob pattern and collapses hash-field rows back to their
// container key, so replay after a cache outage sees one key per scope.
func (s *PGTransientStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	like := strings.ReplaceAll(pattern, "*", "%")
	rows, err := s.db.Query(ctx, `SELECT key FROM transients WHERE key LIKE $1 AND expires_at > now()`, like)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		if i := strings.Index(k, hashSep); i >= 0 {
			k = k[:i]
		}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys, rows.Err()
}

func (s *PGTransientStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Sweep removes expired rows. Driven by the worker's cron schedule since
// the table has no native expiry.
func (s *PGTransientStore) Sweep(ctx context.Context) (int64, error) {
	cmd, err := s.db.Exec(ctx, `DELETE FROM transients WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

var _ EphemeralStore = (*PGTransientStore)(nil)

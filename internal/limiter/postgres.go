package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter with a sliding failure window and lockout.
type PG struct {
	db       querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Options tune PG. Zero values fall back to 5 failures per 15 minutes, blocked for 15 minutes.
type Options struct {
	Window   time.Duration
	MaxFails int
	BlockFor time.Duration
}

// NewPG constructs a limiter over any pgx query surface (pool, tx, or mock).
func NewPG(db querier, o Options) *PG {
	if o.Window <= 0 {
		o.Window = 15 * time.Minute
	}
	if o.MaxFails <= 0 {
		o.MaxFails = 5
	}
	if o.BlockFor <= 0 {
		o.BlockFor = 15 * time.Minute
	}
	return &PG{db: db, window: o.Window, maxFails: o.MaxFails, blockFor: o.BlockFor, now: time.Now}
}

// Allow reports whether the client is currently unblocked.
func (l *PG) Allow(ctx context.Context, scope string, clientHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM reissue_limiter WHERE scope=$1 AND client_hash=$2`
	var blockedUntil time.Time
	err := l.db.QueryRow(ctx, q, scope, clientHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		if left := blockedUntil.Sub(l.now()); left > 0 {
			return false, left, nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success forgets the client's failures.
func (l *PG) Success(ctx context.Context, scope string, clientHash []byte) error {
	const q = `DELETE FROM reissue_limiter WHERE scope=$1 AND client_hash=$2`
	_, err := l.db.Exec(ctx, q, scope, clientHash)
	return err
}

// Failure increments the counter, restarting it when the previous failure is
// older than the window, and blocks the client once the threshold is reached.
func (l *PG) Failure(ctx context.Context, scope string, clientHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO reissue_limiter (scope, client_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, 'epoch', now())
ON CONFLICT (scope, client_hash) DO UPDATE
SET
  fail_count = CASE WHEN now() - reissue_limiter.updated_at > $3::interval THEN 1 ELSE reissue_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.db.QueryRow(ctx, q, scope, clientHash, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}

	const upd = `UPDATE reissue_limiter SET blocked_until=$3 WHERE scope=$1 AND client_hash=$2`
	if _, err := l.db.Exec(ctx, upd, scope, clientHash, l.now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}

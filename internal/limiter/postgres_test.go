package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var client = HashClient("203.0.113.7")

func newLimiter(t *testing.T, o Options) (*PG, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := NewPG(mock, o)
	l.now = func() time.Time { return now }
	return l, mock, now
}

func TestAllow(t *testing.T) {
	ctx := context.Background()
	const q = `SELECT blocked_until FROM reissue_limiter WHERE scope=\$1 AND client_hash=\$2`

	t.Run("no row", func(t *testing.T) {
		l, mock, _ := newLimiter(t, Options{})
		mock.ExpectQuery(q).WithArgs(ScopeReissue, client).WillReturnError(pgx.ErrNoRows)
		ok, left, err := l.Allow(ctx, ScopeReissue, client)
		require.NoError(t, err)
		require.True(t, ok)
		require.Zero(t, left)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blocked", func(t *testing.T) {
		l, mock, now := newLimiter(t, Options{})
		mock.ExpectQuery(q).WithArgs(ScopeReissue, client).
			WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(now.Add(10 * time.Minute)))
		ok, left, err := l.Allow(ctx, ScopeReissue, client)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, 10*time.Minute, left)
	})

	t.Run("block elapsed", func(t *testing.T) {
		l, mock, now := newLimiter(t, Options{})
		mock.ExpectQuery(q).WithArgs(ScopeReissue, client).
			WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(now.Add(-time.Second)))
		ok, _, err := l.Allow(ctx, ScopeReissue, client)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("db error", func(t *testing.T) {
		l, mock, _ := newLimiter(t, Options{})
		mock.ExpectQuery(q).WithArgs(ScopeReissue, client).WillReturnError(errors.New("db boom"))
		ok, _, err := l.Allow(ctx, ScopeReissue, client)
		require.Error(t, err)
		require.False(t, ok)
	})
}

func TestSuccess(t *testing.T) {
	l, mock, _ := newLimiter(t, Options{})
	mock.ExpectExec(`DELETE FROM reissue_limiter WHERE scope=\$1 AND client_hash=\$2`).
		WithArgs(ScopeReissue, client).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, l.Success(context.Background(), ScopeReissue, client))

	mock.ExpectExec(`DELETE FROM reissue_limiter`).
		WithArgs(ScopeReissue, client).
		WillReturnError(errors.New("exec fail"))
	require.Error(t, l.Success(context.Background(), ScopeReissue, client))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailure(t *testing.T) {
	ctx := context.Background()
	const upsert = `INSERT INTO reissue_limiter .* RETURNING fail_count`

	t.Run("below threshold", func(t *testing.T) {
		l, mock, _ := newLimiter(t, Options{MaxFails: 3, Window: time.Minute})
		mock.ExpectQuery(upsert).WithArgs(ScopeReissue, client, time.Minute).
			WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(2))
		blocked, d, err := l.Failure(ctx, ScopeReissue, client)
		require.NoError(t, err)
		require.False(t, blocked)
		require.Zero(t, d)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("threshold blocks", func(t *testing.T) {
		l, mock, now := newLimiter(t, Options{MaxFails: 3, BlockFor: 10 * time.Minute})
		mock.ExpectQuery(upsert).WithArgs(ScopeReissue, client, 15*time.Minute).
			WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(3))
		mock.ExpectExec(`UPDATE reissue_limiter SET blocked_until=\$3`).
			WithArgs(ScopeReissue, client, now.Add(10*time.Minute)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		blocked, d, err := l.Failure(ctx, ScopeReissue, client)
		require.NoError(t, err)
		require.True(t, blocked)
		require.Equal(t, 10*time.Minute, d)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("upsert error", func(t *testing.T) {
		l, mock, _ := newLimiter(t, Options{})
		mock.ExpectQuery(upsert).WithArgs(ScopeReissue, client, 15*time.Minute).
			WillReturnError(errors.New("query error"))
		_, _, err := l.Failure(ctx, ScopeReissue, client)
		require.Error(t, err)
	})

	t.Run("block update error", func(t *testing.T) {
		l, mock, _ := newLimiter(t, Options{MaxFails: 1})
		mock.ExpectQuery(upsert).WithArgs(ScopeReissue, client, 15*time.Minute).
			WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(1))
		mock.ExpectExec(`UPDATE reissue_limiter`).WillReturnError(errors.New("exec fail"))
		blocked, _, err := l.Failure(ctx, ScopeReissue, client)
		require.Error(t, err)
		require.False(t, blocked)
	})
}

func TestHashClient(t *testing.T) {
	a := HashClient("1.2.3.4")
	require.Equal(t, a, HashClient("1.2.3.4"))
	require.NotEqual(t, a, HashClient("5.6.7.8"))
	require.Len(t, a, 32)
}

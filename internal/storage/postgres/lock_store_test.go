package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestLineLockStore_TryAcquireSucceeds(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := newTestClock()
	store := NewLineLockStore(mock, clock)

	mock.ExpectExec("INSERT INTO line_locks").
		WithArgs(int64(22), "job-1", clock.now, clock.now.Add(30*time.Minute)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	acquired, err := store.TryAcquire(context.Background(), 22, "job-1", 30*time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLineLockStore_TryAcquireContendedReturnsFalse(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewLineLockStore(mock, newTestClock())

	// An unexpired row owned by someone else means zero rows affected.
	mock.ExpectExec("INSERT INTO line_locks").
		WithArgs(int64(22), "job-2", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	acquired, err := store.TryAcquire(context.Background(), 22, "job-2", 30*time.Minute)
	require.NoError(t, err)
	require.False(t, acquired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLineLockStore_ReleaseMatchesHolder(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewLineLockStore(mock, newTestClock())

	mock.ExpectExec("DELETE FROM line_locks").
		WithArgs(int64(22), "job-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.Release(context.Background(), 22, "job-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLineLockStore_SweepReportsDeletedRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := newTestClock()
	store := NewLineLockStore(mock, clock)

	mock.ExpectExec("DELETE FROM line_locks").
		WithArgs(clock.now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := store.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

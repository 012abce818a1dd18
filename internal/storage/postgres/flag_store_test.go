package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

func TestSystemFlagStore_BoolReadsValue(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewSystemFlagStore(mock, newTestClock())

	mock.ExpectQuery("SELECT value FROM system_flags").
		WithArgs(pricesync.FlagWebhooksPaused).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(true))

	paused, err := store.Bool(context.Background(), pricesync.FlagWebhooksPaused)
	require.NoError(t, err)
	require.True(t, paused)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSystemFlagStore_MissingFlagReadsFalse(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewSystemFlagStore(mock, newTestClock())

	mock.ExpectQuery("SELECT value FROM system_flags").
		WithArgs("no_such_flag").
		WillReturnRows(pgxmock.NewRows([]string{"value"}))

	value, err := store.Bool(context.Background(), "no_such_flag")
	require.NoError(t, err)
	require.False(t, value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSystemFlagStore_SetBoolUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := newTestClock()
	store := NewSystemFlagStore(mock, clock)

	mock.ExpectExec("INSERT INTO system_flags").
		WithArgs(pricesync.FlagSyncInProgress, true, clock.now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SetBool(context.Background(), pricesync.FlagSyncInProgress, true))
	require.NoError(t, mock.ExpectationsWereMet())
}

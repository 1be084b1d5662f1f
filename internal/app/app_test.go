package app

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/market?sslmode=disable", MigrateURL("postgres://u:p@db:5432/market?sslmode=disable"))
	require.Equal(t, "pgx5://db/market", MigrateURL("postgresql://db/market"))
	require.Equal(t, "pgx5://db/market", MigrateURL("pgx5://db/market"))
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	require.True(t, mr.Exists("k"))

	_, err = OpenRedis(context.Background(), "not a url")
	require.Error(t, err)
}

func TestQueueConn(t *testing.T) {
	_, err := QueueConn("redis://localhost:6379/2")
	require.NoError(t, err)
	_, err = QueueConn("ftp://localhost")
	require.Error(t, err)
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New("not yet")
		}
		return nil
	}, func(int, error) {})
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	err = retry(context.Background(), 2, time.Millisecond, func() error { return errors.New("down") }, func(int, error) {})
	require.EqualError(t, err, "down")
}

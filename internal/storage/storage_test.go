package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bumpbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestStoreDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openDriver(t, driver)

			base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
			for i, name := range []string{"alpha", "beta", "gamma"} {
				require.NoError(t, st.AppendRun(ctx, RunRecord{
					ID:        name + "-id",
					Session:   name,
					Cycle:     1,
					StartedAt: base.Add(time.Duration(i) * time.Minute),
					TookMS:    1500,
					Success:   i != 1,
					Kind:      map[bool]string{true: "", false: "auth_timeout"}[i != 1],
					Attempts:  1 + i%2,
				}))
			}
			runs, err := st.RecentRuns(ctx, 2)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "beta", runs[0].Session)
			assert.Equal(t, "gamma", runs[1].Session)
			assert.False(t, runs[0].Success)
			assert.Equal(t, "auth_timeout", runs[0].Kind)
			assert.Equal(t, 2, runs[0].Attempts)

			next := base.Add(time.Hour)
			require.NoError(t, st.PutSchedule(ctx, "alpha", next))
			require.NoError(t, st.PutSchedule(ctx, "beta", next.Add(time.Minute)))
			require.NoError(t, st.PutSchedule(ctx, "beta", time.Time{}))
			sched, err := st.LoadSchedule(ctx)
			require.NoError(t, err)
			require.Len(t, sched, 1)
			assert.True(t, sched["alpha"].Equal(next))

			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			require.NoError(t, st.PutDedup(ctx, "k1", until))
			got, ok, err := st.GetDedup(ctx, "k1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, got.Equal(until))

			_, ok, err = st.GetDedup(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	next := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.PutSchedule(ctx, "alpha", next))
	require.NoError(t, st.PutDedup(ctx, "live", time.Now().Add(time.Hour)))
	require.NoError(t, st.PutDedup(ctx, "stale", time.Now().Add(-time.Hour)))
	require.NoError(t, st.AppendRun(ctx, RunRecord{ID: "1", Session: "alpha", Success: true}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	sched, err := st.LoadSchedule(ctx)
	require.NoError(t, err)
	assert.True(t, sched["alpha"].Equal(next))

	_, ok, _ := st.GetDedup(ctx, "live")
	assert.True(t, ok)
	_, ok, _ = st.GetDedup(ctx, "stale")
	assert.False(t, ok, "expired dedup entries are pruned on open")

	runs, err := st.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "alpha", runs[0].Session)
}

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	log, hook := test.NewNullLogger()
	s := New(time.UTC, log)
	fixed := time.Date(2025, time.March, 1, 6, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	var got time.Time
	require.NoError(t, s.Register("recurring", "@hourly", func(_ context.Context, now time.Time) (int, error) {
		got = now
		return 3, nil
	}))
	require.Error(t, s.Register("broken", "every now and then", nil))

	entries := s.cron.Entries()
	require.Len(t, entries, 1)
	entries[0].WrappedJob.Run()

	require.Equal(t, fixed, got)
	last := hook.LastEntry()
	require.Equal(t, logrus.InfoLevel, last.Level)
	require.Equal(t, "recurring", last.Data["job"])
	require.Equal(t, 3, last.Data["processed"])
}

func TestFailedJobIsLogged(t *testing.T) {
	log, hook := test.NewNullLogger()
	s := New(time.UTC, log)
	require.NoError(t, s.Register("alerts", "0 */6 * * *", func(context.Context, time.Time) (int, error) {
		return 0, errors.New("store down")
	}))

	s.cron.Entries()[0].WrappedJob.Run()

	last := hook.LastEntry()
	require.Equal(t, logrus.ErrorLevel, last.Level)
	require.Equal(t, "Job failed", last.Message)
}

func TestStopCancelsJobContext(t *testing.T) {
	log, _ := test.NewNullLogger()
	s := New(time.UTC, log)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.ErrorIs(t, s.ctx.Err(), context.Canceled)
}

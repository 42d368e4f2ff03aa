package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/maildesk/internal/identifier"
	"github.com/nhle/maildesk/internal/model"
	"github.com/nhle/maildesk/internal/service"
	"github.com/nhle/maildesk/tests/testutil"
)

func seedAccount(t *testing.T, s interface {
	UpsertAccount(context.Context, model.Account) error
}, user string, at time.Time) string {
	t.Helper()
	login := testutil.NewLogin(user, "pw")
	token := identifier.Derive(login)
	require.NoError(t, s.UpsertAccount(context.Background(), model.AccountFromLogin(token, login, at)))
	return token
}

func TestUsageRecorderCoalescesTouches(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	token := seedAccount(t, s, "alice", base)

	r := service.NewUsageRecorder(s, time.Hour, nil)
	r.Start()
	defer r.Stop()

	r.Touch(token, base.Add(3*time.Minute))
	r.Touch(token, base.Add(time.Minute))
	require.NoError(t, r.Flush(ctx))

	a, err := s.GetAccount(ctx, token)
	require.NoError(t, err)
	assert.True(t, base.Add(3*time.Minute).Equal(a.LastUsedAt))
}

func TestUsageRecorderStopWritesPending(t *testing.T) {
	s := testutil.NewTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	token := seedAccount(t, s, "bob", base)

	r := service.NewUsageRecorder(s, time.Hour, nil)
	r.Start()
	r.Start()
	r.Touch(token, base.Add(time.Hour))
	r.Stop()
	r.Stop()

	a, err := s.GetAccount(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, base.Add(time.Hour).Equal(a.LastUsedAt))
}

func TestUsageRecorderFlushAfterStop(t *testing.T) {
	s := testutil.NewTestStore(t)
	r := service.NewUsageRecorder(s, time.Hour, nil)
	r.Start()
	r.Stop()

	assert.NoError(t, r.Flush(context.Background()))
}

func TestUsageRecorderRestart(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	token := seedAccount(t, s, "carol", base)

	r := service.NewUsageRecorder(s, time.Hour, nil)
	r.Start()
	r.Stop()

	r.Start()
	r.Touch(token, base.Add(2*time.Hour))
	require.NoError(t, r.Flush(ctx))
	r.Stop()

	a, err := s.GetAccount(ctx, token)
	require.NoError(t, err)
	assert.True(t, base.Add(2*time.Hour).Equal(a.LastUsedAt))

	r.Start()
	r.Stop()
	assert.NoError(t, r.Flush(ctx))
}

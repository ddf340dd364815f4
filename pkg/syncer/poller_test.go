package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewPoller(t *testing.T) {
	o := newFixture().o

	p, err := NewPoller(o, PollLocal, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, defaultInterval, p.interval)
	assert.Equal(t, defaultFetchTimeout, p.timeout)
	assert.Equal(t, PollLocal, p.Source())

	_, err = NewPoller(o, "modbus", time.Second, time.Second)
	assert.Error(t, err)
}

func TestPollerRun(t *testing.T) {
	t.Run("None", func(t *testing.T) {
		p, err := NewPoller(newFixture().o, PollNone, time.Millisecond, time.Second)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("poller did not stop")
		}
	})

	t.Run("Local", func(t *testing.T) {
		f := newFixture()
		calls := make(chan context.Context, 10)
		f.gw.On("TestConnection", mock.Anything).Run(func(args mock.Arguments) {
			select {
			case calls <- args.Get(0).(context.Context):
			default:
			}
		}).Return(errors.New("no route to host"))
		f.live.On("PublishAlert", types.StatusError, types.SourceLocal, mock.Anything).Return()
		f.db.On("UpsertSourceState", mock.Anything, mock.Anything).Return(nil)
		f.db.On("InsertStatus", mock.Anything, mock.Anything).Return(nil)

		p, err := NewPoller(f.o, PollLocal, 10*time.Millisecond, time.Second)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()

		for i := 0; i < 2; i++ {
			select {
			case c := <-calls:
				_, ok := c.Deadline()
				assert.True(t, ok, "sync should run with a timeout")
			case <-time.After(2 * time.Second):
				t.Fatal("sync did not run")
			}
		}
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("poller did not stop")
		}
		f.cloud.AssertNotCalled(t, "TestConnection", mock.Anything)
	})
}

func TestPollerTimeoutIsRecorded(t *testing.T) {
	f := newFixture()
	f.gw.On("TestConnection", mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(context.DeadlineExceeded)
	f.live.On("PublishAlert", types.StatusError, types.SourceLocal, mock.Anything).Return()

	recorded := make(chan struct{}, 1)
	f.db.On("UpsertSourceState", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.MatchedBy(func(st types.SourceState) bool {
		return st.Name == types.SourceLocal && st.LastError != ""
	})).Return(nil)
	f.db.On("InsertStatus", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.MatchedBy(func(st types.SystemStatus) bool {
		return st.Status == types.StatusError && st.Component == types.SourceLocal
	})).Run(func(mock.Arguments) {
		recorded <- struct{}{}
	}).Return(nil)

	p, err := NewPoller(f.o, PollLocal, time.Hour, 50*time.Millisecond)
	require.NoError(t, err)

	res := p.runOnce(context.Background())
	assert.Equal(t, types.SyncUnavailable, res.State)
	select {
	case <-recorded:
	default:
		t.Fatal("status was not recorded")
	}
	f.db.AssertExpectations(t)
}

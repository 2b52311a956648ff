package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hippocampus/sessionsync/session"
)

func TestCoordinator_Cooldown(t *testing.T) {
	clk := newClock()
	c := session.NewCoordinator(testConfig{}, session.WithClock(clk.Now))
	var runs atomic.Int32
	check := func(context.Context) session.State {
		runs.Add(1)
		return session.State{Status: session.StatusAuthenticated}
	}

	state, ran := c.Run(context.Background(), false, check)
	require.True(t, ran)
	require.Equal(t, session.StatusAuthenticated, state.Status)

	clk.Advance(500 * time.Millisecond)
	_, ran = c.Run(context.Background(), false, check)
	require.False(t, ran)
	clk.Advance(time.Second)
	_, ran = c.Run(context.Background(), false, check)
	require.False(t, ran)
	require.Equal(t, int32(1), runs.Load())

	_, ran = c.Run(context.Background(), true, check)
	require.True(t, ran)
	require.Equal(t, int32(2), runs.Load())

	clk.Advance(2 * time.Second)
	_, ran = c.Run(context.Background(), false, check)
	require.True(t, ran)
	require.Equal(t, int32(3), runs.Load())
	require.Equal(t, int64(3), c.Runs())

	c.Reset()
	_, ran = c.Run(context.Background(), false, check)
	require.True(t, ran)
}

func TestCoordinator_SharesInFlightCheck(t *testing.T) {
	c := session.NewCoordinator(testConfig{})
	release := make(chan struct{})
	var runs atomic.Int32
	check := func(context.Context) session.State {
		runs.Add(1)
		<-release
		return session.State{Status: session.StatusExpired}
	}

	const callers = 10
	var wg sync.WaitGroup
	states := make([]session.State, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i], _ = c.Run(context.Background(), true, check)
		}(i)
	}
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), runs.Load())
	for _, s := range states {
		require.Equal(t, session.StatusExpired, s.Status)
	}
}

func TestCoordinator_CallerCancellation(t *testing.T) {
	c := session.NewCoordinator(testConfig{})
	release := make(chan struct{})
	finished := make(chan struct{})
	check := func(ctx context.Context) session.State {
		<-release
		if ctx.Err() == nil {
			close(finished)
		}
		return session.State{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ran := c.Run(ctx, true, check)
	require.False(t, ran)

	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("check was abandoned")
	}
}

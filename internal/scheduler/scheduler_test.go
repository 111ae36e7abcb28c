package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golangsnmp/snmpcollect/internal/testutil"
)

// probe records how many jobs run concurrently.
type probe struct {
	cur atomic.Int32
	max atomic.Int32
}

func (p *probe) enter() {
	n := p.cur.Add(1)
	for {
		m := p.max.Load()
		if n <= m || p.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (p *probe) leave() { p.cur.Add(-1) }

func TestNoOverlappingPolls(t *testing.T) {
	s := New(4, WithJitter(0))
	var device probe
	var runs atomic.Int32
	err := s.Add("sw1", 10*time.Millisecond, func(ctx context.Context) {
		device.enter()
		defer device.leave()
		runs.Add(1)
		time.Sleep(55 * time.Millisecond)
	})
	testutil.NoError(t, err)

	s.Start(context.Background())
	time.Sleep(300 * time.Millisecond)
	s.Stop()

	testutil.Equal(t, int32(1), device.max.Load())
	testutil.Greater(t, runs.Load(), int32(1))
	testutil.Greater(t, s.Skipped("sw1"), uint64(0))
	testutil.Equal(t, uint64(runs.Load()), s.Runs("sw1"))
}

func TestWorkerPoolBound(t *testing.T) {
	s := New(2, WithJitter(0))
	var pool probe
	for i := range 6 {
		err := s.Add(fmt.Sprintf("sw%d", i), 20*time.Millisecond, func(ctx context.Context) {
			pool.enter()
			defer pool.leave()
			time.Sleep(15 * time.Millisecond)
		})
		testutil.NoError(t, err)
	}
	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	testutil.Equal(t, int32(2), pool.max.Load())
}

func TestSkipWhileWaitingForSlot(t *testing.T) {
	s := New(1, WithJitter(0))
	release := make(chan struct{})
	var skips sync.Map
	s.onSkip = func(name string) { skips.Store(name, true) }

	testutil.NoError(t, s.Add("slow", 5*time.Millisecond, func(ctx context.Context) {
		<-release
	}))
	testutil.NoError(t, s.Add("starved", 5*time.Millisecond, func(ctx context.Context) {}))

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	close(release)
	s.Stop()

	_, ok := skips.Load("starved")
	testutil.True(t, ok, "starved device should skip while waiting for the pool")
	testutil.Greater(t, s.Skipped("slow"), uint64(0))
}

func TestPanicIsolated(t *testing.T) {
	s := New(2, WithJitter(0))
	var runs, other atomic.Int32
	testutil.NoError(t, s.Add("bad", 10*time.Millisecond, func(ctx context.Context) {
		if runs.Add(1) == 1 {
			panic("boom")
		}
	}))
	testutil.NoError(t, s.Add("good", 10*time.Millisecond, func(ctx context.Context) {
		other.Add(1)
	}))
	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	testutil.Greater(t, runs.Load(), int32(1))
	testutil.Greater(t, other.Load(), int32(1))
}

func TestStopWaitsForRunningJobs(t *testing.T) {
	s := New(1, WithJitter(0))
	started := make(chan struct{})
	var finished atomic.Bool
	var once sync.Once
	testutil.NoError(t, s.Add("sw1", time.Hour, func(ctx context.Context) {
		once.Do(func() { close(started) })
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}))
	s.Start(context.Background())
	<-started
	s.Stop()
	testutil.True(t, finished.Load())
}

func TestCancelAbortsWaitingJobs(t *testing.T) {
	s := New(1, WithJitter(0))
	ctx, cancel := context.WithCancel(context.Background())
	var sawCancel atomic.Bool
	testutil.NoError(t, s.Add("sw1", time.Hour, func(ctx context.Context) {
		<-ctx.Done()
		sawCancel.Store(true)
	}))
	s.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	s.Stop()
	testutil.True(t, sawCancel.Load())
}

func TestAddErrors(t *testing.T) {
	s := New(1)
	testutil.Error(t, s.Add("sw1", 0, func(context.Context) {}))
	testutil.NoError(t, s.Add("sw1", time.Second, func(context.Context) {}))
	testutil.Error(t, s.Add("sw1", time.Second, func(context.Context) {}))
}

func TestEverySchedule(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &everySchedule{interval: 10 * time.Second, jitter: 3 * time.Second}

	testutil.Equal(t, t0.Add(3*time.Second), s.Next(t0))
	testutil.Equal(t, t0.Add(13*time.Second), s.Next(t0.Add(3100*time.Millisecond)))
	testutil.Equal(t, t0.Add(23*time.Second), s.Next(t0.Add(13*time.Second)))
	// Far behind: phase is kept, missed ticks are not replayed.
	testutil.Equal(t, t0.Add(53*time.Second), s.Next(t0.Add(45*time.Second)))

	sub := &everySchedule{interval: 250 * time.Millisecond}
	testutil.Equal(t, t0, sub.Next(t0))
	testutil.Equal(t, t0.Add(250*time.Millisecond), sub.Next(t0.Add(time.Millisecond)))
}

func TestJitter(t *testing.T) {
	s := New(1)
	for range 100 {
		j := s.jitterFor(time.Second)
		testutil.True(t, j >= 0 && j < time.Second, "jitter %v", j)
	}

	s = New(1, WithJitter(100*time.Millisecond))
	for range 100 {
		j := s.jitterFor(time.Minute)
		testutil.True(t, j >= 0 && j < 100*time.Millisecond, "jitter %v", j)
	}

	testutil.Equal(t, time.Duration(0), New(1, WithJitter(0)).jitterFor(time.Minute))
}

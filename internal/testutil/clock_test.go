package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	assert.True(t, NewFakeClock().Now().Equal(DefaultEpoch))

	start := time.Date(2030, time.March, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, NewFakeClockAt(start).Now().Equal(start))
}

func TestFakeClock_TimersWaitForAdvance(t *testing.T) {
	clk := NewFakeClock()
	fired := false
	clk.AfterFunc(time.Second, func() { fired = true })

	clk.Advance(999 * time.Millisecond)
	assert.False(t, fired)
	assert.Equal(t, 1, clk.Pending())

	clk.Advance(time.Millisecond)
	assert.True(t, fired)
	assert.Equal(t, 0, clk.Pending())
}

func TestFakeClock_FiresInDeadlineOrder(t *testing.T) {
	clk := NewFakeClock()
	var order []string
	var seen []time.Duration
	record := func(name string) func() {
		return func() {
			order = append(order, name)
			seen = append(seen, clk.Now().Sub(DefaultEpoch))
		}
	}

	clk.AfterFunc(3*time.Second, record("c"))
	clk.AfterFunc(time.Second, record("a"))
	clk.AfterFunc(time.Second, record("b"))

	clk.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, []time.Duration{time.Second, time.Second, 3 * time.Second}, seen)
	assert.Equal(t, 5*time.Second, clk.Now().Sub(DefaultEpoch))
}

func TestFakeClock_Stop(t *testing.T) {
	clk := NewFakeClock()
	fired := false
	timer := clk.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	clk.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, clk.Pending())
}

func TestFakeClock_StopAfterFire(t *testing.T) {
	clk := NewFakeClock()
	timer := clk.AfterFunc(0, func() {})
	clk.Advance(0)
	assert.False(t, timer.Stop())
}

func TestFakeClock_NestedTimers(t *testing.T) {
	clk := NewFakeClock()
	var at []time.Duration
	clk.AfterFunc(time.Second, func() {
		at = append(at, clk.Now().Sub(DefaultEpoch))
		clk.AfterFunc(time.Second, func() {
			at = append(at, clk.Now().Sub(DefaultEpoch))
		})
		clk.AfterFunc(time.Hour, func() {
			at = append(at, clk.Now().Sub(DefaultEpoch))
		})
	})

	clk.Advance(3 * time.Second)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, at)
	assert.Equal(t, 1, clk.Pending())
}

func TestFakeClock_Set(t *testing.T) {
	clk := NewFakeClock()
	fired := false
	clk.AfterFunc(time.Minute, func() { fired = true })

	clk.Set(DefaultEpoch.Add(2 * time.Minute))
	assert.True(t, fired)
	assert.True(t, clk.Now().Equal(DefaultEpoch.Add(2*time.Minute)))

	// Moving backwards only changes Now.
	fired = false
	clk.AfterFunc(time.Second, func() { fired = true })
	clk.Set(DefaultEpoch)
	assert.False(t, fired)
	assert.True(t, clk.Now().Equal(DefaultEpoch))
	assert.Equal(t, 1, clk.Pending())
}

func TestFakeClock_ConcurrentScheduling(t *testing.T) {
	clk := NewFakeClock()
	const n = 50

	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clk.AfterFunc(time.Millisecond, func() {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	require.Equal(t, n, clk.Pending())
	clk.Advance(time.Millisecond)
	assert.Equal(t, n, count)
}

package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_FiresOnlyWhenDue(t *testing.T) {
	clock := NewFakeClock()
	fired := 0
	clock.AfterFunc(5*time.Second, func() { fired++ })

	clock.Advance(4 * time.Second)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(time.Second)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, clock.Pending())

	// Never fires twice
	clock.Advance(time.Hour)
	assert.Equal(t, 1, fired)
}

func TestFakeClock_DeadlineOrder(t *testing.T) {
	clock := NewFakeClock()
	var order []string
	clock.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	clock.AfterFunc(time.Second, func() { order = append(order, "a") })
	clock.AfterFunc(time.Second, func() { order = append(order, "b") })

	clock.Advance(10 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestFakeClock_Stop(t *testing.T) {
	clock := NewFakeClock()
	fired := false
	timer := clock.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports false")

	clock.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, clock.Pending())
}

func TestFakeClock_Now(t *testing.T) {
	clock := NewFakeClock()
	start := clock.Now()
	clock.Advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, clock.Now().Sub(start))
}

func TestSequentialHandles(t *testing.T) {
	gen := NewSequentialHandles("")
	assert.Equal(t, "h1", gen.Generate())
	assert.Equal(t, "h2", gen.Generate())

	custom := NewSequentialHandles("view-")
	assert.Equal(t, "view-1", custom.Generate())
}

func TestSequentialHandles_ThreadSafe(t *testing.T) {
	gen := NewSequentialHandles("x")
	var wg sync.WaitGroup
	seen := make(chan string, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- gen.Generate()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[string]bool)
	for h := range seen {
		unique[h] = true
	}
	assert.Len(t, unique, 100)
}

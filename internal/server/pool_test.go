package server

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsWork(t *testing.T) {
	p := NewPool(2, 4, time.Second, 8)
	defer p.Shutdown()

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		p.Submit(func() {
			n.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	require.Equal(t, int32(20), n.Load())
}

func TestPoolGrowsOnDemand(t *testing.T) {
	p := NewPool(1, 4, time.Second, 1)
	defer p.Shutdown()

	block := make(chan struct{})
	var started sync.WaitGroup
	for i := 0; i < 4; i++ {
		started.Add(1)
		p.Submit(func() {
			started.Done()
			<-block
		})
	}
	// all four items must be running concurrently, which needs growth
	done := make(chan struct{})
	go func() {
		started.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not grow to run queued work")
	}
	total, active := p.Stats()
	require.Equal(t, 4, active)
	require.GreaterOrEqual(t, total, 4)
	close(block)
}

func TestPoolShrinksToMin(t *testing.T) {
	p := NewPool(1, 8, 50*time.Millisecond, 8)
	defer p.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		p.Submit(func() {
			time.Sleep(20 * time.Millisecond)
			wg.Done()
		})
	}
	wg.Wait()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if total, _ := p.Stats(); total == 1 {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	total, _ := p.Stats()
	t.Fatalf("pool did not shrink to min: total=%d", total)
}

func TestPoolShutdownDrains(t *testing.T) {
	p := NewPool(2, 2, time.Second, 16)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		p.Submit(func() { n.Add(1) })
	}
	p.Shutdown()
	require.Equal(t, int32(10), n.Load())

	// submits after shutdown are ignored, not panics
	p.Submit(func() { n.Add(1) })
	require.Equal(t, int32(10), n.Load())
}

package delivery_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nvaistore/partransport/delivery"
	"github.com/nvaistore/partransport/wire"
)

func TestPoolPriorityOrder(t *testing.T) {
	p := delivery.NewPool(time.Second)
	defer p.Close()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	wg.Add(3)
	record := func(n int) func() {
		return func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			wg.Done()
		}
	}
	p.Enqueue(&delivery.Item{Priority: wire.LOW, Deliver: record(1)})
	p.Enqueue(&delivery.Item{Priority: wire.TOP, Deliver: record(2)})
	p.Enqueue(&delivery.Item{Priority: wire.NORMAL, Deliver: record(3)})
	// all three are queued before the pool starts draining
	go p.Run()
	wg.Wait()

	require.Equal(t, []int{2, 3, 1}, order)
}

func TestPoolBlockingDetection(t *testing.T) {
	p := delivery.NewPool(10 * time.Millisecond)
	go p.Run()
	defer p.Close()

	done := make(chan struct{})
	p.Enqueue(&delivery.Item{Deliver: func() {
		time.Sleep(50 * time.Millisecond)
		close(done)
	}})
	<-done
	require.Eventually(t, func() bool { return p.Blocking() }, time.Second, time.Millisecond)
}

func TestRouterMigratesOnBlocking(t *testing.T) {
	r := delivery.NewRouter(5 * time.Millisecond)

	block := make(chan struct{})
	r.Enqueue("c1", 0, 5*time.Millisecond, &delivery.Item{Deliver: func() {
		time.Sleep(30 * time.Millisecond)
		close(block)
	}})
	<-block

	delivered := make(chan string, 1)
	require.Eventually(t, func() bool {
		r.Enqueue("c2", 0, 5*time.Millisecond, &delivery.Item{Deliver: func() { delivered <- "c2" }})
		select {
		case <-delivered:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

package ptnet

import (
	"net"
	"sync"
	"time"
)

// shutdownTask is SocketShutdownTask (spec.md §4.12): a server-side
// one-shot that closes an accepted connection if the application never
// reaches an accept/reject decision within confirmTimeout.
type shutdownTask struct {
	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
}

func newShutdownTask(conn net.Conn, after time.Duration) *shutdownTask {
	t := &shutdownTask{}
	t.timer = time.AfterFunc(after, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !t.cancelled {
			conn.Close()
		}
	})
	return t
}

func (t *shutdownTask) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
	t.timer.Stop()
}

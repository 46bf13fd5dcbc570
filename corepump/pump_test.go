package corepump_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nvaistore/partransport/corepump"
	"github.com/nvaistore/partransport/ptatomic"
	"github.com/nvaistore/partransport/wire"
)

func TestQueuePriorityOrder(t *testing.T) {
	q := corepump.NewQueue()
	q.Push(&wire.Parcel{Priority: wire.LOW, ObjectID: 1})
	q.Push(&wire.Parcel{Priority: wire.TOP, ObjectID: 2})
	q.Push(&wire.Parcel{Priority: wire.NORMAL, ObjectID: 3})

	p1, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, int64(2), p1.ObjectID)

	p2, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, int64(3), p2.ObjectID)

	p3, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, int64(1), p3.ObjectID)
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := corepump.NewQueue()
	q.Push(&wire.Parcel{Priority: wire.NORMAL, ObjectID: 1})
	q.Push(&wire.Parcel{Priority: wire.NORMAL, ObjectID: 2})

	p1, _ := q.Pop()
	p2, _ := q.Pop()
	require.Equal(t, int64(1), p1.ObjectID)
	require.Equal(t, int64(2), p2.ObjectID)
}

func TestPumpWritesAndDecrementsLoad(t *testing.T) {
	q := corepump.NewQueue()
	var buf bytes.Buffer
	load := &ptatomic.Int64{}
	load.Store(1000)

	pump := corepump.NewPump(q, &buf)
	pump.SendLoad = load
	var sentCalled bool
	go pump.Run()

	p := &wire.Parcel{Channel: wire.SIGNAL, Priority: wire.NORMAL, ObjectID: 1, Payload: []byte("hi")}
	p.OnSent = func() { sentCalled = true }
	q.Push(p)

	require.Eventually(t, func() bool { return sentCalled }, time.Second, time.Millisecond)
	require.Equal(t, int64(1000-int64(p.Len())), load.Load())
	pump.Stop()
	<-pump.Done()
}

func TestPumpDropsCancelledFileParcel(t *testing.T) {
	q := corepump.NewQueue()
	var buf bytes.Buffer
	pump := corepump.NewPump(q, &buf)
	pump.IsCancelled = func(p *wire.Parcel) bool { return p.Channel == wire.FILE }
	go pump.Run()

	q.Push(&wire.Parcel{Channel: wire.FILE, ObjectID: 9, Payload: []byte("xxx")})
	q.Push(&wire.Parcel{Channel: wire.SIGNAL, ObjectID: 1})

	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	pump.Stop()
	<-pump.Done()
	require.NotContains(t, buf.String(), "xxx")
}

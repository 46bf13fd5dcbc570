package sendsep

import (
	"bufio"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/nvaistore/partransport/ioex"
	"github.com/nvaistore/partransport/wire"
)

// State is SendFileOrder's lifecycle (spec.md §3).
type State int

const (
	Ongoing State = iota
	Closed
)

var (
	ErrEmptyRemotePath    = errors.New("sendsep: remotePath must be non-empty")
	ErrNegativeTransaction = errors.New("sendsep: transaction must be >= 0")
)

// SendFileOrder tracks one outgoing file transmission (spec.md §4.4). Less
// defines a strict ordering — higher priority first, lower fileId first
// within a priority. conn's file queue is a FIFO channel and does not use
// Less: orders are sent in submission order, regardless of priority.
type SendFileOrder struct {
	FileID            int64
	LocalPath         string
	RemotePath        string
	Priority          wire.Priority
	Transaction       int64
	FileLength        int64
	ParcelCount       int64
	TransmittedLength int64
	ParcelsSent       int64
	State             State
	InsertionTime     time.Time

	file    *os.File
	reader  *bufio.Reader
	release func()
	crc     uint32
	nextSeq int32
}

// NewSendFileOrder validates the invariants spec.md §3 lists for
// SendFileOrder before any IO is attempted.
func NewSendFileOrder(fileID int64, localPath, remotePath string, priority wire.Priority, transaction int64) (*SendFileOrder, error) {
	if remotePath == "" {
		return nil, ErrEmptyRemotePath
	}
	if transaction < 0 {
		return nil, ErrNegativeTransaction
	}
	return &SendFileOrder{
		FileID:        fileID,
		LocalPath:     localPath,
		RemotePath:    remotePath,
		Priority:      priority,
		Transaction:   transaction,
		InsertionTime: time.Now(),
		State:         Ongoing,
	}, nil
}

// Less orders by priority desc, then fileId asc (spec.md §4.4).
func (o *SendFileOrder) Less(other *SendFileOrder) bool {
	if o.Priority != other.Priority {
		return o.Priority > other.Priority
	}
	return o.FileID < other.FileID
}

// StartSending reserves the local path for reading, computes the whole-file
// CRC needed for parcel 0's extended header, and opens a buffered reader
// positioned at the start (spec.md §4.4).
func (o *SendFileOrder) StartSending(table *ioex.Table, parcelSize int64) error {
	release, ok := table.Acquire(o.LocalPath, ioex.OUTGOING)
	if !ok {
		return ioex.ErrFileInTransmission
	}
	o.release = release

	fi, err := os.Stat(o.LocalPath)
	if err != nil {
		release()
		return pkgerrors.Wrapf(err, "sendsep: stat %q", o.LocalPath)
	}
	o.FileLength = fi.Size()
	o.ParcelCount = parcelCount(o.FileLength, parcelSize)

	crcFile, err := os.Open(o.LocalPath)
	if err != nil {
		release()
		return pkgerrors.Wrapf(err, "sendsep: open %q for CRC pass", o.LocalPath)
	}
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, crcFile); err != nil {
		crcFile.Close()
		release()
		return pkgerrors.Wrapf(err, "sendsep: CRC pass over %q", o.LocalPath)
	}
	crcFile.Close()
	o.crc = h.Sum32()

	f, err := os.Open(o.LocalPath)
	if err != nil {
		release()
		return pkgerrors.Wrapf(err, "sendsep: reopen %q for sending", o.LocalPath)
	}
	o.file = f
	o.reader = bufio.NewReader(f)
	return nil
}

// NextParcel reads up to parcelSize bytes and returns the corresponding
// parcel; returns (nil, nil, true) once the file has been fully read and
// all parcels have been handed out.
func (o *SendFileOrder) NextParcel(parcelSize int64) (p *wire.Parcel, err error, eof bool) {
	if o.ParcelsSent >= o.ParcelCount {
		return nil, nil, true
	}
	buf := make([]byte, parcelSize)
	n, rerr := io.ReadFull(o.reader, buf)
	if rerr != nil && rerr != io.ErrUnexpectedEOF && rerr != io.EOF {
		return nil, rerr, false
	}
	buf = buf[:n]

	p = &wire.Parcel{
		Channel:    wire.FILE,
		Priority:   o.Priority,
		ObjectID:   o.FileID,
		SequenceNr: o.nextSeq,
		Payload:    buf,
	}
	if o.nextSeq == 0 {
		p.Ext = &wire.ExtHeader{
			Priority:         int8(o.Priority),
			TransmissionSize: o.FileLength,
			ParcelCount:      o.ParcelCount,
			ObjectCRC32:      o.crc,
			Path:             o.RemotePath,
		}
	}
	o.nextSeq++
	o.ParcelsSent++
	o.TransmittedLength += int64(n)
	return p, nil, false
}

// AbortDeadline computes the AbortFileTimeout deadline attached to the final
// parcel (spec.md §4.4): confirmTimeout plus 15s per completed gigabyte.
func (o *SendFileOrder) AbortDeadline(confirmTimeout time.Duration) time.Duration {
	gigs := o.TransmittedLength / 1_000_000_000
	return confirmTimeout + time.Duration(gigs)*15*time.Second
}

// IsLastParcel reports whether the parcel just emitted was the final one.
func (o *SendFileOrder) IsLastParcel() bool { return o.ParcelsSent >= o.ParcelCount }

// Close closes the local file and releases the IO-exclusion reservation on
// a successful completion path (CONFIRM received).
func (o *SendFileOrder) Close() {
	if o.file != nil {
		o.file.Close()
	}
	if o.release != nil {
		o.release()
	}
	o.State = Closed
}

// BreakTransfer closes the file and releases the reservation on any abort
// path (spec.md §4.4: "closes file, releases IO reservation, removes from
// sender map"); the caller is responsible for removing it from the
// connection's map and firing the BREAK signal / FILE_ABORTED event.
func (o *SendFileOrder) BreakTransfer() {
	o.Close()
}

func (o *SendFileOrder) String() string {
	return fmt.Sprintf("sendfile[id=%d remote=%q %d/%d parcels]", o.FileID, o.RemotePath, o.ParcelsSent, o.ParcelCount)
}

package agglom

import (
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/rs/xid"

	"github.com/nvaistore/partransport/wire"
)

var ErrNoRootDir = errors.New("agglom: fileRootDir is not configured")

// FileAgglomerator streams one incoming file transmission into a temp file
// under the configured root, verifying its CRC and renaming into place on
// completion (spec.md §4.4).
type FileAgglomerator struct {
	FileID       int64
	DestPath     string // relative to root, from parcel 0's extended header
	ExpectedSize int64
	ParcelCount  int64
	ExpectedCRC  uint32

	rootDir  string
	tmp      *os.File
	tmpPath  string
	crc      uint32
	received int64
	length   int64
}

// NewFileAgglomerator validates the root dir and opens the temp file
// (spec.md §4.8: "If sequenceNr==0 and agglomerator cannot be constructed
// (e.g., root dir unset): reply with BREAK signal, info=1").
func NewFileAgglomerator(rootDir string, fileID int64, ext *wire.ExtHeader) (*FileAgglomerator, error) {
	if rootDir == "" {
		return nil, ErrNoRootDir
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}
	// fileID is only unique per sending connection; a globally-unique xid
	// suffix keeps two peers writing into the same rootDir from colliding
	// on the temp path (same convention as the teacher's daemon/proxy IDs,
	// cmn/cos/uuid.go, generalized from shortid to rs/xid's sortable ID).
	tmpPath := filepath.Join(rootDir, fmt.Sprintf(".partransport-incoming-%d-%s", fileID, xid.New().String()))
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileAgglomerator{
		FileID:       fileID,
		DestPath:     ext.Path,
		ExpectedSize: ext.TransmissionSize,
		ParcelCount:  ext.ParcelCount,
		ExpectedCRC:  ext.ObjectCRC32,
		rootDir:      rootDir,
		tmp:          f,
		tmpPath:      tmpPath,
	}, nil
}

// Digest writes one parcel's payload, enforcing strict sequence order.
func (a *FileAgglomerator) Digest(p *wire.Parcel) error {
	if int64(p.SequenceNr) != a.received {
		return fmt.Errorf("%w: file %d want seq %d got %d", ErrOutOfOrder, a.FileID, a.received, p.SequenceNr)
	}
	if _, err := a.tmp.Write(p.Payload); err != nil {
		return err
	}
	a.crc = crc32.Update(a.crc, crc32.IEEETable, p.Payload)
	a.length += int64(len(p.Payload))
	a.received++
	return nil
}

func (a *FileAgglomerator) Complete() bool { return a.received >= a.ParcelCount }

// Finish verifies the CRC and renames the temp file to its destination
// (spec.md §4.4: "on completion verifies CRC, renames to destination
// relative to root").
func (a *FileAgglomerator) Finish() (string, error) {
	if err := a.tmp.Close(); err != nil {
		return "", err
	}
	if a.crc != a.ExpectedCRC {
		os.Remove(a.tmpPath)
		return "", fmt.Errorf("agglom: file %d crc mismatch: got %08x want %08x", a.FileID, a.crc, a.ExpectedCRC)
	}
	dest := filepath.Join(a.rootDir, a.DestPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(a.tmpPath, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Abort deletes the temp file (spec.md §4.4: "on abort deletes temp").
func (a *FileAgglomerator) Abort() {
	a.tmp.Close()
	os.Remove(a.tmpPath)
}

// Package agglom implements spec.md §4.4/§4.8's receive-side reassemblers:
// ObjectAgglomerator and FileAgglomerator. Both consume parcels in strict
// sequence order for one object/file id, mirroring the discipline
// transport/pdu.go's rpdu applies to a single PDU stream (readHdr once,
// then readFrom repeatedly, tracking plength/woff against a declared
// length) generalized from "one PDU" to "the whole multi-parcel object".
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package agglom

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/nvaistore/partransport/codec"
	"github.com/nvaistore/partransport/wire"
)

var (
	ErrOutOfOrder    = errors.New("agglom: parcel arrived out of order")
	ErrOversized     = errors.New("agglom: declared size exceeds cap")
	ErrCodecMismatch = errors.New("agglom: codec method does not match parcel 0")
)

// ObjectAgglomerator reassembles one OBJECT-channel transmission.
type ObjectAgglomerator struct {
	ObjectID     int64
	CodecMethod  codec.Method
	Priority     wire.Priority
	ExpectedSize int64
	ParcelCount  int64
	ObjectCRC32  uint32

	received int64
	buf      bytes.Buffer
}

// NewObjectAgglomerator constructs the reassembler from parcel 0's extended
// header, enforcing the declared-size cap (spec.md §4.4: "fails if ...
// declared size exceeds parameter cap").
func NewObjectAgglomerator(objectID int64, ext *wire.ExtHeader, maxSerialisationSize int64) (*ObjectAgglomerator, error) {
	if ext.TransmissionSize > maxSerialisationSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrOversized, ext.TransmissionSize, maxSerialisationSize)
	}
	return &ObjectAgglomerator{
		ObjectID:     objectID,
		CodecMethod:  codec.Method(ext.CodecMethod),
		Priority:     wire.Priority(ext.Priority),
		ExpectedSize: ext.TransmissionSize,
		ParcelCount:  ext.ParcelCount,
		ObjectCRC32:  ext.ObjectCRC32,
	}, nil
}

// Digest consumes the next parcel, which must carry SequenceNr == the
// number of parcels already received (spec.md §8 invariant: "accepts only
// parcels with sequence number equal to the next expected; any skipped or
// duplicate sequence number causes the connection to close").
func (a *ObjectAgglomerator) Digest(p *wire.Parcel) error {
	if int64(p.SequenceNr) != a.received {
		return fmt.Errorf("%w: object %d want seq %d got %d", ErrOutOfOrder, a.ObjectID, a.received, p.SequenceNr)
	}
	a.buf.Write(p.Payload)
	a.received++
	return nil
}

// Complete reports whether every declared parcel has arrived.
func (a *ObjectAgglomerator) Complete() bool { return a.received >= a.ParcelCount }

// Decode verifies the accumulated payload's CRC and hands it to c.
func (a *ObjectAgglomerator) Decode(c codec.Codec) (any, error) {
	if got := crc32.ChecksumIEEE(a.buf.Bytes()); got != a.ObjectCRC32 {
		return nil, fmt.Errorf("agglom: object %d crc mismatch: got %08x want %08x", a.ObjectID, got, a.ObjectCRC32)
	}
	return c.Deserialize(a.buf.Bytes())
}

// Package sendsep implements spec.md §4.3/§4.4's send-side splitters:
// ObjectSendSeparation (lazy per-object parcelization) and SendFileOrder
// (per-file send state, IO-exclusion reservation, confirm-timeout wiring).
// Both mirror the teacher's spdu (transport/pdu.go): readFrom() pulls the
// next chunk lazily from the underlying reader and marks `done`/`last` when
// exhausted, rather than splitting everything up front.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package sendsep

import (
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/nvaistore/partransport/codec"
	"github.com/nvaistore/partransport/wire"
)

var ErrOversizedSerialization = errors.New("sendsep: serialization exceeds maxSerialisationSize")

// ObjectSendSeparation lazily splits one application object into parcels on
// first NextParcel() call (spec.md §4.3).
type ObjectSendSeparation struct {
	ObjectID    int64
	CodecMethod codec.Method
	Priority    wire.Priority

	obj        any
	parcelSize int64
	maxSize    int64

	serialized []byte
	objectCRC  uint32
	nextSeq    int32
	started    bool
	exhausted  bool
}

func NewObjectSendSeparation(objectID int64, obj any, method codec.Method, priority wire.Priority, parcelSize, maxSize int64) *ObjectSendSeparation {
	return &ObjectSendSeparation{
		ObjectID:    objectID,
		CodecMethod: method,
		Priority:    priority,
		obj:         obj,
		parcelSize:  parcelSize,
		maxSize:     maxSize,
	}
}

// NextParcel returns the next parcel, or (nil, nil) once exhausted (spec.md
// §4.3: "Returns next parcel until exhausted, then returns none").
func (s *ObjectSendSeparation) NextParcel(c codec.Codec) (*wire.Parcel, error) {
	if s.exhausted {
		return nil, nil
	}
	if !s.started {
		b, err := c.Serialize(s.obj)
		if err != nil {
			return nil, err
		}
		if int64(len(b)) > s.maxSize {
			return nil, fmt.Errorf("%w: %d > %d", ErrOversizedSerialization, len(b), s.maxSize)
		}
		s.serialized = b
		s.objectCRC = crc32.ChecksumIEEE(b)
		s.started = true
	}

	start := int64(s.nextSeq) * s.parcelSize
	if start >= int64(len(s.serialized)) && len(s.serialized) > 0 {
		s.exhausted = true
		return nil, nil
	}
	end := start + s.parcelSize
	if end > int64(len(s.serialized)) {
		end = int64(len(s.serialized))
	}
	chunk := s.serialized[start:end]

	p := &wire.Parcel{
		Channel:    wire.OBJECT,
		Priority:   s.Priority,
		ObjectID:   s.ObjectID,
		SequenceNr: s.nextSeq,
		Payload:    chunk,
	}
	if s.nextSeq == 0 {
		p.Ext = &wire.ExtHeader{
			CodecMethod:      int8(s.CodecMethod),
			Priority:         int8(s.Priority),
			TransmissionSize: int64(len(s.serialized)),
			ParcelCount:      parcelCount(int64(len(s.serialized)), s.parcelSize),
			ObjectCRC32:      s.objectCRC,
		}
	}
	s.nextSeq++
	if end == int64(len(s.serialized)) {
		s.exhausted = true
	}
	return p, nil
}

func parcelCount(length, parcelSize int64) int64 {
	if length == 0 {
		return 1
	}
	n := (length + parcelSize - 1) / parcelSize
	if n < 1 {
		n = 1
	}
	return n
}

// Package ioex implements spec.md §5's IOManager: a process-wide table that
// forbids concurrent local read/write on the same file path. A file being
// written cannot be concurrently read or written; a file being read may be
// read by any number of additional readers but not written. Read entries
// are reference-counted. spec.md §1 lists IOManager as an external
// collaborator (a "file-path root manager and mutual-exclusion table"); this
// package is the concrete table the engine's send/receive paths depend on.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ioex

import (
	"sync"

	"github.com/OneOfOne/xxhash"
)

// numShards splits the exclusion table across independent mutexes, keyed by
// xxhash of the path (the same hash the teacher uses for ID sharding in
// cmn/cos/uuid.go's HashK8sProxyID), so readers/writers on unrelated paths
// never contend on one lock.
const numShards = 32

// Direction mirrors spec.md §4.4's SendFileOrder.startSending() call shape:
// OUTGOING means this connection intends to read the local file (to send
// it); INCOMING means it intends to write the local file (to receive one).
type Direction int

const (
	OUTGOING Direction = iota // local read
	INCOMING                  // local write
)

type entry struct {
	readers int
	writing bool
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Table is the shared mutual-exclusion table. One instance is process-wide.
type Table struct {
	shards [numShards]*shard
}

func NewTable() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i] = &shard{entries: make(map[string]*entry, 8)}
	}
	return t
}

// ioexSalt mirrors the teacher's fixed-seed hashing convention (fs/hrw.go,
// cmn/cos/uuid.go both seed xxhash with a package constant).
const ioexSalt = 0x811c9dc5

func (t *Table) shardFor(path string) *shard {
	return t.shards[xxhash.ChecksumString64S(path, ioexSalt)%uint64(numShards)]
}

// Acquire attempts to reserve path for the given direction. On success it
// returns a release func that must be called exactly once. On failure
// (spec.md §4.4: "fails FileInTransmission if denied") it returns ok=false.
func (t *Table) Acquire(path string, dir Direction) (release func(), ok bool) {
	s := t.shardFor(path)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[path]
	switch dir {
	case OUTGOING: // local read
		if e != nil && e.writing {
			return nil, false
		}
		if e == nil {
			e = &entry{}
			s.entries[path] = e
		}
		e.readers++
		return func() { t.releaseRead(path) }, true
	case INCOMING: // local write
		if e != nil && (e.writing || e.readers > 0) {
			return nil, false
		}
		s.entries[path] = &entry{writing: true}
		return func() { t.releaseWrite(path) }, true
	default:
		return nil, false
	}
}

func (t *Table) releaseRead(path string) {
	s := t.shardFor(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[path]
	if !ok {
		return
	}
	e.readers--
	if e.readers <= 0 && !e.writing {
		delete(s.entries, path)
	}
}

func (t *Table) releaseWrite(path string) {
	s := t.shardFor(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, path)
}

// ErrFileInTransmission is returned by SendFileOrder.startSending() (spec.md
// §4.4) when the IO-exclusion table denies a reservation.
var ErrFileInTransmission = errFileInTransmission{}

type errFileInTransmission struct{}

func (errFileInTransmission) Error() string { return "file is already in transmission" }

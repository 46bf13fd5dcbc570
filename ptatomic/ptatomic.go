// Package ptatomic provides small wrapper types over sync/atomic, the same
// role the teacher's (unexported-source) cmn/atomic package plays for every
// file across the transport package: conn and corepump use these for their
// shared counters and flags (send load, state, object ids, all-sent flags);
// a few of conn's fields, such as the idle-check volume counter, are plain
// int64/time.Time fields.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ptatomic

import "sync/atomic"

type Int64 struct{ v atomic.Int64 }

func (i *Int64) Load() int64        { return i.v.Load() }
func (i *Int64) Store(n int64)      { i.v.Store(n) }
func (i *Int64) Add(n int64) int64  { return i.v.Add(n) }
func (i *Int64) CAS(old, new int64) bool {
	return i.v.CompareAndSwap(old, new)
}

type Int32 struct{ v atomic.Int32 }

func (i *Int32) Load() int32       { return i.v.Load() }
func (i *Int32) Store(n int32)     { i.v.Store(n) }
func (i *Int32) Add(n int32) int32 { return i.v.Add(n) }
func (i *Int32) CAS(old, new int32) bool {
	return i.v.CompareAndSwap(old, new)
}

type Uint32 struct{ v atomic.Uint32 }

func (u *Uint32) Load() uint32       { return u.v.Load() }
func (u *Uint32) Store(n uint32)     { u.v.Store(n) }
func (u *Uint32) Add(n uint32) uint32 { return u.v.Add(n) }

type Bool struct{ v atomic.Bool }

func (b *Bool) Load() bool             { return b.v.Load() }
func (b *Bool) Store(v bool)           { b.v.Store(v) }
func (b *Bool) CAS(old, new bool) bool { return b.v.CompareAndSwap(old, new) }

// Swap sets the new value and returns the prior one.
func (b *Bool) Swap(v bool) bool { return b.v.Swap(v) }

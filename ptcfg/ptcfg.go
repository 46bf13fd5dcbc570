// Package ptcfg is the external collaborator named in spec.md §1 ("the
// configuration object loader"): it owns ConnParams' defaults, validity
// ranges, and environment-variable overrides. The teacher's own config
// loader (cmn.Config, referenced throughout transport/*.go as
// extra.Config / cmn.GCO.Get()) is itself a hand-rolled struct with
// defaults and a Validate() method loaded from JSON plus env var
// overrides (see transport/tinit.go's AIS_STREAM_BURST_NUM) — ptcfg
// follows the same shape except for file loading: it has defaults, a
// Validate() method and PT_* env overrides, and does not read JSON or any
// other config file.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ptcfg

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DeliveryThreadUsage selects global vs per-connection delivery pool mode.
type DeliveryThreadUsage int

const (
	Global DeliveryThreadUsage = iota
	Individual
)

func (d DeliveryThreadUsage) String() string {
	if d == Individual {
		return "INDIVIDUAL"
	}
	return "GLOBAL"
}

// ConnParams holds every mutable knob named in spec.md §6. Structural knobs
// (queue capacities) may only be changed before CONNECTED; live knobs
// propagate to running components at any time (enforced by params.Monitor,
// not by this struct).
type ConnParams struct {
	FileRootDir string

	BaseThreadPriority   int
	TransmitThreadPriority int

	TransmissionParcelSize int64
	ParcelQueueCapacity    int
	ObjectQueueCapacity    int

	AlivePeriod   time.Duration
	ConfirmTimeout time.Duration

	SerialisationMethod int8

	IdleThreshold   int64 // bytes/minute, 0 = off
	IdleCheckPeriod time.Duration

	TransmissionSpeed int64 // bytes/s; -1 unlimited, 0 paused

	MaxSerialisationSize int64

	DeliverTolerance time.Duration
	DeliveryThreads  DeliveryThreadUsage
}

const (
	MinTransmissionParcelSize = 1024
	MaxTransmissionParcelSize = 256 * 1024

	MinParcelQueueCapacity = 10
	MaxParcelQueueCapacity = 10000

	MinObjectQueueCapacity = 1
	MaxObjectQueueCapacity = 10000

	MinAlivePeriod = 5000 * time.Millisecond
	MaxAlivePeriod = 300000 * time.Millisecond

	MinConfirmTimeout = 1000 * time.Millisecond

	MinIdleCheckPeriod = 5000 * time.Millisecond

	MinMaxSerialisationSize = 10000

	MinDeliverTolerance = 1000 * time.Millisecond

	MinSendLoad = 64 * 1024
	MaxSendLoad = 256 * 1024 * 1024
)

// Default returns the spec.md §6 default ConnParams.
func Default() ConnParams {
	return ConnParams{
		TransmissionParcelSize: 65536,
		ParcelQueueCapacity:    600,
		ObjectQueueCapacity:    200,
		AlivePeriod:            0,
		ConfirmTimeout:         30000 * time.Millisecond,
		SerialisationMethod:    0,
		IdleThreshold:          0,
		IdleCheckPeriod:        60000 * time.Millisecond,
		TransmissionSpeed:      -1,
		MaxSerialisationSize:   100 * 1024 * 1024,
		DeliverTolerance:       10000 * time.Millisecond,
		DeliveryThreads:        Global,
	}
}

// clamp64 brings a value such as a requested parcel size within [lo,hi] (spec.md §8
// boundary: "Parcel size set below MIN_TRANSMISSION_PARCEL_SIZE clamps to
// the minimum").
func clamp64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate normalizes and range-checks a ConnParams, clamping where spec.md
// says to clamp and erroring where spec.md says to reject.
func (c *ConnParams) Validate() error {
	c.TransmissionParcelSize = clamp64(c.TransmissionParcelSize, MinTransmissionParcelSize, MaxTransmissionParcelSize)

	if c.ParcelQueueCapacity < MinParcelQueueCapacity || c.ParcelQueueCapacity > MaxParcelQueueCapacity {
		return fmt.Errorf("parcelQueueCapacity %d out of range [%d,%d]", c.ParcelQueueCapacity, MinParcelQueueCapacity, MaxParcelQueueCapacity)
	}
	if c.ObjectQueueCapacity < MinObjectQueueCapacity || c.ObjectQueueCapacity > MaxObjectQueueCapacity {
		return fmt.Errorf("objectQueueCapacity %d out of range [%d,%d]", c.ObjectQueueCapacity, MinObjectQueueCapacity, MaxObjectQueueCapacity)
	}

	// alivePeriod: zero means off; non-zero clamps into [Min,Max].
	if c.AlivePeriod != 0 {
		if c.AlivePeriod < MinAlivePeriod {
			c.AlivePeriod = MinAlivePeriod
		} else if c.AlivePeriod > MaxAlivePeriod {
			c.AlivePeriod = MaxAlivePeriod
		}
	}

	if c.ConfirmTimeout < MinConfirmTimeout {
		return fmt.Errorf("confirmTimeout %s below minimum %s", c.ConfirmTimeout, MinConfirmTimeout)
	}
	if c.IdleThreshold < 0 {
		return fmt.Errorf("idleThreshold must be >= 0")
	}
	if c.IdleCheckPeriod < MinIdleCheckPeriod {
		return fmt.Errorf("idleCheckPeriod %s below minimum %s", c.IdleCheckPeriod, MinIdleCheckPeriod)
	}
	if c.TransmissionSpeed < -1 {
		return fmt.Errorf("transmissionSpeed must be -1, 0, or positive")
	}
	if c.MaxSerialisationSize < MinMaxSerialisationSize {
		return fmt.Errorf("maxSerialisationSize %d below minimum %d", c.MaxSerialisationSize, MinMaxSerialisationSize)
	}
	if c.DeliverTolerance < MinDeliverTolerance {
		return fmt.Errorf("deliverTolerance %s below minimum %s", c.DeliverTolerance, MinDeliverTolerance)
	}
	return nil
}

// SendLoadLimit computes the per-connection backpressure ceiling (spec.md §5).
func (c *ConnParams) SendLoadLimit() int64 {
	v := (int64(c.ParcelQueueCapacity) * c.TransmissionParcelSize) / 2
	return clamp64(v, MinSendLoad, MaxSendLoad)
}

// LoadEnv applies PT_* environment overrides, mirroring transport/tinit.go's
// AIS_STREAM_BURST_NUM handling.
func (c *ConnParams) LoadEnv() {
	if v := os.Getenv("PT_PARCEL_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ParcelQueueCapacity = n
		}
	}
	if v := os.Getenv("PT_TRANSMISSION_PARCEL_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.TransmissionParcelSize = n
		}
	}
}

// Snapshot is a read-only copy for diagnostics/tests, mirroring cmn.GCO.Get().
func (c ConnParams) Snapshot() ConnParams { return c }

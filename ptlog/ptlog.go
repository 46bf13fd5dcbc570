// Package ptlog is the engine's logger: level-gated, buffer-free writes to
// stderr (or an injected writer), timestamped the way cmn/nlog timestamps
// its lines. No third-party logging library is used here because the
// teacher repository does not use one either for this concern.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ptlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type severity int32

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	vlevel atomic.Int32
)

// SetOutput redirects all subsequent log lines; tests use this to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

// SetVerbosity sets the verbose-logging threshold consulted by V().
func SetVerbosity(level int) { vlevel.Store(int32(level)) }

// V reports whether verbose logging at the given level is enabled, mirroring
// cmn/nlog's config.FastV gate used throughout transport/*.go.
func V(level int) bool { return vlevel.Load() >= int32(level) }

func Infoln(args ...any)                  { writeln(sevInfo, fmt.Sprint(args...)) }
func Infof(format string, args ...any)     { writeln(sevInfo, fmt.Sprintf(format, args...)) }
func Warningln(args ...any)                { writeln(sevWarn, fmt.Sprint(args...)) }
func Warningf(format string, args ...any)  { writeln(sevWarn, fmt.Sprintf(format, args...)) }
func Errorln(args ...any)                  { writeln(sevErr, fmt.Sprint(args...)) }
func Errorf(format string, args ...any)    { writeln(sevErr, fmt.Sprintf(format, args...)) }

func writeln(sev severity, msg string) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "%s %c %s\n", time.Now().Format("2006-01-02T15:04:05.000Z07:00"), sevChar(sev), msg)
}

func sevChar(sev severity) byte {
	switch sev {
	case sevWarn:
		return 'W'
	case sevErr:
		return 'E'
	default:
		return 'I'
	}
}

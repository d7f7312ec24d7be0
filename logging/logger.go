// Package logging is the toolkit's asynchronous logger: callers push
// LogElements onto an SPSC ring with no blocking I/O and no allocation on
// the hot path; a dedicated drainer goroutine formats and writes them to a
// file. Grounded on original_source/src/logger.hpp, adapted to Go's typed
// tagged-variant idiom per the spec's DESIGN NOTES.
package logging

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/momentics/llcore/affinity"
	"github.com/momentics/llcore/ring"
)

// queueSize mirrors the original LOG_QUEUE_SIZE (8 Mi elements).
const queueSize = 8 * 1024 * 1024

// Logger formats and writes LogElements pushed by a single producer
// goroutine (the ring underneath is single-producer) to a single file, off
// the caller's hot path. A Logger owns exactly one
// drainer goroutine and one file handle; both are private to the drainer.
type Logger struct {
	path    string
	file    *os.File
	w       *bufio.Writer
	ring    *ring.SPSCRing[LogElement]
	running chan struct{} // closed to signal the drainer to stop
	stopped chan struct{} // closed by the drainer once it has exited
	drainer *affinity.Thread
}

// New opens filePath for writing and starts the drainer goroutine.
// File-open failure is a precondition violation per the spec's error model
// and is fatal: New panics rather than returning an error.
func New(filePath string) *Logger {
	f, err := os.Create(filePath)
	if err != nil {
		panic(fmt.Sprintf("logging: could not open log file %q: %v", filePath, err))
	}
	l := &Logger{
		path:    filePath,
		file:    f,
		w:       bufio.NewWriter(f),
		ring:    ring.NewSPSCRing[LogElement](queueSize),
		running: make(chan struct{}),
		stopped: make(chan struct{}),
	}
	l.drainer = affinity.SpawnThread(-1, "logging/drainer", l.flushQueue)
	return l
}

// flushQueue is the drainer's main loop: drain to empty, sleep 1ms, repeat,
// until Close signals running to stop and the ring is finally empty.
func (l *Logger) flushQueue() {
	defer close(l.stopped)
	for {
		drained := false
		for slot := l.ring.NextReadSlot(); slot != nil; slot = l.ring.NextReadSlot() {
			l.writeElement(*slot)
			l.ring.CommitRead()
			drained = true
		}
		if drained {
			l.w.Flush()
		}
		select {
		case <-l.running:
			if l.ring.Size() == 0 {
				l.w.Flush()
				return
			}
		default:
		}
		time.Sleep(time.Millisecond)
	}
}

// writeElement renders one element's text form. Write failures are logged
// to stderr and otherwise ignored — they must not stop the drainer.
func (l *Logger) writeElement(e LogElement) {
	var err error
	switch e.Kind {
	case KindChar:
		err = l.w.WriteByte(e.char())
	case KindI32:
		_, err = l.w.WriteString(strconv.FormatInt(int64(e.i32()), 10))
	case KindI64, KindILL:
		_, err = l.w.WriteString(strconv.FormatInt(e.i64(), 10))
	case KindU32:
		_, err = l.w.WriteString(strconv.FormatUint(uint64(e.u32()), 10))
	case KindU64, KindULL:
		_, err = l.w.WriteString(strconv.FormatUint(e.u64(), 10))
	case KindF32:
		_, err = l.w.WriteString(strconv.FormatFloat(float64(e.f32()), 'g', -1, 32))
	case KindF64:
		_, err = l.w.WriteString(strconv.FormatFloat(e.f64(), 'g', -1, 64))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: write to %s failed: %v\n", l.path, err)
	}
}

func (l *Logger) push(e LogElement) {
	*l.ring.NextWriteSlot() = e
	l.ring.CommitWrite()
}

// PushChar pushes a single character.
func (l *Logger) PushChar(c byte) { l.push(charElement(c)) }

// PushI32 pushes a 32-bit signed integer.
func (l *Logger) PushI32(v int32) { l.push(i32Element(v)) }

// PushI64 pushes a 64-bit signed integer.
func (l *Logger) PushI64(v int64) { l.push(i64Element(v)) }

// PushILL pushes a 64-bit signed integer tagged as the original's "long long".
func (l *Logger) PushILL(v int64) { l.push(illElement(v)) }

// PushU32 pushes a 32-bit unsigned integer.
func (l *Logger) PushU32(v uint32) { l.push(u32Element(v)) }

// PushU64 pushes a 64-bit unsigned integer.
func (l *Logger) PushU64(v uint64) { l.push(u64Element(v)) }

// PushULL pushes a 64-bit unsigned integer tagged as the original's
// "unsigned long long".
func (l *Logger) PushULL(v uint64) { l.push(ullElement(v)) }

// PushF32 pushes a 32-bit float.
func (l *Logger) PushF32(v float32) { l.push(f32Element(v)) }

// PushF64 pushes a 64-bit float.
func (l *Logger) PushF64(v float64) { l.push(f64Element(v)) }

// PushString pushes one CHAR element per byte of s, excluding any trailing
// NUL — matching the original's decomposition of strings into a stream of
// CHAR elements.
func (l *Logger) PushString(s string) {
	if n := len(s); n > 0 && s[n-1] == 0 {
		s = s[:n-1]
	}
	for i := 0; i < len(s); i++ {
		l.PushChar(s[i])
	}
}

// PushBytes pushes one CHAR element per byte of b.
func (l *Logger) PushBytes(b []byte) {
	for _, c := range b {
		l.PushChar(c)
	}
}

// pushValue dispatches on the Go type of value, mirroring the original's
// overload set for Logger::pushValue. Unsupported types are a fatal error —
// the caller passed something the logger has no tag for.
func (l *Logger) pushValue(value any) {
	switch v := value.(type) {
	case byte:
		l.PushChar(v)
	case int32: // also covers rune, an alias for int32
		l.PushI32(v)
	case int64:
		l.PushI64(v)
	case int:
		l.PushI64(int64(v))
	case uint32:
		l.PushU32(v)
	case uint64:
		l.PushU64(v)
	case uint:
		l.PushU64(uint64(v))
	case float32:
		l.PushF32(v)
	case float64:
		l.PushF64(v)
	case string:
		l.PushString(v)
	case []byte:
		l.PushBytes(v)
	default:
		panic(fmt.Sprintf("logging: Log() called with unsupported argument type %T", value))
	}
}

// Log walks format byte by byte. On '%' it consumes the next positional
// argument via pushValue; on "%%" it emits a literal '%'; bytes outside
// format tokens are pushed as CHAR elements. Calling it with a '%' and no
// remaining args, or with args left unconsumed once format is exhausted, is
// a fatal arity mismatch — exactly as in the original.
func (l *Logger) Log(format string, args ...any) {
	argi := 0
	i := 0
	for i < len(format) {
		c := format[i]
		if c == '%' {
			if i+1 < len(format) && format[i+1] == '%' {
				l.PushChar('%')
				i += 2
				continue
			}
			if argi >= len(args) {
				panic("logging: missing arguments to Log()")
			}
			l.pushValue(args[argi])
			argi++
			i++
			continue
		}
		l.PushChar(c)
		i++
	}
	if argi != len(args) {
		panic("logging: extra arguments provided to Log()")
	}
}

// Close waits until the ring has drained, signals the drainer to stop,
// joins it, and closes the file. No log records are lost provided all
// producers have stopped pushing before Close is called.
func (l *Logger) Close() error {
	for l.ring.Size() != 0 {
		time.Sleep(time.Second)
	}
	close(l.running)
	<-l.stopped
	return l.file.Close()
}

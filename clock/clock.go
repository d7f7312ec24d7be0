// Package clock provides the two time primitives the rest of the toolkit
// treats as an external collaborator: a monotonic-ish nanosecond timestamp
// for diagnostics and latency comparisons, and a human-readable "now"
// string for log lines. Grounded on original_source/src/time_utils.hpp.
package clock

import "time"

// NowNanos returns the current wall-clock time in nanoseconds since the
// Unix epoch, mirroring the original's getCurrentNanos().
func NowNanos() int64 {
	return time.Now().UnixNano()
}

// FormatNow fills buf with a human-readable rendering of the current time
// and returns it as a string, mirroring the original's
// getCurrentTimeStr(std::string *time_str) signature — callers reuse buf's
// backing array across calls; the returned string is a fresh copy of it.
func FormatNow(buf *[]byte) string {
	*buf = time.Now().AppendFormat((*buf)[:0], "2006-01-02 15:04:05.000000000")
	return string(*buf)
}

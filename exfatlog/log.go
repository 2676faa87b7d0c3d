// Package exfatlog provides the four-level log sink the exFAT core writes
// through: bug, error, warn, and debug. The block-device layer, the
// timestamp codec, and anything else that embeds this core are expected to
// share the same sink rather than writing to stderr directly.
//
// This mirrors libexfat's log.c: messages always go to stderr, and
// additionally to syslog whenever stderr isn't attached to a terminal (the
// assumption being that a detached process wants its errors somewhere a
// human will eventually look). Only Bug is fatal.
package exfatlog

import (
	"fmt"
	"log/syslog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Sink receives formatted log messages at one of four severities. Drivers
// embedding this core may supply their own Sink (e.g. to route through a
// structured logger) via SetSink.
type Sink interface {
	Bug(message string)
	Error(message string)
	Warn(message string)
	Debug(message string)
}

// OnBug is invoked after a Bug-level message has been logged. The default
// terminates the process, matching libexfat's exfat_bug() calling abort().
// Tests override this to assert a bug condition was raised without killing
// the test binary.
var OnBug func() = func() { os.Exit(1) }

var (
	mu  sync.Mutex
	cur Sink = newDefaultSink()
)

// SetSink replaces the active sink. Passing nil restores the default.
func SetSink(s Sink) {
	mu.Lock()
	defer mu.Unlock()
	if s == nil {
		cur = newDefaultSink()
		return
	}
	cur = s
}

func active() Sink {
	mu.Lock()
	defer mu.Unlock()
	return cur
}

// Bug reports a violated internal invariant: a condition that can only arise
// from a bug in this library, never from a malformed volume or caller error.
// It logs the message and then calls OnBug, which by default aborts the
// process.
func Bug(format string, args ...interface{}) {
	active().Bug(fmt.Sprintf(format, args...))
	OnBug()
}

// Error reports a violation of the on-disk file system's own invariants, or
// an I/O failure: a malformed volume or failing device, not a bug in this
// library. It increments the process-wide error counter in the errors
// package only indirectly, through the FSError builders callers use
// alongside it; Error itself is just the log line.
func Error(format string, args ...interface{}) {
	active().Error(fmt.Sprintf(format, args...))
}

// Warn reports something unexpected but survivable.
func Warn(format string, args ...interface{}) {
	active().Warn(fmt.Sprintf(format, args...))
}

// Debug reports a diagnostic message, disabled by default in the default
// sink's syslog branch priority but always written to stderr.
func Debug(format string, args ...interface{}) {
	active().Debug(fmt.Sprintf(format, args...))
}

// defaultSink writes to stderr, and to syslog as well whenever stderr is not
// a terminal. This matches log.c's isatty(STDERR_FILENO) check exactly.
type defaultSink struct {
	syslogWriter *syslog.Writer
}

func newDefaultSink() *defaultSink {
	s := &defaultSink{}
	if !isTerminal(int(os.Stderr.Fd())) {
		// Best-effort: if the syslog daemon isn't reachable, we still have
		// the stderr line.
		w, err := syslog.New(syslog.LOG_ERR, "exfat")
		if err == nil {
			s.syslogWriter = w
		}
	}
	return s
}

func isTerminal(fd int) bool {
	_, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	return err == nil
}

func (s *defaultSink) Bug(message string) {
	fmt.Fprintf(os.Stderr, "BUG: %s.\n", message)
	if s.syslogWriter != nil {
		_ = s.syslogWriter.Crit(message)
	}
}

func (s *defaultSink) Error(message string) {
	fmt.Fprintf(os.Stderr, "ERROR: %s.\n", message)
	if s.syslogWriter != nil {
		_ = s.syslogWriter.Err(message)
	}
}

func (s *defaultSink) Warn(message string) {
	fmt.Fprintf(os.Stderr, "WARN: %s.\n", message)
	if s.syslogWriter != nil {
		_ = s.syslogWriter.Warning(message)
	}
}

func (s *defaultSink) Debug(message string) {
	fmt.Fprintf(os.Stderr, "DEBUG: %s.\n", message)
	if s.syslogWriter != nil {
		_ = s.syslogWriter.Debug(message)
	}
}

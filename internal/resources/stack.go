// Package resources implements the LIFO resource stack that guarantees
// every OS-level resource ALMA acquires (loop device, device-mapper
// node, mount, temp directory, chroot bind) is released in reverse
// order on every exit path, including failure and fatal signals.
package resources

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"alma/internal/appctx"
)

// Cleanup is a single unwind action. Failures are logged, never
// propagated, since a later cleanup (e.g. an unmount) may depend on an
// earlier one (e.g. a different unmount) still being attempted.
type Cleanup func() error

type entry struct {
	label   string
	cleanup Cleanup
}

// Stack is a LIFO register of cleanup actions.
type Stack struct {
	ctx *appctx.Context

	mu         sync.Mutex
	entries    []entry
	terminator func()

	sigCh   chan os.Signal
	stopSig func()
}

// New creates an empty resource stack bound to the shared context.
func New(ctx *appctx.Context) *Stack {
	return &Stack{ctx: ctx}
}

// Push registers a cleanup action. No operation that acquires an
// OS-level resource may return success without having pushed its
// cleanup first.
func (s *Stack) Push(label string, cleanup Cleanup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{label: label, cleanup: cleanup})
}

// Commit discards the stack on success: the caller's resources are now
// the responsibility of whatever consumed them (e.g. a handed-off mount
// that outlives this process). The drivers in this repository unwind
// instead of committing.
func (s *Stack) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

// Unwind invokes pushed actions in reverse order, logging but not
// propagating individual failures, and attempting every entry regardless
// of earlier failures.
func (s *Stack) Unwind() {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.cleanup(); err != nil {
			s.ctx.Log.Error().Err(err).Str("resource", e.label).Msg("cleanup failed during unwind")
		} else {
			s.ctx.Log.Debug().Str("resource", e.label).Msg("released")
		}
	}
}

// SetTerminator registers the function that stops the currently-running
// child process on a fatal signal, so no cleanup later races a
// still-writing child.
func (s *Stack) SetTerminator(fn func()) {
	s.mu.Lock()
	s.terminator = fn
	s.mu.Unlock()
}

// InstallSignalHandler arranges for SIGINT/SIGTERM to set the shared
// context's cancellation flag and terminate the current child. The
// unwind itself stays on the main thread: killing the child fails the
// running pipeline state, and the pipeline unwinds when the state
// returns (or at its next between-states cancellation check), so
// cleanups never race in-process work. Call the returned function to
// stop listening.
func (s *Stack) InstallSignalHandler() func() {
	s.sigCh = make(chan os.Signal, 1)
	signal.Notify(s.sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-s.sigCh:
			s.ctx.Cancel()
			s.mu.Lock()
			terminate := s.terminator
			s.mu.Unlock()
			if terminate != nil {
				terminate()
			}
		case <-done:
		}
	}()

	s.stopSig = func() {
		close(done)
		signal.Stop(s.sigCh)
	}
	return s.stopSig
}

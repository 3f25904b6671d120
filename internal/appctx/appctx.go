// Package appctx carries the read-only, process-wide settings that
// every ALMA component needs: the pacman config path, dry-run flag,
// and verbosity flow as one context object so no component reaches for
// global state.
package appctx

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Context is passed as the first argument to every component
// constructor.
type Context struct {
	DryRun     bool
	Verbose    bool
	PacmanConf string
	Log        zerolog.Logger

	// cancelled is the sole piece of process-wide mutable state ALMA
	// allows: the signal-driven cancellation flag.
	cancelled *atomic.Bool
}

// New builds a Context with a fresh cancellation flag.
func New(dryRun, verbose bool, pacmanConf string, log zerolog.Logger) *Context {
	return &Context{
		DryRun:     dryRun,
		Verbose:    verbose,
		PacmanConf: pacmanConf,
		Log:        log,
		cancelled:  &atomic.Bool{},
	}
}

// Cancel sets the process-wide cancellation flag. Safe to call from a
// signal handler.
func (c *Context) Cancel() { c.cancelled.Store(true) }

// Cancelled reports whether a fatal signal has been observed.
func (c *Context) Cancelled() bool { return c.cancelled.Load() }

// StepLogger returns a logger breadcrumbed with the given pipeline step
// name.
func (c *Context) StepLogger(step string) zerolog.Logger {
	return c.Log.With().Str("step", step).Logger()
}

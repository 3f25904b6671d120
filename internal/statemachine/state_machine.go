// Package statemachine orchestrates the component packages into the
// create, install, chroot, and qemu sub-command drivers: each driver
// assembles an ordered slice of named states and runs them in strict
// program order, with the resource stack unwinding on every exit path.
package statemachine

import (
	"context"
	"os/exec"

	"alma/internal/almaerr"
	"alma/internal/appctx"
	"alma/internal/resources"
)

// stateFunc is a single named pipeline step.
type stateFunc struct {
	name     string
	function func(context.Context) error
}

// Pipeline runs an ordered list of states over a shared resource stack.
type Pipeline struct {
	ctx    *appctx.Context
	stack  *resources.Stack
	states []stateFunc
}

// NewPipeline builds an empty Pipeline over stack.
func NewPipeline(ctx *appctx.Context, stack *resources.Stack) *Pipeline {
	return &Pipeline{ctx: ctx, stack: stack}
}

// AddState appends a named step.
func (p *Pipeline) AddState(name string, fn func(context.Context) error) {
	p.states = append(p.states, stateFunc{name: name, function: fn})
}

// Run executes the states in order. A failing or cancelled state
// triggers a full stack unwind before the error surfaces with its step
// breadcrumb; the caller must not unwind again on error.
func (p *Pipeline) Run(ctx context.Context) error {
	for i, state := range p.states {
		if p.ctx.Cancelled() {
			p.stack.Unwind()
			return &almaerr.Cancelled{Step: state.name}
		}

		p.ctx.Log.Info().Int("state", i+1).Int("of", len(p.states)).Msg(state.name)
		if err := state.function(ctx); err != nil {
			p.stack.Unwind()
			if p.ctx.Cancelled() {
				return &almaerr.Cancelled{Step: state.name}
			}
			return almaerr.Wrap(state.name, err)
		}
	}
	return nil
}

// lookPath is swapped out in tests.
var lookPath = exec.LookPath

// createHostTools is everything the create pipeline may invoke on the
// host.
var createHostTools = []string{
	"pacstrap", "arch-chroot", "genfstab", "sgdisk",
	"mkfs.fat", "mkfs.ext4", "mkfs.btrfs",
	"losetup", "blkid", "lsblk", "findmnt",
	"cryptsetup", "git", "sfdisk",
}

// chrootHostTools is the subset re-entering an existing medium needs.
var chrootHostTools = []string{
	"arch-chroot", "losetup", "blkid", "lsblk", "findmnt", "cryptsetup",
}

// qemuHostTools is what the qemu driver needs.
var qemuHostTools = []string{"qemu-system-x86_64"}

// checkHostTools fails with MissingHostTool for the first absent
// executable, before anything destructive runs.
func checkHostTools(names []string) error {
	for _, name := range names {
		if _, err := lookPath(name); err != nil {
			return &almaerr.MissingHostTool{Name: name}
		}
	}
	return nil
}

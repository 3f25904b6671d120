package statemachine

import (
	"context"

	"alma/internal/appctx"
	"alma/internal/manifest"
	"alma/internal/resources"
	"alma/internal/storage"
)

// InstallOptions selects the new target and what to carry over from the
// live system.
type InstallOptions struct {
	// Target selection, same shape as create.
	Path          string
	ImageSize     uint64
	Overwrite     bool
	RootPartition string
	BootPartition string

	AllowNonRemovable bool
	NoConfirm         bool
	Interactive       bool
	PassphraseFD      int

	// LiveRoot is the running ALMA system's root, normally "/".
	LiveRoot string

	CopyHome    bool
	CopyNetwork bool
	KeepPresets bool // re-run the manifest's recorded preset set

	PromptPassphrase func() (string, error)
}

// InstallDriver replays the manifest persisted in the running system
// against a new target.
type InstallDriver struct {
	ctx   *appctx.Context
	opts  InstallOptions
	stack *resources.Stack
}

// NewInstall builds the install driver.
func NewInstall(ctx *appctx.Context, opts InstallOptions, stack *resources.Stack) *InstallDriver {
	if opts.LiveRoot == "" {
		opts.LiveRoot = "/"
	}
	return &InstallDriver{ctx: ctx, opts: opts, stack: stack}
}

// Run loads the manifest and re-executes create against the new target
// with the options the manifest records; the recorded presets are
// replayed only when KeepPresets is set.
func (d *InstallDriver) Run(ctx context.Context) error {
	m, err := manifest.Load(d.opts.LiveRoot)
	if err != nil {
		d.stack.Unwind()
		return err
	}

	createOpts := CreateOptions{
		Path:              d.opts.Path,
		ImageSize:         d.opts.ImageSize,
		Overwrite:         d.opts.Overwrite,
		RootPartition:     d.opts.RootPartition,
		BootPartition:     d.opts.BootPartition,
		AllowNonRemovable: d.opts.AllowNonRemovable,
		NoConfirm:         d.opts.NoConfirm,
		Interactive:       d.opts.Interactive,
		PassphraseFD:      d.opts.PassphraseFD,
		PromptPassphrase:  d.opts.PromptPassphrase,

		Filesystem:    storage.Filesystem(m.Filesystem),
		Encrypted:     m.Encrypted,
		ExtraPackages: m.ExtraPackages,
		AURPackages:   m.AURPackages,
		AURHelper:     m.AURHelper,
		BootSizeMiB:   m.BootSizeMiB,
	}
	if d.opts.KeepPresets {
		createOpts.Presets = m.Presets
	}
	if d.opts.CopyHome {
		createOpts.CopyHomeFrom = d.opts.LiveRoot
	}
	if d.opts.CopyNetwork {
		createOpts.CopyNetworkFrom = d.opts.LiveRoot
	}

	return NewCreate(d.ctx, createOpts, d.stack).Run(ctx)
}

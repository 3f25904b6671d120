package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"

	"alma/internal/almaerr"
	"alma/internal/appctx"
	"alma/internal/commands"
	"alma/internal/device"
	"alma/internal/preset"
	"alma/internal/resources"
	"alma/internal/runner"
	"alma/internal/statemachine"
	"alma/internal/storage"
	"alma/internal/tui"
)

// Version is overridden at build time.
var Version = ""

// osExit is swapped out in tests.
var osExit = os.Exit

const (
	exitOK        = 0
	exitFailure   = 1
	exitCancelled = 130
)

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// exitCode maps an error to the documented process exit codes: 0 on
// success, 130 on cancellation, 1 otherwise.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var cancelled *almaerr.Cancelled
	if errors.As(err, &cancelled) {
		return exitCancelled
	}
	return exitFailure
}

func dispatch(ctx *appctx.Context, parser *flags.Parser, root *commands.AlmaCommand, tail []string) error {
	active := parser.Command.Active
	if active == nil {
		return fmt.Errorf("no command given")
	}

	stack := resources.New(ctx)
	stop := stack.InstallSignalHandler()
	defer stop()

	bg := context.Background()

	switch active.Name {
	case "create":
		if err := commands.ValidateCreate(&root.Create); err != nil {
			return err
		}
		opts, err := createOptions(&root.Create)
		if err != nil {
			return err
		}
		return statemachine.NewCreate(ctx, opts, stack).Run(bg)

	case "install":
		if err := commands.ValidateInstall(&root.Install); err != nil {
			return err
		}
		opts, err := installOptions(&root.Install)
		if err != nil {
			return err
		}
		return statemachine.NewInstall(ctx, opts, stack).Run(bg)

	case "chroot":
		return statemachine.NewChroot(ctx, statemachine.ChrootOptions{
			Path:             root.Chroot.Args.Path,
			Command:          root.Chroot.Args.Command,
			PromptPassphrase: tui.PromptExistingPassphrase,
		}, stack).Run(bg)

	case "qemu":
		return statemachine.NewQemu(ctx, statemachine.QemuOptions{
			Path:      root.Qemu.Args.Path,
			MemoryMiB: root.Qemu.Opts.Memory,
			BIOS:      root.Qemu.Opts.BIOS,
		}, stack).Run(bg)

	case "presets":
		return runLint(ctx, stack, root.Presets.Lint.Args.Path)

	case "list":
		return runList(ctx)

	case "wizard":
		return tui.RunWizard(ctx, tail)
	}
	return fmt.Errorf("unsupported command %q", active.Name)
}

func createOptions(cmd *commands.CreateCommand) (statemachine.CreateOptions, error) {
	opts := statemachine.CreateOptions{
		Path:              cmd.Args.Path,
		Overwrite:         cmd.Opts.Overwrite,
		RootPartition:     cmd.Opts.RootPartition,
		BootPartition:     cmd.Opts.BootPartition,
		Filesystem:        storage.Filesystem(cmd.Opts.Filesystem),
		Encrypted:         cmd.Opts.EncryptedRoot,
		PassphraseFD:      cmd.Opts.PassphraseFD,
		AllowNonRemovable: cmd.Opts.AllowNonRemovable,
		NoConfirm:         cmd.Opts.NoConfirm,
		Interactive:       cmd.Opts.Interactive,
		Presets:           cmd.Opts.Presets,
		ExtraPackages:     cmd.Opts.ExtraPackages,
		AURPackages:       cmd.Opts.AURPackages,
		AURHelper:         cmd.Opts.AURHelper,
		Hostname:          cmd.Opts.Hostname,
		Timezone:          cmd.Opts.Timezone,
		PromptPassphrase:  tui.PromptPassphrase,
	}

	if cmd.Opts.Image != "" {
		size, err := storage.ParseSize(cmd.Opts.Image)
		if err != nil {
			return statemachine.CreateOptions{}, &almaerr.BadTarget{Path: cmd.Args.Path, Reason: err.Error()}
		}
		opts.ImageSize = size
	}

	bootSize, err := storage.ParseSize(cmd.Opts.BootSize)
	if err != nil {
		return statemachine.CreateOptions{}, &almaerr.BadTarget{Path: cmd.Args.Path, Reason: err.Error()}
	}
	opts.BootSizeMiB = bootSize >> 20

	return opts, nil
}

func installOptions(cmd *commands.InstallCommand) (statemachine.InstallOptions, error) {
	opts := statemachine.InstallOptions{
		Path:              cmd.Args.Path,
		Overwrite:         cmd.Opts.Overwrite,
		RootPartition:     cmd.Opts.RootPartition,
		BootPartition:     cmd.Opts.BootPartition,
		AllowNonRemovable: cmd.Opts.AllowNonRemovable,
		NoConfirm:         cmd.Opts.NoConfirm,
		Interactive:       cmd.Opts.Interactive,
		PassphraseFD:      cmd.Opts.PassphraseFD,
		CopyHome:          cmd.Opts.CopyHome,
		CopyNetwork:       cmd.Opts.CopyNetwork,
		KeepPresets:       cmd.Opts.KeepPresets,
		PromptPassphrase:  tui.PromptPassphrase,
	}
	if cmd.Opts.Image != "" {
		size, err := storage.ParseSize(cmd.Opts.Image)
		if err != nil {
			return statemachine.InstallOptions{}, &almaerr.BadTarget{Path: cmd.Args.Path, Reason: err.Error()}
		}
		opts.ImageSize = size
	}
	return opts, nil
}

// runLint is the read-only presets driver: the pipeline's acquisition,
// discovery, strict-parse, and environment-check stages plus a schema
// lint per file, with no destructive step. Surfaces the same
// PresetParse/MissingEnvironment diagnostics a real create would.
func runLint(ctx *appctx.Context, stack *resources.Stack, path string) error {
	defer stack.Unwind() // drop any fetched scratch directories

	pipeline := preset.NewPipeline(ctx, preset.NewAcquirer(ctx, stack))
	set, err := pipeline.Build(context.Background(), []string{path}, nil, nil)
	if err != nil {
		return err
	}
	for _, p := range set.Presets {
		if err := preset.Lint(p.Path); err != nil {
			return err
		}
		fmt.Printf("ok: %s\n", p.Path)
	}
	return nil
}

// runList prints the devices create would accept.
func runList(ctx *appctx.Context) error {
	probe := device.New(ctx, runner.New(ctx))
	devices, err := probe.EnumerateRemovable(context.Background())
	if err != nil {
		return err
	}
	for _, d := range devices {
		kind := "removable"
		if d.IsLoop {
			kind = "loop"
		}
		fmt.Printf("%s\t%d bytes\t%s\n", d.Path, d.SizeBytes, kind)
	}
	return nil
}

func main() {
	commonOpts := new(commands.CommonOpts)
	almaCommand := new(commands.AlmaCommand)

	args := os.Args[1:]
	// `alma help [command]` is sugar for --help
	if len(args) > 0 && args[0] == "help" {
		args = append(args[1:], "--help")
	}

	parser := flags.NewParser(almaCommand, flags.Default)
	if _, err := parser.AddGroup("Common Options", "Options common to every command", commonOpts); err != nil {
		fmt.Printf("Error: %s\n", err.Error())
		osExit(exitFailure)
		return
	}

	tail, err := parser.ParseArgs(args)
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			osExit(exitOK)
			return
		}
		fmt.Printf("Error: %s\n", err.Error())
		osExit(exitFailure)
		return
	}

	if commonOpts.Version {
		fmt.Printf("alma %s\n", Version)
		osExit(exitOK)
		return
	}

	ctx := appctx.New(commonOpts.DryRun, commonOpts.Verbose, commonOpts.PacmanConf, newLogger(commonOpts.Verbose))

	if err := dispatch(ctx, parser, almaCommand, tail); err != nil {
		ctx.Log.Error().Msg(err.Error())
		osExit(exitCode(err))
		return
	}
	osExit(exitOK)
}

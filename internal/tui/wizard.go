// Package tui is the interactive layer over the core: a wizard that
// assembles a create invocation by prompting, and the passphrase
// prompts the encrypted paths use. The core never imports this package;
// it receives prompt functions and option structs instead.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"alma/internal/almaerr"
	"alma/internal/appctx"
	"alma/internal/device"
	"alma/internal/resources"
	"alma/internal/runner"
	"alma/internal/statemachine"
	"alma/internal/storage"
)

// PromptPassphrase reads a new LUKS passphrase twice from the
// controlling terminal and fails on mismatch.
func PromptPassphrase() (string, error) {
	var first, second string
	if err := survey.AskOne(&survey.Password{Message: "Encryption passphrase:"}, &first, survey.WithValidator(survey.Required)); err != nil {
		return "", &almaerr.LuksFailed{Op: "passphrase prompt", Err: err}
	}
	if err := survey.AskOne(&survey.Password{Message: "Repeat passphrase:"}, &second); err != nil {
		return "", &almaerr.LuksFailed{Op: "passphrase prompt", Err: err}
	}
	if first != second {
		return "", &almaerr.LuksFailed{Op: "passphrase prompt", Err: fmt.Errorf("passphrases do not match")}
	}
	return first, nil
}

// PromptExistingPassphrase reads the passphrase of an existing LUKS
// container once, for the chroot re-entry path.
func PromptExistingPassphrase() (string, error) {
	var pass string
	if err := survey.AskOne(&survey.Password{Message: "LUKS passphrase:"}, &pass, survey.WithValidator(survey.Required)); err != nil {
		return "", &almaerr.LuksFailed{Op: "passphrase prompt", Err: err}
	}
	return pass, nil
}

// wizardDefaults are the config-file-overridable answers. Viper layers
// them: command flags over environment over the config file.
type wizardDefaults struct {
	Filesystem string
	AURHelper  string
	BootSize   string
}

// RunWizard interactively assembles a create invocation and executes
// it. args is the raw argv tail after the wizard sub-command.
func RunWizard(ctx *appctx.Context, args []string) error {
	root := &cobra.Command{
		Use:           "wizard",
		Short:         "Interactively assemble and run a create invocation",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defaults, err := loadDefaults(cmd)
			if err != nil {
				return err
			}
			return runWizard(cmd.Context(), ctx, defaults)
		},
	}
	root.Flags().String("config", "", "wizard defaults file (TOML)")
	root.Flags().String("filesystem", "ext4", "default root filesystem")
	root.Flags().String("aur-helper", "paru", "default AUR helper")
	root.Flags().String("boot-size", "300MiB", "default ESP size")
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

// loadDefaults resolves wizard defaults with viper: flags win over
// ALMA_WIZARD_* environment, which wins over the config file.
func loadDefaults(cmd *cobra.Command) (wizardDefaults, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("ALMA_WIZARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfg, _ := cmd.Flags().GetString("config"); cfg != "" {
		v.SetConfigFile(cfg)
		if err := v.ReadInConfig(); err != nil {
			return wizardDefaults{}, fmt.Errorf("reading wizard config: %w", err)
		}
	} else {
		v.SetConfigName("wizard")
		v.AddConfigPath("/etc/alma")
		v.AddConfigPath("$HOME/.config/alma")
		_ = v.ReadInConfig() // a missing default config is fine
	}

	for _, name := range []string{"filesystem", "aur-helper", "boot-size"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return wizardDefaults{}, err
		}
	}

	return wizardDefaults{
		Filesystem: v.GetString("filesystem"),
		AURHelper:  v.GetString("aur-helper"),
		BootSize:   v.GetString("boot-size"),
	}, nil
}

func runWizard(cmdCtx context.Context, ctx *appctx.Context, defaults wizardDefaults) error {
	run := runner.New(ctx)
	probe := device.New(ctx, run)

	devices, err := probe.EnumerateRemovable(cmdCtx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return &almaerr.BadTarget{Path: "", Reason: "no removable or loop devices found"}
	}

	var choices []string
	for _, d := range devices {
		choices = append(choices, fmt.Sprintf("%s (%s)", d.Path, humanSize(d.SizeBytes)))
	}

	var picked int
	if err := survey.AskOne(&survey.Select{Message: "Target device:", Options: choices}, &picked); err != nil {
		return err
	}

	fs := defaults.Filesystem
	if err := survey.AskOne(&survey.Select{
		Message: "Root filesystem:",
		Options: []string{string(storage.FilesystemExt4), string(storage.FilesystemBtrfs)},
		Default: defaults.Filesystem,
	}, &fs); err != nil {
		return err
	}

	encrypted := false
	if err := survey.AskOne(&survey.Confirm{Message: "Encrypt the root partition?"}, &encrypted); err != nil {
		return err
	}

	var presets []string
	var presetInput string
	if err := survey.AskOne(&survey.Input{Message: "Preset source (empty for none):"}, &presetInput); err != nil {
		return err
	}
	if presetInput != "" {
		presets = append(presets, presetInput)
	}

	bootSize, err := storage.ParseSize(defaults.BootSize)
	if err != nil {
		return err
	}

	opts := statemachine.CreateOptions{
		Path:             devices[picked].Path,
		Filesystem:       storage.Filesystem(fs),
		Encrypted:        encrypted,
		BootSizeMiB:      bootSize >> 20,
		Presets:          presets,
		AURHelper:        defaults.AURHelper,
		Interactive:      true,
		PromptPassphrase: PromptPassphrase,
	}

	stack := resources.New(ctx)
	stop := stack.InstallSignalHandler()
	defer stop()
	return statemachine.NewCreate(ctx, opts, stack).Run(cmdCtx)
}

func humanSize(bytes uint64) string {
	switch {
	case bytes >= 1<<40:
		return fmt.Sprintf("%.1f TiB", float64(bytes)/float64(1<<40))
	case bytes >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(bytes)/float64(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(bytes)/float64(1<<20))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

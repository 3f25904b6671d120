package bootstrap

import (
	"context"
	"fmt"

	"alma/internal/almaerr"
)

// builderUser is the unprivileged account makepkg runs under inside the
// chroot; makepkg refuses to build as root.
const builderUser = "alma-builder"

// aurHelpers maps the supported helper choices to their AUR repository.
var aurHelpers = map[string]string{
	"paru": "https://aur.archlinux.org/paru.git",
	"yay":  "https://aur.archlinux.org/yay.git",
}

// ValidAURHelper reports whether name is a supported helper choice.
func ValidAURHelper(name string) bool {
	_, ok := aurHelpers[name]
	return ok
}

// InstallAURPackages bootstraps the chosen AUR helper from its PKGBUILD
// via a non-root builder user, then installs packages with it.
func (b *Bootstrapper) InstallAURPackages(ctx context.Context, root, helper string, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	repo, ok := aurHelpers[helper]
	if !ok {
		return &almaerr.Internal{Err: fmt.Errorf("unknown AUR helper %q", helper)}
	}

	// build prerequisites; --needed keeps an already-complete pacstrap
	// set untouched
	prereq := []string{"arch-chroot", root, "pacman", "-S", "--needed", "--noconfirm", "base-devel", "git", "sudo"}
	if _, err := b.run.RunChecked(ctx, prereq, nil, nil); err != nil {
		return almaerr.Wrap("installing AUR build prerequisites", err)
	}

	steps := [][]string{
		{"arch-chroot", root, "useradd", "-m", "-s", "/bin/bash", builderUser},
		{"arch-chroot", root, "bash", "-c",
			fmt.Sprintf("echo '%s ALL=(ALL) NOPASSWD: ALL' > /etc/sudoers.d/%s", builderUser, builderUser)},
		{"arch-chroot", root, "sudo", "-u", builderUser,
			"git", "clone", "--depth=1", repo, "/tmp/" + helper},
		{"arch-chroot", root, "bash", "-c",
			fmt.Sprintf("cd /tmp/%s && sudo -u %s makepkg -si --noconfirm", helper, builderUser)},
	}
	for _, argv := range steps {
		if _, err := b.run.RunChecked(ctx, argv, nil, nil); err != nil {
			return almaerr.Wrap("bootstrapping AUR helper "+helper, err)
		}
	}

	install := []string{"arch-chroot", root, "sudo", "-u", builderUser, helper, "-S", "--noconfirm"}
	install = append(install, packages...)
	if _, err := b.run.RunChecked(ctx, install, nil, nil); err != nil {
		return almaerr.Wrap("installing AUR packages", err)
	}

	// the builder account and its sudoers grant are build-time only
	teardown := [][]string{
		{"arch-chroot", root, "rm", "-f", "/etc/sudoers.d/" + builderUser},
		{"arch-chroot", root, "userdel", "-r", builderUser},
	}
	for _, argv := range teardown {
		if _, err := b.run.Run(ctx, argv, nil, nil); err != nil {
			b.ctx.Log.Warn().Strs("argv", argv).Err(err).Msg("aur builder teardown failed")
		}
	}
	return nil
}

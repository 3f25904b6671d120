package preset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"alma/internal/almaerr"
	"alma/internal/mount"
	"alma/internal/runner"
)

// RunScripts materializes and runs each preset's script inside the
// chroot at root, in the same alphanumeric order as discovery. Shared directories
// are bind-mounted before the corresponding script runs.
func RunScripts(ctx context.Context, run *runner.Runner, mgr *mount.Manager, root string, set Set, forwardedEnv []string) error {
	for _, p := range set.Presets {
		if err := bindSharedDirs(ctx, mgr, root, p); err != nil {
			return err
		}

		if p.Script == "" {
			continue
		}

		scriptPath := filepath.Join(root, "tmp", p.Name()+".sh")
		if err := os.MkdirAll(filepath.Dir(scriptPath), 0755); err != nil {
			return &almaerr.Internal{Err: err}
		}
		if err := os.WriteFile(scriptPath, []byte(p.Script), 0755); err != nil {
			return &almaerr.Internal{Err: fmt.Errorf("materializing script for preset %s: %w", p.Name(), err)}
		}

		env := append([]string{}, forwardedEnv...)
		argv := []string{"arch-chroot", root, "/bin/bash", "-e", "/tmp/" + p.Name() + ".sh"}
		if _, err := run.RunChecked(ctx, argv, env, nil); err != nil {
			// the root cause must surface, not be masked by a generic
			// "preset pipeline failed" message.
			return fmt.Errorf("preset %s script failed: %w", p.Name(), err)
		}
	}
	return nil
}

func bindSharedDirs(ctx context.Context, mgr *mount.Manager, root string, p Preset) error {
	dir := filepath.Dir(p.Path)
	for _, shared := range p.SharedDirectories {
		hostDir := filepath.Join(dir, shared)
		if err := mgr.BindSharedDirectory(ctx, root, hostDir, shared); err != nil {
			return err
		}
	}
	return nil
}

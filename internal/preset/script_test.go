package preset

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"alma/internal/appctx"
	"alma/internal/mount"
	"alma/internal/resources"
	"alma/internal/runner"
)

func TestRunScripts_MaterializesEveryScript(t *testing.T) {
	appCtx := appctx.New(true, false, "", zerolog.Nop())
	run := runner.New(appCtx)
	mgr := mount.New(appCtx, run, resources.New(appCtx))

	dir := t.TempDir()
	writePreset(t, dir, "00-a.toml", "script = \"echo A\"\n")
	writePreset(t, dir, "10-b.toml", "script = \"echo B\"\n")

	set, err := newPipeline(t).Build(context.Background(), []string{dir}, nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := RunScripts(context.Background(), run, mgr, root, set, nil); err != nil {
		t.Fatalf("run scripts: %v", err)
	}

	for _, name := range []string{"00-a.sh", "10-b.sh"} {
		data, err := os.ReadFile(filepath.Join(root, "tmp", name))
		if err != nil {
			t.Fatalf("script %s not materialized: %v", name, err)
		}
		if len(data) == 0 {
			t.Fatalf("script %s is empty", name)
		}
	}
}

package statemachine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"alma/internal/almaerr"
	"alma/internal/appctx"
	"alma/internal/resources"
	"alma/internal/storage"
)

func newTestCtx() *appctx.Context {
	return appctx.New(false, false, "", zerolog.Nop())
}

func TestPipeline_RunsStatesInOrder(t *testing.T) {
	ctx := newTestCtx()
	p := NewPipeline(ctx, resources.New(ctx))

	var order []string
	for _, name := range []string{"one", "two", "three"} {
		name := name
		p.AddState(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(order) != 3 || order[0] != "one" || order[2] != "three" {
		t.Fatalf("wrong order: %v", order)
	}
}

func TestPipeline_FailureUnwindsAndBreadcrumbs(t *testing.T) {
	ctx := newTestCtx()
	stack := resources.New(ctx)
	p := NewPipeline(ctx, stack)

	var cleaned []string
	p.AddState("acquire a", func(context.Context) error {
		stack.Push("a", func() error { cleaned = append(cleaned, "a"); return nil })
		return nil
	})
	p.AddState("acquire b", func(context.Context) error {
		stack.Push("b", func() error { cleaned = append(cleaned, "b"); return nil })
		return nil
	})
	p.AddState("explode", func(context.Context) error {
		return fmt.Errorf("boom")
	})
	p.AddState("unreached", func(context.Context) error {
		t.Fatal("state after a failure must not run")
		return nil
	})

	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected failure")
	}

	var step *almaerr.Step
	if !errors.As(err, &step) || step.Name != "explode" {
		t.Fatalf("expected breadcrumb naming the failed step, got %v", err)
	}
	if len(cleaned) != 2 || cleaned[0] != "b" || cleaned[1] != "a" {
		t.Fatalf("cleanups must run in reverse order before exit, got %v", cleaned)
	}
}

func TestPipeline_CancellationStopsBeforeNextState(t *testing.T) {
	ctx := newTestCtx()
	stack := resources.New(ctx)
	p := NewPipeline(ctx, stack)

	var cleaned bool
	p.AddState("first", func(context.Context) error {
		stack.Push("r", func() error { cleaned = true; return nil })
		ctx.Cancel()
		return nil
	})
	p.AddState("second", func(context.Context) error {
		t.Fatal("must not run after cancellation")
		return nil
	})

	err := p.Run(context.Background())
	var cancelled *almaerr.Cancelled
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
	if !cleaned {
		t.Fatal("cancellation must unwind the stack")
	}
}

func TestCheckHostTools_MissingToolReported(t *testing.T) {
	orig := lookPath
	defer func() { lookPath = orig }()
	lookPath = func(name string) (string, error) {
		if name == "sgdisk" {
			return "", fmt.Errorf("not found")
		}
		return "/usr/bin/" + name, nil
	}

	err := checkHostTools(createHostTools)
	var missing *almaerr.MissingHostTool
	if !errors.As(err, &missing) || missing.Name != "sgdisk" {
		t.Fatalf("expected MissingHostTool{sgdisk}, got %v", err)
	}
}

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		name string
		opts CreateOptions
		want storage.TargetKind
	}{
		{"root partition wins", CreateOptions{RootPartition: "/dev/loop0p5", Path: "/dev/sdb"}, storage.KindPartitions},
		{"image size set", CreateOptions{Path: "out.img", ImageSize: 4 << 30}, storage.KindImage},
		{"plain device", CreateOptions{Path: "/dev/sdb"}, storage.KindWholeDisk},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveTarget(tc.opts); got.Kind != tc.want {
				t.Fatalf("kind = %d, want %d", got.Kind, tc.want)
			}
		})
	}
}

func TestWantBootloader(t *testing.T) {
	d := &CreateDriver{opts: CreateOptions{RootPartition: "/dev/sdb5"}}
	if d.wantBootloader() {
		t.Fatal("root partition without boot partition must skip the bootloader")
	}

	d = &CreateDriver{opts: CreateOptions{RootPartition: "/dev/sdb5", BootPartition: "/dev/sdb1"}}
	if !d.wantBootloader() {
		t.Fatal("boot partition present must install the bootloader")
	}

	d = &CreateDriver{opts: CreateOptions{Path: "/dev/sdb"}}
	if !d.wantBootloader() {
		t.Fatal("whole-disk targets must install the bootloader")
	}
}

func TestTrimNewline(t *testing.T) {
	if got := trimNewline("secret\n"); got != "secret" {
		t.Fatalf("got %q", got)
	}
	if got := trimNewline("secret\r\n"); got != "secret" {
		t.Fatalf("got %q", got)
	}
	if got := trimNewline("secret"); got != "secret" {
		t.Fatalf("got %q", got)
	}
}

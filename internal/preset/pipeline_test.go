package preset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"alma/internal/almaerr"
	"alma/internal/appctx"
	"alma/internal/resources"
)

func writePreset(t *testing.T, dir, rel, contents string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	ctx := appctx.New(false, false, "", zerolog.Nop())
	return NewPipeline(ctx, NewAcquirer(ctx, resources.New(ctx)))
}

func TestBuild_OrderAndAggregation(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "00-a.toml", "packages = [\"a\"]\nscript = \"echo A\"\n")
	writePreset(t, dir, "10/00-b.toml", "packages = [\"b\", \"a\"]\nscript = \"echo B\"\n")

	set, err := newPipeline(t).Build(context.Background(), []string{dir}, []string{"extra"}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var names []string
	for _, p := range set.Presets {
		names = append(names, p.Name())
	}
	if diff := cmp.Diff([]string{"00-a", "00-b"}, names); diff != "" {
		t.Fatalf("discovery order (-want +got):\n%s", diff)
	}

	// union, duplicates collapsed, CLI extras appended
	if diff := cmp.Diff([]string{"a", "b", "extra"}, set.AggregatedPackages); diff != "" {
		t.Fatalf("aggregated packages (-want +got):\n%s", diff)
	}
}

func TestBuild_MissingEnvironmentAbortsEarly(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "user.toml", "environment_variables = [\"ALMA_TEST_SURELY_UNSET\"]\n")

	_, err := newPipeline(t).Build(context.Background(), []string{dir}, nil, nil)
	var me *almaerr.MissingEnvironment
	if !errors.As(err, &me) {
		t.Fatalf("expected MissingEnvironment, got %v", err)
	}
	if me.Var != "ALMA_TEST_SURELY_UNSET" {
		t.Fatalf("wrong variable reported: %q", me.Var)
	}
}

func TestBuild_EnvironmentSatisfied(t *testing.T) {
	t.Setenv("ALMA_TEST_USERNAME", "arch")

	dir := t.TempDir()
	writePreset(t, dir, "user.toml", "environment_variables = [\"ALMA_TEST_USERNAME\"]\n")

	set, err := newPipeline(t).Build(context.Background(), []string{dir}, nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(set.RequiredEnvironment) != 1 {
		t.Fatalf("expected one required variable, got %v", set.RequiredEnvironment)
	}
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	dir := t.TempDir()
	path := writePreset(t, dir, "typo.toml", "packges = [\"a\"]\n")

	_, err := Parse(path)
	var pe *almaerr.PresetParse
	if !errors.As(err, &pe) {
		t.Fatalf("expected PresetParse for unknown key, got %v", err)
	}
}

func TestParse_SharedDirectoryMustExist(t *testing.T) {
	dir := t.TempDir()
	path := writePreset(t, dir, "p.toml", "shared_directories = [\"configs\"]\n")

	if _, err := Parse(path); err == nil {
		t.Fatal("expected error for missing shared directory")
	}

	if err := os.Mkdir(filepath.Join(dir, "configs"), 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(path); err != nil {
		t.Fatalf("expected success once the directory exists, got %v", err)
	}
}

func TestParse_SharedDirectoryTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	path := writePreset(t, dir, "p.toml", "shared_directories = [\"../escape\"]\n")

	if _, err := Parse(path); err == nil {
		t.Fatal("expected error for upward traversal")
	}
}

func TestDiscover_SingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writePreset(t, dir, "only.toml", "packages = []\n")

	paths, err := Discover(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != path {
		t.Fatalf("single file should be treated as a single preset, got %v", paths)
	}
}

func TestLint_ReportsTypeViolations(t *testing.T) {
	dir := t.TempDir()
	path := writePreset(t, dir, "bad.toml", "packages = \"not-a-list\"\n")

	err := Lint(path)
	var pe *almaerr.PresetParse
	if !errors.As(err, &pe) {
		t.Fatalf("expected PresetParse from lint, got %v", err)
	}
}

func TestLint_AcceptsValidPreset(t *testing.T) {
	dir := t.TempDir()
	path := writePreset(t, dir, "good.toml", "packages = [\"vim\"]\nscript = \"echo hi\"\n")

	if err := Lint(path); err != nil {
		t.Fatalf("lint rejected a valid preset: %v", err)
	}
}

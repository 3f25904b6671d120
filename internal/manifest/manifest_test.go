package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"alma/internal/almaerr"
)

func TestWriteLoad_RoundTrip(t *testing.T) {
	root := t.TempDir()

	m := New()
	m.Filesystem = "btrfs"
	m.Encrypted = true
	m.ExtraPackages = []string{"vim", "htop"}
	m.AURPackages = []string{"paru-bin"}
	m.AURHelper = "paru"
	m.Presets = []string{"https://example.com/presets.zip", "/srv/presets"}
	m.BootSizeMiB = 512

	if err := Write(root, m); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_MissingFileIsManifestRead(t *testing.T) {
	_, err := Load(t.TempDir())
	var mr *almaerr.ManifestRead
	if !errors.As(err, &mr) {
		t.Fatalf("expected ManifestRead, got %v", err)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, RelPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	contents := "schema = 1\nsystem = \"alma\"\nbogus_key = true\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(root)
	var mr *almaerr.ManifestRead
	if !errors.As(err, &mr) {
		t.Fatalf("expected ManifestRead for unknown key, got %v", err)
	}
}

func TestLoad_WrongSchemaRejected(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, RelPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("schema = 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(root); err == nil {
		t.Fatal("expected schema version error")
	}
}

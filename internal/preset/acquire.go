package preset

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cavaliergopher/grab/v3"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"alma/internal/almaerr"
	"alma/internal/appctx"
	"alma/internal/resources"
)

// sourceKind classifies a --presets argument by prefix/suffix.
type sourceKind int

const (
	sourceLocal sourceKind = iota
	sourceZip
	sourceTarball
	sourceGit
	sourceHTTPArchive
)

func classify(source string) sourceKind {
	lower := strings.ToLower(source)
	isHTTP := strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")

	switch {
	case strings.HasSuffix(lower, ".git"):
		return sourceGit
	case isHTTP && strings.HasSuffix(lower, ".zip"):
		return sourceZip
	case isHTTP && (strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") ||
		strings.HasSuffix(lower, ".tar.zst") || strings.HasSuffix(lower, ".tar.xz")):
		return sourceTarball
	case isHTTP:
		return sourceHTTPArchive
	default:
		return sourceLocal
	}
}

// Acquirer resolves a --presets argument to a local filesystem path,
// fetching remote sources into a scoped temporary directory whose
// deletion is pushed onto the resource stack.
type Acquirer struct {
	ctx   *appctx.Context
	stack *resources.Stack
}

// NewAcquirer builds an Acquirer bound to the shared context and
// resource stack.
func NewAcquirer(ctx *appctx.Context, stack *resources.Stack) *Acquirer {
	return &Acquirer{ctx: ctx, stack: stack}
}

// Resolve returns a local path for source, fetching it first if remote.
func (a *Acquirer) Resolve(ctx context.Context, source string) (string, error) {
	switch classify(source) {
	case sourceGit:
		return a.resolveGit(ctx, source)
	case sourceZip, sourceTarball, sourceHTTPArchive:
		return a.resolveArchive(ctx, source)
	default:
		return source, nil
	}
}

func (a *Acquirer) scratchDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return "", &almaerr.PresetFetch{Source: prefix, Err: err}
	}
	a.stack.Push("preset scratch dir "+dir, func() error {
		return os.RemoveAll(dir)
	})
	return dir, nil
}

func (a *Acquirer) resolveGit(ctx context.Context, source string) (string, error) {
	dir, err := a.scratchDir("alma-preset-git-")
	if err != nil {
		return "", err
	}

	ref, url := splitGitRef(source)
	cloneOpts := &git.CloneOptions{URL: url, SingleBranch: true, Depth: 1}
	if ref != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}

	clone := func() error {
		_, err := git.PlainCloneContext(ctx, dir, false, cloneOpts)
		return err
	}
	if err := withSingleRetry(clone); err != nil {
		return "", &almaerr.PresetFetch{Source: source, Err: err}
	}
	return dir, nil
}

// splitGitRef splits an optional "#branch" suffix off a git URL.
func splitGitRef(source string) (ref, url string) {
	if i := strings.LastIndex(source, "#"); i >= 0 {
		return source[i+1:], source[:i]
	}
	return "", source
}

func (a *Acquirer) resolveArchive(ctx context.Context, source string) (string, error) {
	dir, err := a.scratchDir("alma-preset-archive-")
	if err != nil {
		return "", err
	}

	var body []byte
	download := func() error {
		b, err := a.download(ctx, source)
		if err != nil {
			return err
		}
		body = b
		return nil
	}
	if err := withSingleRetry(download); err != nil {
		return "", &almaerr.PresetFetch{Source: source, Err: err}
	}

	if err := extractArchive(source, body, dir); err != nil {
		return "", &almaerr.PresetFetch{Source: source, Err: err}
	}
	return dir, nil
}

func (a *Acquirer) download(ctx context.Context, url string) ([]byte, error) {
	resp, err := grab.Get(os.TempDir(), url)
	if err != nil {
		// fall back to a plain HTTP GET when grab's resumable transfer
		// can't be used (e.g. a server without Range support)
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if rerr != nil {
			return nil, rerr
		}
		httpResp, herr := http.DefaultClient.Do(req)
		if herr != nil {
			return nil, err
		}
		defer httpResp.Body.Close()
		return io.ReadAll(httpResp.Body)
	}
	defer os.Remove(resp.Filename)
	return os.ReadFile(resp.Filename)
}

func extractArchive(source string, body []byte, dest string) error {
	lower := strings.ToLower(source)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractZip(body, dest)
	case strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz"):
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer gz.Close()
		return extractTar(gz, dest)
	case strings.HasSuffix(lower, ".tar.zst"):
		zr, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer zr.Close()
		return extractTar(zr, dest)
	case strings.HasSuffix(lower, ".tar.xz"):
		xr, err := xz.NewReader(bytes.NewReader(body))
		if err != nil {
			return err
		}
		return extractTar(xr, dest)
	default:
		return fmt.Errorf("unrecognized archive format for %s", source)
	}
}

func extractZip(body []byte, dest string) error {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("zip entry %q escapes destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("tar entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.Create(target)
			if err != nil {
				return err
			}
			_, err = io.Copy(out, tr)
			out.Close()
			if err != nil {
				return err
			}
		}
	}
}

// withSingleRetry retries fn once, absorbing a single transient network
// failure.
func withSingleRetry(fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	return fn()
}

package payload

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Names of the payload files inside a bundle
const (
	LoaderDex     = "loader.dex"
	MetaLoaderDex = "metaloader.dex"
	ProviderDex   = "provider.dex"
	nativeLibName = "libopatch.so"
)

// NativeLib returns the bundle path of the loader library for arch.
func NativeLib(arch string) string {
	return path.Join("so", arch, nativeLibName)
}

// ErrMissing is returned when a bundle lacks a requested file.
var ErrMissing = errors.New("payload file missing")

// Bundle holds the loader payloads injected into every patched package.
// It is read-only once loaded and may be shared between pipelines.
type Bundle struct {
	Source string
	files  map[string][]byte
}

// NewBundle returns a bundle over files, keyed by bundle path.
func NewBundle(source string, files map[string][]byte) *Bundle {
	return &Bundle{Source: source, files: files}
}

// File returns the contents of name.
func (b *Bundle) File(name string) ([]byte, error) {
	data, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrMissing, name, b.Source)
	}
	return data, nil
}

// Has reports whether the bundle carries name
func (b *Bundle) Has(name string) bool {
	_, ok := b.files[name]
	return ok
}

// Load reads a bundle from a directory or from a tarball, optionally
// compressed with gzip, xz or zstd.
func Load(src string) (*Bundle, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload bundle: %w", err)
	}
	if info.IsDir() {
		return loadDir(src)
	}
	return loadTar(src)
}

func loadDir(dir string) (*Bundle, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read payload directory: %w", err)
	}
	return NewBundle(dir, files), nil
}

func loadTar(archive string) (*Bundle, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, fmt.Errorf("failed to open payload bundle: %w", err)
	}
	defer f.Close()

	// Detect compression from extension
	var r io.Reader
	switch {
	case strings.HasSuffix(archive, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case strings.HasSuffix(archive, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, err
		}
		r = xr
	case strings.HasSuffix(archive, ".tar.gz"), strings.HasSuffix(archive, ".tgz"):
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	case strings.HasSuffix(archive, ".tar"):
		r = f
	default:
		return nil, fmt.Errorf("unsupported payload bundle format: %s", filepath.Base(archive))
	}

	files := make(map[string][]byte)
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read payload bundle: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from payload bundle: %w", header.Name, err)
		}
		files[path.Clean(strings.TrimPrefix(header.Name, "./"))] = data
	}
	return NewBundle(archive, files), nil
}

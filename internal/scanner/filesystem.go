package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ralt/opatch/internal/models"
)

// FileSystemScanner implements Scanner interface for filesystem scanning
type FileSystemScanner struct {
	exclude []string
}

// NewFileSystemScanner creates a new filesystem scanner. Directory walks
// skip the exclude directories, such as the patcher's own output.
func NewFileSystemScanner(exclude ...string) *FileSystemScanner {
	s := &FileSystemScanner{}
	for _, dir := range exclude {
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		s.exclude = append(s.exclude, filepath.Clean(dir))
	}
	return s
}

func (s *FileSystemScanner) excluded(dir string) bool {
	if len(s.exclude) == 0 {
		return false
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	return slices.Contains(s.exclude, abs)
}

// Scan recursively scans a directory for .apk files holding a manifest
func (s *FileSystemScanner) Scan(ctx context.Context, dir string) ([]ScannedPackage, error) {
	var packages []ScannedPackage

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() && path != dir && s.excluded(path) {
			logrus.Debugf("Skipping excluded directory %s", path)
			return filepath.SkipDir
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".apk") {
			return nil
		}

		pkgType, err := s.DetectType(path)
		if err != nil {
			logrus.Warnf("Failed to detect type for %s: %v", path, err)
			return nil
		}
		if pkgType != TypeAPK {
			logrus.Warnf("Skipping %s: not an application package (%s)", path, pkgType)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		logrus.Debugf("Found package: %s", path)

		packages = append(packages, ScannedPackage{
			Path: path,
			Type: pkgType,
			Size: info.Size(),
		})
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	logrus.Infof("Found %d packages in %s", len(packages), dir)
	return packages, nil
}

// Resolve walks directory inputs and checks file inputs. A file that is not
// an application package is an Input error.
func (s *FileSystemScanner) Resolve(ctx context.Context, inputs []string) ([]ScannedPackage, error) {
	var packages []ScannedPackage
	for _, input := range inputs {
		info, err := os.Stat(input)
		if err != nil {
			return nil, &models.PatchError{Type: models.ErrInput, Package: input, Err: err}
		}

		if info.IsDir() {
			found, err := s.Scan(ctx, input)
			if err != nil {
				return nil, &models.PatchError{Type: models.ErrInput, Package: input, Err: err}
			}
			packages = append(packages, found...)
			continue
		}

		pkgType, err := s.DetectType(input)
		if err != nil {
			return nil, &models.PatchError{Type: models.ErrInput, Package: input, Err: err}
		}
		if pkgType != TypeAPK {
			return nil, &models.PatchError{
				Type:    models.ErrInput,
				Package: input,
				Entry:   manifestName,
				Err:     fmt.Errorf("not an application package (%s)", pkgType),
			}
		}
		packages = append(packages, ScannedPackage{Path: input, Type: pkgType, Size: info.Size()})
	}

	if len(packages) == 0 {
		return nil, &models.PatchError{Type: models.ErrInput, Err: fmt.Errorf("no packages found in %s", strings.Join(inputs, ", "))}
	}
	return packages, nil
}

// DetectType determines the package type of a file
func (s *FileSystemScanner) DetectType(path string) (PackageType, error) {
	return DetectPackageType(path)
}

package patcher

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
	"github.com/shogo82148/androidbinary"
	"github.com/shogo82148/androidbinary/apk"
	"github.com/sirupsen/logrus"

	"github.com/ralt/opatch/internal/container"
	"github.com/ralt/opatch/internal/models"
)

// LoadModules validates every module package and opens it for embedding.
// Duplicate package names are rejected before anything is opened for
// writing. The caller owns the returned handles; see CloseModules.
func LoadModules(paths []string, layout models.Layout) ([]*models.Module, error) {
	var modules []*models.Module
	seen := make(map[string]string)

	for _, path := range paths {
		pkg, err := modulePackage(path, layout.ManifestPath)
		if err != nil {
			CloseModules(modules)
			return nil, &models.PatchError{Type: models.ErrInput, Package: path, Entry: layout.ManifestPath, Err: err}
		}
		if other, ok := seen[pkg]; ok {
			CloseModules(modules)
			return nil, &models.PatchError{
				Type:    models.ErrDuplicateModule,
				Package: path,
				Err:     fmt.Errorf("%w: %s is also provided by %s", ErrDuplicateModule, pkg, other),
			}
		}
		seen[pkg] = path

		r, err := container.OpenReader(path)
		if err != nil {
			CloseModules(modules)
			return nil, &models.PatchError{Type: models.ErrContainer, Package: path, Err: err}
		}
		logrus.Debugf("Loaded module %s from %s", pkg, path)
		modules = append(modules, &models.Module{PackageName: pkg, SourcePath: path, Handle: r})
	}
	return modules, nil
}

// CloseModules releases the handles opened by LoadModules
func CloseModules(modules []*models.Module) {
	for _, m := range modules {
		if r, ok := m.Handle.(*container.Reader); ok {
			r.Close()
		}
	}
}

// modulePackage reads the package name out of a module's compiled manifest.
func modulePackage(path, manifestName string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("failed to open module: %w", err)
	}
	defer zr.Close()

	var data []byte
	for _, zf := range zr.File {
		if zf.Name != manifestName {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open manifest: %w", err)
		}
		data, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read manifest: %w", err)
		}
		break
	}
	if data == nil {
		return "", fmt.Errorf("module has no manifest")
	}

	xf, err := androidbinary.NewXMLFile(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse manifest: %w", err)
	}
	var m apk.Manifest
	if err := xf.Decode(&m, nil, nil); err != nil {
		return "", fmt.Errorf("failed to decode manifest: %w", err)
	}
	pkg, err := m.Package.String()
	if err != nil {
		return "", fmt.Errorf("failed to read package name: %w", err)
	}
	if pkg == "" {
		return "", fmt.Errorf("manifest declares no package")
	}
	return pkg, nil
}

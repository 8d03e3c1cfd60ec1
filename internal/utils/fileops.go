package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// partialSuffix marks an output that never reached the signed state
const partialSuffix = ".partial"

// EnsureDir ensures a directory exists, creating it if necessary
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// OutputPath derives the patched file name from the input base name and builder version
func OutputPath(outputDir, input, version string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Abs(filepath.Join(outputDir, fmt.Sprintf("%s-%s-opatched.apk", base, version)))
}

// OutputExists reports whether something already occupies path
func OutputExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("cannot stat output: %w", err)
}

// PartialPath is the sibling file an output is built in before it is committed
func PartialPath(path string) string {
	return path + partialSuffix
}

// Commit moves a finished partial file onto its final name
func Commit(partial, final string) error {
	if err := os.Rename(partial, final); err != nil {
		return fmt.Errorf("failed to commit %s: %w", filepath.Base(final), err)
	}
	return nil
}

// RemoveIfExists deletes path, ignoring a missing file
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

package scanner

import "context"

// PackageType represents what a candidate input turned out to be
type PackageType int

const (
	TypeUnknown PackageType = iota
	// TypeArchive is a readable zip without a compiled manifest
	TypeArchive
	TypeAPK
)

// String returns the string representation of PackageType
func (pt PackageType) String() string {
	switch pt {
	case TypeArchive:
		return "archive"
	case TypeAPK:
		return "apk"
	default:
		return "unknown"
	}
}

// ScannedPackage represents a package file found during scanning
type ScannedPackage struct {
	Path string
	Type PackageType
	Size int64
}

// Scanner finds the packages a patch run should process
type Scanner interface {
	// Scan recursively scans a directory for packages
	Scan(ctx context.Context, dir string) ([]ScannedPackage, error)

	// Resolve expands command line inputs into packages
	Resolve(ctx context.Context, inputs []string) ([]ScannedPackage, error)

	// DetectType determines the package type of a file
	DetectType(path string) (PackageType, error)
}

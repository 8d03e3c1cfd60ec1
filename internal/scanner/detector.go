package scanner

import (
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/zip"
)

// zipMagic is the signature of a zip local file header
var zipMagic = []byte("PK\x03\x04")

const manifestName = "AndroidManifest.xml"

// DetectPackageType determines the package type based on magic bytes and archive contents
func DetectPackageType(path string) (PackageType, error) {
	f, err := os.Open(path)
	if err != nil {
		return TypeUnknown, err
	}
	defer f.Close()

	header := make([]byte, len(zipMagic))
	if _, err := io.ReadFull(f, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return TypeUnknown, nil
		}
		return TypeUnknown, err
	}
	if !bytes.Equal(header, zipMagic) {
		return TypeUnknown, nil
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		// right magic but no readable central directory
		return TypeUnknown, nil
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if zf.Name == manifestName {
			return TypeAPK, nil
		}
	}
	return TypeArchive, nil
}

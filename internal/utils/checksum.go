package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/crc32"
	"io"
)

// Checksum contains the checksums recorded for an archive entry
type Checksum struct {
	CRC32  uint32
	SHA256 string
	Size   int64
}

// ChecksumReader streams r through every hash at once
func ChecksumReader(r io.Reader) (*Checksum, error) {
	crcHash := crc32.NewIEEE()
	sha256Hash := sha256.New()

	// Use MultiWriter to calculate all hashes at once
	multiWriter := io.MultiWriter(crcHash, sha256Hash)

	n, err := io.Copy(multiWriter, r)
	if err != nil {
		return nil, err
	}

	return &Checksum{
		CRC32:  crcHash.Sum32(),
		SHA256: hex.EncodeToString(sha256Hash.Sum(nil)),
		Size:   n,
	}, nil
}

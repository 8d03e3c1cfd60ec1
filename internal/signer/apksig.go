package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/ralt/opatch/internal/container"
)

const (
	blockIDv2    = 0x7109871a
	blockMagic   = "APK Sig Block 42"
	chunkSize    = 1 << 20
	algRSASHA256 = 0x0103
	algECSHA256  = 0x0201
)

// Signer attaches a signature to a finished package file.
type Signer interface {
	Sign(path string) error
}

// V2Signer signs packages with APK Signature Scheme v2.
type V2Signer struct {
	cred *Credential
}

// NewV2Signer returns a signer using cred
func NewV2Signer(cred *Credential) *V2Signer {
	return &V2Signer{cred: cred}
}

func (s *V2Signer) algorithm() (uint32, error) {
	switch s.cred.Key.(type) {
	case *rsa.PrivateKey:
		return algRSASHA256, nil
	case *ecdsa.PrivateKey:
		return algECSHA256, nil
	default:
		return 0, fmt.Errorf("%w: unsupported key type %T", ErrSigning, s.cred.Key)
	}
}

// Sign inserts an APK Signing Block in front of the central directory of
// the unsigned archive at path and moves the directory behind it.
func (s *V2Signer) Sign(path string) error {
	alg, err := s.algorithm()
	if err != nil {
		return err
	}

	r, err := container.OpenReader(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSigning, err)
	}
	cdOffset, cdSize, eocdOffset := r.Sections()
	r.Close()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSigning, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSigning, err)
	}
	tail := make([]byte, info.Size()-cdOffset)
	if _, err := f.ReadAt(tail, cdOffset); err != nil {
		return fmt.Errorf("%w: read central directory: %w", ErrSigning, err)
	}
	cd := tail[:cdSize]
	eocd := tail[eocdOffset-cdOffset:]

	digest, err := contentDigest(
		io.NewSectionReader(f, 0, cdOffset),
		io.NewSectionReader(f, cdOffset, cdSize),
		io.NewSectionReader(f, eocdOffset, int64(len(eocd))),
	)
	if err != nil {
		return fmt.Errorf("%w: digest: %w", ErrSigning, err)
	}

	signerBlock, err := s.signerBlock(alg, digest)
	if err != nil {
		return err
	}
	block := signingBlock(lengthPrefixed(lengthPrefixed(signerBlock)))

	newEOCD := append([]byte(nil), eocd...)
	binary.LittleEndian.PutUint32(newEOCD[16:], uint32(cdOffset+int64(len(block))))

	out := make([]byte, 0, len(block)+len(cd)+len(newEOCD))
	out = append(out, block...)
	out = append(out, cd...)
	out = append(out, newEOCD...)
	if _, err := f.WriteAt(out, cdOffset); err != nil {
		return fmt.Errorf("%w: write signing block: %w", ErrSigning, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrSigning, err)
	}
	return nil
}

// contentDigest computes the chunked SHA-256 digest over the archive sections.
func contentDigest(sections ...*io.SectionReader) ([]byte, error) {
	var chunks [][]byte
	buf := make([]byte, chunkSize)
	prefix := make([]byte, 5)
	for _, sec := range sections {
		for off := int64(0); off < sec.Size(); off += chunkSize {
			n := min(int64(chunkSize), sec.Size()-off)
			if _, err := sec.ReadAt(buf[:n], off); err != nil && err != io.EOF {
				return nil, err
			}
			prefix[0] = 0xa5
			binary.LittleEndian.PutUint32(prefix[1:], uint32(n))
			h := sha256.New()
			h.Write(prefix)
			h.Write(buf[:n])
			chunks = append(chunks, h.Sum(nil))
		}
	}

	h := sha256.New()
	prefix[0] = 0x5a
	binary.LittleEndian.PutUint32(prefix[1:], uint32(len(chunks)))
	h.Write(prefix)
	for _, c := range chunks {
		h.Write(c)
	}
	return h.Sum(nil), nil
}

func (s *V2Signer) signerBlock(alg uint32, digest []byte) ([]byte, error) {
	var digests, certs []byte
	digests = append(digests, lengthPrefixed(concat(u32(alg), lengthPrefixed(digest)))...)
	for _, c := range s.cred.Chain {
		certs = append(certs, lengthPrefixed(c.Raw)...)
	}
	signedData := concat(
		lengthPrefixed(digests),
		lengthPrefixed(certs),
		lengthPrefixed(nil), // additional attributes
	)

	sum := sha256.Sum256(signedData)
	sig, err := s.cred.Key.Sign(rand.Reader, sum[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	signatures := lengthPrefixed(concat(u32(alg), lengthPrefixed(sig)))

	return concat(
		lengthPrefixed(signedData),
		lengthPrefixed(signatures),
		lengthPrefixed(s.cred.Chain[0].RawSubjectPublicKeyInfo),
	), nil
}

// signingBlock wraps a v2 block value into an APK Signing Block.
func signingBlock(v2 []byte) []byte {
	pair := concat(u64(uint64(4+len(v2))), u32(blockIDv2), v2)
	size := uint64(len(pair) + 8 + len(blockMagic))
	return concat(u64(size), pair, u64(size), []byte(blockMagic))
}

func lengthPrefixed(b []byte) []byte {
	return concat(u32(uint32(len(b))), b)
}

func u32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

func u64(v uint64) []byte { return binary.LittleEndian.AppendUint64(nil, v) }

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"os"

	"github.com/ralt/opatch/internal/utils"
)

// Entry describes one record of a read-only container.
type Entry struct {
	Name           string
	Method         uint16
	CRC32          uint32
	CompressedSize uint64
	Size           uint64
	HeaderOffset   uint64
	DataOffset     uint64

	hdr header
}

// Reader is a read-only container handle. It only uses ReadAt on the
// underlying file, so concurrent reads of different entries are safe.
type Reader struct {
	path    string
	f       *os.File
	size    int64
	entries []*Entry
	index   map[string]*Entry

	cdOffset   int64
	cdSize     int64
	eocdOffset int64
}

// OpenReader opens the archive at path and parses its central directory.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, openError(path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, openError(path, err)
	}

	r := &Reader{
		path:  path,
		f:     f,
		size:  info.Size(),
		index: make(map[string]*Entry),
	}
	if err := r.parse(); err != nil {
		f.Close()
		return nil, openError(path, err)
	}
	return r, nil
}

// Path returns the file the reader was opened from
func (r *Reader) Path() string { return r.path }

// Size returns the archive size in bytes
func (r *Reader) Size() int64 { return r.size }

// Entry returns the named entry
func (r *Reader) Entry(name string) (*Entry, bool) {
	e, ok := r.index[name]
	return e, ok
}

// Has reports whether the archive holds name
func (r *Reader) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Entries yields every entry in central directory order.
func (r *Reader) Entries() iter.Seq[*Entry] {
	return func(yield func(*Entry) bool) {
		for _, e := range r.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Len returns the number of entries
func (r *Reader) Len() int { return len(r.entries) }

// Sections returns where the central directory and the end record start,
// and the central directory size.
func (r *Reader) Sections() (cdOffset, cdSize, eocdOffset int64) {
	return r.cdOffset, r.cdSize, r.eocdOffset
}

// Open returns a reader of the decompressed contents of name.
func (r *Reader) Open(name string) (io.ReadCloser, error) {
	e, ok := r.index[name]
	if !ok {
		return nil, &EntryError{Op: "open entry", Name: name, Err: ErrSourceEntryNotFound}
	}
	raw := r.raw(e)
	switch e.Method {
	case methodStore:
		return io.NopCloser(raw), nil
	case methodDeflate:
		return utils.InflateRaw(raw), nil
	default:
		return nil, &EntryError{Op: "open entry", Name: name, Err: fmt.Errorf("unsupported compression method %d", e.Method)}
	}
}

// ReadFile returns the decompressed contents of name after checking size and CRC.
func (r *Reader) ReadFile(name string) ([]byte, error) {
	rc, err := r.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	e := r.index[name]
	data, err := io.ReadAll(io.LimitReader(rc, int64(e.Size)+1))
	if err != nil {
		return nil, &EntryError{Op: "read", Name: name, Err: err}
	}
	if uint64(len(data)) != e.Size {
		return nil, &EntryError{Op: "read", Name: name, Err: fmt.Errorf("size mismatch: got %d, want %d", len(data), e.Size)}
	}
	if crc32.ChecksumIEEE(data) != e.CRC32 {
		return nil, &EntryError{Op: "read", Name: name, Err: errors.New("crc32 mismatch")}
	}
	return data, nil
}

// Close releases the underlying file
func (r *Reader) Close() error {
	return r.f.Close()
}

func (r *Reader) raw(e *Entry) *io.SectionReader {
	return io.NewSectionReader(r.f, int64(e.DataOffset), int64(e.CompressedSize))
}

func (r *Reader) whole() *io.SectionReader {
	return io.NewSectionReader(r.f, 0, r.size)
}

func (r *Reader) parse() error {
	if r.size < eocdLen {
		return errors.New("file too small to be a zip archive")
	}

	// The EOCD sits in the last 22 bytes plus an optional comment
	tailLen := int64(eocdLen + maxCommentLen)
	if tailLen > r.size {
		tailLen = r.size
	}
	tail := make([]byte, tailLen)
	if _, err := r.f.ReadAt(tail, r.size-tailLen); err != nil {
		return err
	}
	eocdAt := findEOCD(tail)
	if eocdAt < 0 {
		return errors.New("end of central directory not found")
	}
	eocd := tail[eocdAt:]

	diskNum := binary.LittleEndian.Uint16(eocd[4:])
	cdDisk := binary.LittleEndian.Uint16(eocd[6:])
	records := binary.LittleEndian.Uint16(eocd[10:])
	cdSize := binary.LittleEndian.Uint32(eocd[12:])
	cdOffset := binary.LittleEndian.Uint32(eocd[16:])
	if diskNum != 0 || cdDisk != 0 {
		return errors.New("multi-disk archives are not supported")
	}
	if records == uint16Max || cdSize == uint32Max || cdOffset == uint32Max {
		return errors.New("zip64 archives are not supported")
	}
	eocdOffset := r.size - tailLen + int64(eocdAt)
	if int64(cdOffset)+int64(cdSize) > eocdOffset {
		return fmt.Errorf("central directory [%d,+%d) overlaps end record at %d", cdOffset, cdSize, eocdOffset)
	}

	r.cdOffset, r.cdSize, r.eocdOffset = int64(cdOffset), int64(cdSize), eocdOffset

	cd := make([]byte, cdSize)
	if _, err := r.f.ReadAt(cd, int64(cdOffset)); err != nil {
		return fmt.Errorf("read central directory: %w", err)
	}

	for i := 0; i < int(records); i++ {
		e, n, err := parseCentral(cd)
		if err != nil {
			return fmt.Errorf("central directory record %d: %w", i, err)
		}
		cd = cd[n:]
		if err := r.locate(e, uint64(cdOffset)); err != nil {
			return fmt.Errorf("entry %s: %w", e.Name, err)
		}
		if _, dup := r.index[e.Name]; dup {
			return fmt.Errorf("duplicate entry %s", e.Name)
		}
		r.entries = append(r.entries, e)
		r.index[e.Name] = e
	}
	return nil
}

// locate reads the local header of e to find where its data starts.
func (r *Reader) locate(e *Entry, limit uint64) error {
	var lh [localHeaderLen]byte
	if _, err := r.f.ReadAt(lh[:], int64(e.HeaderOffset)); err != nil {
		return fmt.Errorf("read local header: %w", err)
	}
	if binary.LittleEndian.Uint32(lh[0:]) != localHeaderSig {
		return fmt.Errorf("bad local header signature at %d", e.HeaderOffset)
	}
	nameLen := uint64(binary.LittleEndian.Uint16(lh[26:]))
	extraLen := uint64(binary.LittleEndian.Uint16(lh[28:]))
	e.DataOffset = e.HeaderOffset + localHeaderLen + nameLen + extraLen
	if e.DataOffset+e.CompressedSize > limit {
		return fmt.Errorf("data [%d,+%d) runs past the central directory", e.DataOffset, e.CompressedSize)
	}
	return nil
}

func findEOCD(tail []byte) int {
	for i := len(tail) - eocdLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(tail[i:]) != eocdSig {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(tail[i+20:]))
		if i+eocdLen+commentLen <= len(tail) {
			return i
		}
	}
	return -1
}

func parseCentral(b []byte) (*Entry, int, error) {
	if len(b) < centralDirLen {
		return nil, 0, io.ErrUnexpectedEOF
	}
	if binary.LittleEndian.Uint32(b) != centralDirSig {
		return nil, 0, errors.New("bad central directory signature")
	}
	le := binary.LittleEndian
	h := header{
		versionMadeBy:  le.Uint16(b[4:]),
		versionNeeded:  le.Uint16(b[6:]),
		flags:          le.Uint16(b[8:]),
		method:         le.Uint16(b[10:]),
		modTime:        le.Uint16(b[12:]),
		modDate:        le.Uint16(b[14:]),
		crc32:          le.Uint32(b[16:]),
		compressedSize: uint64(le.Uint32(b[20:])),
		size:           uint64(le.Uint32(b[24:])),
		internalAttr:   le.Uint16(b[36:]),
		externalAttr:   le.Uint32(b[38:]),
	}
	nameLen := int(le.Uint16(b[28:]))
	extraLen := int(le.Uint16(b[30:]))
	commentLen := int(le.Uint16(b[32:]))
	offset := le.Uint32(b[42:])
	n := centralDirLen + nameLen + extraLen + commentLen
	if len(b) < n {
		return nil, 0, io.ErrUnexpectedEOF
	}
	if h.compressedSize == uint32Max || h.size == uint32Max || offset == uint32Max {
		return nil, 0, errors.New("zip64 entries are not supported")
	}
	h.name = string(b[centralDirLen : centralDirLen+nameLen])
	h.extra = bytes.Clone(b[centralDirLen+nameLen : centralDirLen+nameLen+extraLen])
	h.comment = string(b[centralDirLen+nameLen+extraLen : n])

	return &Entry{
		Name:           h.name,
		Method:         h.method,
		CRC32:          h.crc32,
		CompressedSize: h.compressedSize,
		Size:           h.size,
		HeaderOffset:   uint64(offset),
		hdr:            h,
	}, n, nil
}

package container

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"os"

	"github.com/ralt/opatch/internal/utils"
)

// Mode selects how OpenWriter treats an existing file.
type Mode int

const (
	// ModeCreate truncates any existing file.
	ModeCreate Mode = iota
	// ModeReadWrite keeps the entries of an existing archive, without recompressing them.
	ModeReadWrite
)

// EntryKind tells how an entry's bytes are sourced.
type EntryKind int

const (
	KindOwned EntryKind = iota
	KindLinked
	KindNested
)

func (k EntryKind) String() string {
	switch k {
	case KindOwned:
		return "owned"
	case KindLinked:
		return "linked"
	case KindNested:
		return "nested"
	default:
		return "unknown"
	}
}

// EntryInfo describes a destination entry.
type EntryInfo struct {
	Name           string
	Size           uint64
	CompressedSize uint64
	Kind           EntryKind
}

type entry struct {
	kind     EntryKind
	hdr      header
	data     []byte // owned: bytes as stored in the archive
	src      *Reader
	srcEntry *Entry // linked only
}

func (e *entry) info() EntryInfo {
	return EntryInfo{
		Name:           e.hdr.name,
		Size:           e.hdr.size,
		CompressedSize: e.hdr.compressedSize,
		Kind:           e.kind,
	}
}

// Writer builds a destination archive. It is owned by a single pipeline and
// must not be shared between goroutines.
type Writer struct {
	path      string
	f         *os.File
	entries   []*entry
	index     map[string]*entry
	align     AlignmentRule
	finalized bool
}

// OpenWriter opens path as a destination archive.
func OpenWriter(path string, mode Mode) (*Writer, error) {
	w := &Writer{
		path:  path,
		index: make(map[string]*entry),
	}

	if mode == ModeReadWrite {
		if err := w.loadExisting(); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, openError(path, err)
	}
	w.f = f
	return w, nil
}

// loadExisting copies the stored bytes of every entry already in the file.
func (w *Writer) loadExisting() error {
	if _, err := os.Stat(w.path); os.IsNotExist(err) {
		return nil
	}
	r, err := OpenReader(w.path)
	if err != nil {
		return err
	}
	defer r.Close()

	for e := range r.Entries() {
		data, err := io.ReadAll(r.raw(e))
		if err != nil {
			return openError(w.path, fmt.Errorf("read %s: %w", e.Name, err))
		}
		h := e.hdr
		h.flags &^= flagDataDescriptor
		w.push(&entry{kind: KindOwned, hdr: h, data: data})
	}
	return nil
}

// Path returns the file being written
func (w *Writer) Path() string { return w.path }

// Has reports whether name is already taken
func (w *Writer) Has(name string) bool {
	_, ok := w.index[name]
	return ok
}

// SetAlignment registers rule. Earlier rules win when both apply.
func (w *Writer) SetAlignment(rule AlignmentRule) error {
	if w.finalized {
		return &EntryError{Op: "set alignment", Err: ErrAlreadyFinalized}
	}
	if w.align == nil {
		w.align = rule
	} else {
		w.align = ComposeAlignment(w.align, rule)
	}
	return nil
}

// AddOwned stores data under name, deflating it when compress is set.
func (w *Writer) AddOwned(name string, data []byte, compress bool) error {
	if err := w.checkAdd("add", name); err != nil {
		return err
	}

	stored := data
	method := uint16(methodStore)
	if compress {
		d, err := utils.DeflateRaw(data)
		if err != nil {
			return &EntryError{Op: "add", Name: name, Err: err}
		}
		stored = d
		method = methodDeflate
	}
	if uint64(len(stored)) >= uint32Max || uint64(len(data)) >= uint32Max {
		return &EntryError{Op: "add", Name: name, Err: fmt.Errorf("entry too large for a non-zip64 archive")}
	}

	h := ownedHeader(name, method, crc32.ChecksumIEEE(data), uint64(len(stored)), uint64(len(data)))
	w.push(&entry{kind: KindOwned, hdr: h, data: stored})
	return nil
}

// AddLinked makes name carry the exact stored bytes of srcName in src.
// src must stay open until Finalize returns.
func (w *Writer) AddLinked(name string, src *Reader, srcName string) error {
	if err := w.checkAdd("link", name); err != nil {
		return err
	}
	se, ok := src.Entry(srcName)
	if !ok {
		return &EntryError{Op: "link", Name: srcName, Err: ErrSourceEntryNotFound}
	}

	h := se.hdr
	h.name = name
	w.push(&entry{kind: KindLinked, hdr: h, src: src, srcEntry: se})
	return nil
}

// Nest stores the whole archive behind src as a single uncompressed entry.
// Later links from src under their original names become aliases into it.
func (w *Writer) Nest(name string, src *Reader) (*utils.Checksum, error) {
	if err := w.checkAdd("nest", name); err != nil {
		return nil, err
	}
	if uint64(src.Size()) >= uint32Max {
		return nil, &EntryError{Op: "nest", Name: name, Err: fmt.Errorf("archive too large for a non-zip64 archive")}
	}

	sum, err := utils.ChecksumReader(src.whole())
	if err != nil {
		return nil, &EntryError{Op: "nest", Name: name, Err: err}
	}

	h := ownedHeader(name, methodStore, sum.CRC32, uint64(sum.Size), uint64(sum.Size))
	w.push(&entry{kind: KindNested, hdr: h, src: src})
	return sum, nil
}

// Entries yields a descriptor of every entry in insertion order. Each call
// starts a fresh pass.
func (w *Writer) Entries() iter.Seq[EntryInfo] {
	return func(yield func(EntryInfo) bool) {
		for _, e := range w.entries {
			if !yield(e.info()) {
				return
			}
		}
	}
}

// Finalize lays out every entry honoring the alignment rules, writes the
// central directory and closes the file.
func (w *Writer) Finalize() (err error) {
	if w.finalized {
		return &EntryError{Op: "finalize", Name: w.path, Err: ErrAlreadyFinalized}
	}
	w.finalized = true
	defer func() {
		if cerr := w.f.Close(); err == nil && cerr != nil {
			err = &EntryError{Op: "finalize", Name: w.path, Err: cerr}
		}
	}()

	bw := bufio.NewWriterSize(w.f, 1<<20)
	cw := &countingWriter{w: bw}
	var central []byte
	nestedAt := make(map[*Reader]uint64)

	for _, e := range w.entries {
		if e.kind == KindLinked {
			if rec, ok := w.alias(e, nestedAt); ok {
				central = append(central, rec...)
				continue
			}
		}

		offset := cw.n
		h := e.hdr
		dataStart := offset + localHeaderLen + uint64(len(h.name))
		extra := alignmentExtra(dataStart, w.boundary(h.name))
		if _, err := cw.Write(encodeLocal(h, extra)); err != nil {
			return &EntryError{Op: "finalize", Name: h.name, Err: err}
		}

		var body io.Reader
		switch e.kind {
		case KindOwned:
			body = bytes.NewReader(e.data)
		case KindLinked:
			body = e.src.raw(e.srcEntry)
		case KindNested:
			nestedAt[e.src] = cw.n
			body = e.src.whole()
		}
		if _, err := io.Copy(cw, body); err != nil {
			return &EntryError{Op: "finalize", Name: h.name, Err: err}
		}

		if e.kind != KindOwned {
			h.extra = nil
		}
		if offset > uint32Max {
			return &EntryError{Op: "finalize", Name: h.name, Err: fmt.Errorf("offset %d needs zip64", offset)}
		}
		central = append(central, encodeCentral(h, offset, h.flags&^flagDataDescriptor)...)
	}

	cdOffset := cw.n
	if cdOffset > uint32Max || len(w.entries) > uint16Max {
		return &EntryError{Op: "finalize", Name: w.path, Err: fmt.Errorf("archive needs zip64")}
	}
	if _, err := cw.Write(central); err != nil {
		return &EntryError{Op: "finalize", Name: w.path, Err: err}
	}
	if _, err := cw.Write(encodeEOCD(len(w.entries), uint64(len(central)), cdOffset)); err != nil {
		return &EntryError{Op: "finalize", Name: w.path, Err: err}
	}
	if err := bw.Flush(); err != nil {
		return &EntryError{Op: "finalize", Name: w.path, Err: err}
	}
	return nil
}

// alias returns a central directory record pointing at e's local header
// inside an already written nested archive. It refuses when the names differ
// (local and central names must agree) or the data would break alignment.
func (w *Writer) alias(e *entry, nestedAt map[*Reader]uint64) ([]byte, bool) {
	base, ok := nestedAt[e.src]
	if !ok || e.hdr.name != e.srcEntry.Name {
		return nil, false
	}
	if b := w.boundary(e.hdr.name); b > 1 && (base+e.srcEntry.DataOffset)%uint64(b) != 0 {
		return nil, false
	}
	lho := base + e.srcEntry.HeaderOffset
	if lho > uint32Max {
		return nil, false
	}
	return encodeCentral(e.hdr, lho, e.hdr.flags), true
}

// Abort closes the destination without writing a directory and deletes it.
func (w *Writer) Abort() error {
	if !w.finalized {
		w.finalized = true
		w.f.Close()
	}
	return utils.RemoveIfExists(w.path)
}

func (w *Writer) checkAdd(op, name string) error {
	if w.finalized {
		return &EntryError{Op: op, Name: name, Err: ErrAlreadyFinalized}
	}
	if name == "" {
		return &EntryError{Op: op, Name: name, Err: fmt.Errorf("empty entry name")}
	}
	if len(name) > uint16Max {
		return &EntryError{Op: op, Name: name, Err: fmt.Errorf("entry name too long")}
	}
	if _, ok := w.index[name]; ok {
		return &EntryError{Op: op, Name: name, Err: ErrDuplicateEntry}
	}
	return nil
}

func (w *Writer) push(e *entry) {
	w.entries = append(w.entries, e)
	w.index[e.hdr.name] = e
}

func (w *Writer) boundary(name string) int {
	if w.align == nil {
		return 0
	}
	return w.align(name)
}

type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

package container

import (
	"encoding/binary"
)

const (
	localHeaderSig = 0x04034b50
	centralDirSig  = 0x02014b50
	eocdSig        = 0x06054b50

	localHeaderLen = 30
	centralDirLen  = 46
	eocdLen        = 22
	maxCommentLen  = 0xffff

	methodStore   = 0
	methodDeflate = 8

	flagDataDescriptor = 0x0008
	flagUTF8           = 0x0800

	// alignExtraID is the extra field zipalign and apkzlib use for padding.
	alignExtraID  = 0xd935
	alignExtraMin = 6

	uint32Max = 0xffffffff
	uint16Max = 0xffff

	// 1981-01-01 00:00:00 in MS-DOS format, fixed so outputs are reproducible.
	fixedDOSDate = (1981-1980)<<9 | 1<<5 | 1
	fixedDOSTime = 0
)

// header holds the per-entry fields shared by local and central records.
type header struct {
	versionMadeBy  uint16
	versionNeeded  uint16
	flags          uint16
	method         uint16
	modTime        uint16
	modDate        uint16
	crc32          uint32
	compressedSize uint64
	size           uint64
	name           string
	extra          []byte // central directory extra
	comment        string
	internalAttr   uint16
	externalAttr   uint32
}

func ownedHeader(name string, method uint16, crc uint32, csize, size uint64) header {
	h := header{
		versionMadeBy:  20,
		versionNeeded:  10,
		method:         method,
		modTime:        fixedDOSTime,
		modDate:        fixedDOSDate,
		crc32:          crc,
		compressedSize: csize,
		size:           size,
		name:           name,
	}
	if method == methodDeflate {
		h.versionNeeded = 20
	}
	if !isASCII(name) {
		h.flags |= flagUTF8
	}
	return h
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

type byteWriter []byte

func (b *byteWriter) u16(v uint16) { *b = binary.LittleEndian.AppendUint16(*b, v) }
func (b *byteWriter) u32(v uint32) { *b = binary.LittleEndian.AppendUint32(*b, v) }
func (b *byteWriter) bytes(p []byte) { *b = append(*b, p...) }
func (b *byteWriter) str(s string) { *b = append(*b, s...) }

// encodeLocal renders a local file header. Data descriptors are never
// emitted: sizes and CRC are always known up front.
func encodeLocal(h header, extra []byte) []byte {
	b := make(byteWriter, 0, localHeaderLen+len(h.name)+len(extra))
	b.u32(localHeaderSig)
	b.u16(h.versionNeeded)
	b.u16(h.flags &^ flagDataDescriptor)
	b.u16(h.method)
	b.u16(h.modTime)
	b.u16(h.modDate)
	b.u32(h.crc32)
	b.u32(uint32(h.compressedSize))
	b.u32(uint32(h.size))
	b.u16(uint16(len(h.name)))
	b.u16(uint16(len(extra)))
	b.str(h.name)
	b.bytes(extra)
	return b
}

func encodeCentral(h header, localOffset uint64, flags uint16) []byte {
	b := make(byteWriter, 0, centralDirLen+len(h.name)+len(h.extra)+len(h.comment))
	b.u32(centralDirSig)
	b.u16(h.versionMadeBy)
	b.u16(h.versionNeeded)
	b.u16(flags)
	b.u16(h.method)
	b.u16(h.modTime)
	b.u16(h.modDate)
	b.u32(h.crc32)
	b.u32(uint32(h.compressedSize))
	b.u32(uint32(h.size))
	b.u16(uint16(len(h.name)))
	b.u16(uint16(len(h.extra)))
	b.u16(uint16(len(h.comment)))
	b.u16(0) // disk number start
	b.u16(h.internalAttr)
	b.u32(h.externalAttr)
	b.u32(uint32(localOffset))
	b.str(h.name)
	b.bytes(h.extra)
	b.str(h.comment)
	return b
}

func encodeEOCD(records int, cdSize, cdOffset uint64) []byte {
	b := make(byteWriter, 0, eocdLen)
	b.u32(eocdSig)
	b.u16(0) // this disk
	b.u16(0) // disk with central directory
	b.u16(uint16(records))
	b.u16(uint16(records))
	b.u32(uint32(cdSize))
	b.u32(uint32(cdOffset))
	b.u16(0) // comment length
	return b
}

// alignmentExtra returns the padding extra field that moves the data of a
// record whose data would start at dataStart to the next multiple of boundary.
func alignmentExtra(dataStart uint64, boundary int) []byte {
	if boundary <= 1 {
		return nil
	}
	a := uint64(boundary)
	pad := (a - dataStart%a) % a
	if pad == 0 {
		return nil
	}
	for pad < alignExtraMin {
		pad += a
	}
	b := make(byteWriter, 0, pad)
	b.u16(alignExtraID)
	b.u16(uint16(pad - 4))
	b.u16(uint16(boundary))
	b.bytes(make([]byte, pad-alignExtraMin))
	return b
}

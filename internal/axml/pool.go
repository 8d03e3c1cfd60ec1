package axml

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

const (
	chunkStringPool  = 0x0001
	chunkXML         = 0x0003
	chunkStartNS     = 0x0100
	chunkEndNS       = 0x0101
	chunkStartElem   = 0x0102
	chunkEndElem     = 0x0103
	chunkCDATA       = 0x0104
	chunkResourceMap = 0x0180

	chunkHeaderLen = 8
	poolHeaderLen  = 28
	nodeHeaderLen  = 16
	attrLen        = 20

	poolSorted = 1 << 0
	poolUTF8   = 1 << 8

	noIndex = 0xffffffff
)

var le = binary.LittleEndian

type stringPool struct {
	strings      []string
	utf8         bool
	styleCount   uint32
	styleOffsets []byte
	styleData    []byte
	raw          []byte
}

func decodePool(chunk []byte, at int) (*stringPool, error) {
	if len(chunk) < poolHeaderLen {
		return nil, parseErrorf(at, "string pool header truncated")
	}
	headerSize := int(le.Uint16(chunk[2:]))
	count := le.Uint32(chunk[8:])
	styles := le.Uint32(chunk[12:])
	flags := le.Uint32(chunk[16:])
	stringsStart := le.Uint32(chunk[20:])
	stylesStart := le.Uint32(chunk[24:])

	offsetsEnd := uint64(headerSize) + 4*uint64(count) + 4*uint64(styles)
	if headerSize < poolHeaderLen || offsetsEnd > uint64(len(chunk)) {
		return nil, parseErrorf(at, "string pool offsets out of range")
	}
	dataEnd := uint32(len(chunk))
	if styles > 0 {
		if stylesStart < stringsStart || stylesStart > uint32(len(chunk)) {
			return nil, parseErrorf(at, "style data out of range")
		}
		dataEnd = stylesStart
	}
	if count > 0 && (uint64(stringsStart) < offsetsEnd || stringsStart > dataEnd) {
		return nil, parseErrorf(at, "string data out of range")
	}

	p := &stringPool{
		strings:    make([]string, count),
		utf8:       flags&poolUTF8 != 0,
		styleCount: styles,
		raw:        chunk,
	}
	if styles > 0 {
		so := headerSize + 4*int(count)
		p.styleOffsets = chunk[so : so+4*int(styles)]
		p.styleData = chunk[stylesStart:]
	}

	data := chunk[stringsStart:dataEnd]
	for i := range p.strings {
		off := le.Uint32(chunk[headerSize+4*i:])
		if off >= uint32(len(data)) {
			return nil, parseErrorf(at, "string %d offset %d out of range", i, off)
		}
		var (
			s   string
			err error
		)
		if p.utf8 {
			s, err = decodeUTF8(data[off:])
		} else {
			s, err = decodeUTF16(data[off:])
		}
		if err != nil {
			return nil, parseErrorf(at+int(stringsStart)+int(off), "string %d: %v", i, err)
		}
		p.strings[i] = s
	}
	return p, nil
}

func decodeLen8(b []byte) (int, int, error) {
	if len(b) < 1 {
		return 0, 0, fmt.Errorf("truncated length")
	}
	if b[0]&0x80 == 0 {
		return int(b[0]), 1, nil
	}
	if len(b) < 2 {
		return 0, 0, fmt.Errorf("truncated length")
	}
	return int(b[0]&0x7f)<<8 | int(b[1]), 2, nil
}

func decodeUTF8(b []byte) (string, error) {
	_, n, err := decodeLen8(b) // length in UTF-16 units, unused
	if err != nil {
		return "", err
	}
	b = b[n:]
	size, n, err := decodeLen8(b)
	if err != nil {
		return "", err
	}
	b = b[n:]
	if size > len(b) {
		return "", fmt.Errorf("string runs past pool end")
	}
	return string(b[:size]), nil
}

func decodeUTF16(b []byte) (string, error) {
	if len(b) < 2 {
		return "", fmt.Errorf("truncated length")
	}
	size := int(le.Uint16(b))
	b = b[2:]
	if size&0x8000 != 0 {
		if len(b) < 2 {
			return "", fmt.Errorf("truncated length")
		}
		size = (size&0x7fff)<<16 | int(le.Uint16(b))
		b = b[2:]
	}
	if 2*size > len(b) {
		return "", fmt.Errorf("string runs past pool end")
	}
	units := make([]uint16, size)
	for i := range units {
		units[i] = le.Uint16(b[2*i:])
	}
	return string(utf16.Decode(units)), nil
}

// encodePool renders a pool holding strs. Style offsets and data are copied
// as they are; they stay valid because styled strings keep their indices.
func encodePool(strs []string, utf8 bool, styleCount uint32, styleOffsets, styleData []byte) ([]byte, error) {
	var data byteWriter
	offsets := make([]uint32, len(strs))
	for i, s := range strs {
		offsets[i] = uint32(len(data))
		var err error
		if utf8 {
			err = data.utf8String(s)
		} else {
			err = data.utf16String(s)
		}
		if err != nil {
			return nil, fmt.Errorf("string %d: %w", i, err)
		}
	}
	data.pad4()

	stringsStart := poolHeaderLen + 4*len(strs) + len(styleOffsets)
	stylesStart := 0
	if styleCount > 0 {
		stylesStart = stringsStart + len(data)
	}
	size := stringsStart + len(data) + len(styleData)

	var flags uint32
	if utf8 {
		flags |= poolUTF8
	}

	b := make(byteWriter, 0, size)
	b.u16(chunkStringPool)
	b.u16(poolHeaderLen)
	b.u32(uint32(size))
	b.u32(uint32(len(strs)))
	b.u32(styleCount)
	b.u32(flags)
	b.u32(uint32(stringsStart))
	b.u32(uint32(stylesStart))
	for _, off := range offsets {
		b.u32(off)
	}
	b.bytes(styleOffsets)
	b.bytes(data)
	b.bytes(styleData)
	return b, nil
}

type byteWriter []byte

func (b *byteWriter) u8(v uint8) { *b = append(*b, v) }
func (b *byteWriter) u16(v uint16) { *b = le.AppendUint16(*b, v) }
func (b *byteWriter) u32(v uint32) { *b = le.AppendUint32(*b, v) }
func (b *byteWriter) bytes(p []byte) { *b = append(*b, p...) }

func (b *byteWriter) pad4() {
	for len(*b)%4 != 0 {
		*b = append(*b, 0)
	}
}

func (b *byteWriter) len8(n int) error {
	switch {
	case n < 0x80:
		b.u8(uint8(n))
	case n <= 0x7fff:
		b.u8(uint8(n>>8) | 0x80)
		b.u8(uint8(n))
	default:
		return fmt.Errorf("string too long (%d)", n)
	}
	return nil
}

func (b *byteWriter) utf8String(s string) error {
	if err := b.len8(len(utf16.Encode([]rune(s)))); err != nil {
		return err
	}
	if err := b.len8(len(s)); err != nil {
		return err
	}
	*b = append(*b, s...)
	b.u8(0)
	return nil
}

func (b *byteWriter) utf16String(s string) error {
	units := utf16.Encode([]rune(s))
	switch n := len(units); {
	case n <= 0x7fff:
		b.u16(uint16(n))
	case n <= 0x7fffffff:
		b.u16(uint16(n>>16) | 0x8000)
		b.u16(uint16(n))
	default:
		return fmt.Errorf("string too long (%d)", n)
	}
	for _, u := range units {
		b.u16(u)
	}
	b.u16(0)
	return nil
}

package axml

import (
	"errors"
	"fmt"
	"slices"
)

type stringKind int

const (
	kindPlain    stringKind = iota // any index will do
	kindAttrName                   // attribute name without a resource id
	kindResName                    // attribute name mapped to a resource id
)

type resName struct {
	name string
	id   uint32
}

// stringTable resolves the strings a tree references to pool indices.
// Existing strings keep their position unless new resource-mapped names
// are inserted in front of them.
type stringTable struct {
	base   []string
	prefix int

	inserted []resName
	appended []string

	// final indices, built by layout
	final   []string
	resIdx  map[resName]uint32
	tailIdx map[string]uint32
	anyIdx  map[string]uint32
}

func newStringTable(d *Document) *stringTable {
	t := &stringTable{}
	if d.pool != nil {
		t.base = d.pool.strings
		t.prefix = min(len(d.resIDs), len(t.base))
	}
	t.index(d.resIDs)
	return t
}

// index rebuilds the lookup maps for the current layout.
func (t *stringTable) index(resIDs []uint32) {
	prefixLen := t.prefix + len(t.inserted)
	t.final = make([]string, 0, len(t.base)+len(t.inserted)+len(t.appended))
	t.final = append(t.final, t.base[:t.prefix]...)
	for _, r := range t.inserted {
		t.final = append(t.final, r.name)
	}
	t.final = append(t.final, t.base[t.prefix:]...)
	t.final = append(t.final, t.appended...)

	t.resIdx = make(map[resName]uint32)
	t.tailIdx = make(map[string]uint32)
	t.anyIdx = make(map[string]uint32)
	for i, s := range t.final {
		idx := uint32(i)
		if i < prefixLen {
			var id uint32
			if i < t.prefix {
				id = resIDs[i]
			} else {
				id = t.inserted[i-t.prefix].id
			}
			if _, ok := t.resIdx[resName{s, id}]; !ok {
				t.resIdx[resName{s, id}] = idx
			}
		} else if _, ok := t.tailIdx[s]; !ok {
			t.tailIdx[s] = idx
		}
		if _, ok := t.anyIdx[s]; !ok {
			t.anyIdx[s] = idx
		}
	}
}

// need registers a string, growing the pool when it is missing.
func (t *stringTable) need(kind stringKind, s string, id uint32) {
	switch kind {
	case kindResName:
		if _, ok := t.resIdx[resName{s, id}]; ok {
			return
		}
		t.inserted = append(t.inserted, resName{s, id})
		t.resIdx[resName{s, id}] = 0
	case kindAttrName:
		if _, ok := t.tailIdx[s]; ok {
			return
		}
		t.appended = append(t.appended, s)
		t.tailIdx[s] = 0
	default:
		if _, ok := t.tailIdx[s]; ok {
			return
		}
		if _, ok := t.anyIdx[s]; ok {
			return
		}
		t.appended = append(t.appended, s)
		t.tailIdx[s] = 0
	}
}

func (t *stringTable) lookup(kind stringKind, s string, id uint32) uint32 {
	switch kind {
	case kindResName:
		return t.resIdx[resName{s, id}]
	case kindAttrName:
		return t.tailIdx[s]
	default:
		if i, ok := t.tailIdx[s]; ok {
			return i
		}
		return t.anyIdx[s]
	}
}

func (t *stringTable) grown() bool {
	return len(t.inserted) > 0 || len(t.appended) > 0
}

// walkStrings calls fn for every string n and its descendants reference.
// Empty optional strings are encoded as the null index and skipped.
func walkStrings(n *Node, fn func(kind stringKind, s string, id uint32)) {
	opt := func(s string) {
		if s != "" {
			fn(kindPlain, s, 0)
		}
	}
	value := func(v Value) {
		if v.Type == TypeString {
			fn(kindPlain, v.Str, 0)
		}
	}

	opt(n.Comment)
	if n.IsText {
		fn(kindPlain, n.Text, 0)
		value(n.TextValue)
		return
	}
	for _, ns := range n.Namespaces {
		opt(ns.Prefix)
		opt(ns.URI)
	}
	opt(n.Namespace)
	fn(kindPlain, n.Name, 0)
	for _, a := range n.Attrs {
		opt(a.Namespace)
		if a.ResourceID != 0 {
			fn(kindResName, a.Name, a.ResourceID)
		} else {
			fn(kindAttrName, a.Name, 0)
		}
		if a.Raw != nil {
			fn(kindPlain, *a.Raw, 0)
		}
		value(a.Value)
	}
	for _, c := range n.Children {
		walkStrings(c, fn)
	}
}

// Encode renders the document. The original string pool and resource map
// are written back untouched when the tree needs no new string.
func (d *Document) Encode() ([]byte, error) {
	if d.Root == nil || d.Root.IsText {
		return nil, errors.New("axml: document has no root element")
	}

	t := newStringTable(d)
	walkStrings(d.Root, t.need)

	var poolChunk, resChunk []byte
	if d.pool != nil && !t.grown() {
		poolChunk = d.pool.raw
		resChunk = d.resMapRaw
	} else {
		if len(t.inserted) > 0 && d.pool != nil && d.pool.styleCount > 0 {
			return nil, ErrPoolGrowthUnsupported
		}
		t.index(d.resIDs)

		utf8 := false
		var styleCount uint32
		var styleOffsets, styleData []byte
		if d.pool != nil {
			utf8 = d.pool.utf8
			styleCount = d.pool.styleCount
			styleOffsets = d.pool.styleOffsets
			styleData = d.pool.styleData
		}
		var err error
		if poolChunk, err = encodePool(t.final, utf8, styleCount, styleOffsets, styleData); err != nil {
			return nil, fmt.Errorf("axml: encode string pool: %w", err)
		}

		ids := slices.Clone(d.resIDs[:t.prefix])
		for _, r := range t.inserted {
			ids = append(ids, r.id)
		}
		if len(ids) > 0 {
			b := make(byteWriter, 0, chunkHeaderLen+4*len(ids))
			b.u16(chunkResourceMap)
			b.u16(chunkHeaderLen)
			b.u32(uint32(chunkHeaderLen + 4*len(ids)))
			for _, id := range ids {
				b.u32(id)
			}
			resChunk = b
		}
	}

	e := &encoder{t: t}
	e.node(d.Root)

	size := chunkHeaderLen + len(poolChunk) + len(resChunk) + len(e.out)
	out := make(byteWriter, 0, size)
	out.u16(chunkXML)
	out.u16(chunkHeaderLen)
	out.u32(uint32(size))
	out.bytes(poolChunk)
	out.bytes(resChunk)
	out.bytes(e.out)
	return out, nil
}

type encoder struct {
	t   *stringTable
	out byteWriter
}

func (e *encoder) idx(s string) uint32 { return e.t.lookup(kindPlain, s, 0) }

func (e *encoder) opt(s string) uint32 {
	if s == "" {
		return noIndex
	}
	return e.idx(s)
}

func (e *encoder) header(typ uint16, size int, line uint32, comment string) {
	e.out.u16(typ)
	e.out.u16(nodeHeaderLen)
	e.out.u32(uint32(size))
	e.out.u32(line)
	e.out.u32(e.opt(comment))
}

func (e *encoder) value(v Value) {
	e.out.u16(8)
	e.out.u8(0)
	e.out.u8(uint8(v.Type))
	if v.Type == TypeString {
		e.out.u32(e.idx(v.Str))
	} else {
		e.out.u32(v.Data)
	}
}

func (e *encoder) node(n *Node) {
	if n.IsText {
		e.header(chunkCDATA, nodeHeaderLen+12, n.Line, n.Comment)
		e.out.u32(e.idx(n.Text))
		e.value(n.TextValue)
		return
	}

	for _, ns := range n.Namespaces {
		e.header(chunkStartNS, nodeHeaderLen+8, ns.Line, "")
		e.out.u32(e.opt(ns.Prefix))
		e.out.u32(e.opt(ns.URI))
	}

	var idIndex, classIndex, styleIndex uint16
	for i, a := range n.Attrs {
		switch {
		case a.Namespace == AndroidNS && a.Name == "id":
			idIndex = uint16(i + 1)
		case a.Namespace == "" && a.Name == "class":
			classIndex = uint16(i + 1)
		case a.Namespace == "" && a.Name == "style":
			styleIndex = uint16(i + 1)
		}
	}

	e.header(chunkStartElem, nodeHeaderLen+20+attrLen*len(n.Attrs), n.Line, n.Comment)
	e.out.u32(e.opt(n.Namespace))
	e.out.u32(e.idx(n.Name))
	e.out.u16(20) // attributeStart
	e.out.u16(attrLen)
	e.out.u16(uint16(len(n.Attrs)))
	e.out.u16(idIndex)
	e.out.u16(classIndex)
	e.out.u16(styleIndex)
	for _, a := range n.Attrs {
		e.out.u32(e.opt(a.Namespace))
		if a.ResourceID != 0 {
			e.out.u32(e.t.lookup(kindResName, a.Name, a.ResourceID))
		} else {
			e.out.u32(e.t.lookup(kindAttrName, a.Name, 0))
		}
		if a.Raw != nil {
			e.out.u32(e.idx(*a.Raw))
		} else {
			e.out.u32(noIndex)
		}
		e.value(a.Value)
	}

	for _, c := range n.Children {
		e.node(c)
	}

	e.header(chunkEndElem, nodeHeaderLen+8, n.EndLine, "")
	e.out.u32(e.opt(n.Namespace))
	e.out.u32(e.idx(n.Name))

	for i := len(n.Namespaces) - 1; i >= 0; i-- {
		ns := n.Namespaces[i]
		e.header(chunkEndNS, nodeHeaderLen+8, ns.EndLine, "")
		e.out.u32(e.opt(ns.Prefix))
		e.out.u32(e.opt(ns.URI))
	}
}

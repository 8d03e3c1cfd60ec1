package axml

// Parse decodes a compiled XML document.
func Parse(data []byte) (*Document, error) {
	if len(data) < chunkHeaderLen {
		return nil, parseErrorf(0, "document too short (%d bytes)", len(data))
	}
	if t := le.Uint16(data); t != chunkXML {
		return nil, parseErrorf(0, "not a compiled XML document (chunk type %#04x)", t)
	}
	headerSize := int(le.Uint16(data[2:]))
	size := int(le.Uint32(data[4:]))
	if headerSize < chunkHeaderLen || size > len(data) || size < headerSize {
		return nil, parseErrorf(0, "bad document header (header %d, size %d, have %d)", headerSize, size, len(data))
	}

	d := &decoder{doc: &Document{}}
	for at := headerSize; at < size; {
		if size-at < chunkHeaderLen {
			return nil, parseErrorf(at, "truncated chunk header")
		}
		typ := le.Uint16(data[at:])
		hs := int(le.Uint16(data[at+2:]))
		cs := int(le.Uint32(data[at+4:]))
		if hs < chunkHeaderLen || cs < hs || cs > size-at {
			return nil, parseErrorf(at, "bad chunk %#04x (header %d, size %d)", typ, hs, cs)
		}
		if err := d.chunk(typ, data[at:at+cs], at); err != nil {
			return nil, err
		}
		at += cs
	}

	if d.doc.Root == nil {
		return nil, parseErrorf(size, "no root element")
	}
	if len(d.stack) > 0 {
		return nil, parseErrorf(size, "element %s is not closed", d.stack[len(d.stack)-1].Name)
	}
	return d.doc, nil
}

type decoder struct {
	doc     *Document
	stack   []*Node
	pending []Namespace

	// closed is the last element ended; its declarations end next
	closed   *Node
	closedNS int
}

func (d *decoder) str(idx uint32, at int) (string, error) {
	if idx == noIndex {
		return "", nil
	}
	if d.doc.pool == nil || int(idx) >= len(d.doc.pool.strings) {
		return "", parseErrorf(at, "string index %d out of range", idx)
	}
	return d.doc.pool.strings[idx], nil
}

func (d *decoder) chunk(typ uint16, c []byte, at int) error {
	switch typ {
	case chunkStringPool:
		if d.doc.pool != nil {
			return parseErrorf(at, "second string pool")
		}
		p, err := decodePool(c, at)
		if err != nil {
			return err
		}
		d.doc.pool = p
		return nil
	case chunkResourceMap:
		hs := int(le.Uint16(c[2:]))
		ids := make([]uint32, (len(c)-hs)/4)
		for i := range ids {
			ids[i] = le.Uint32(c[hs+4*i:])
		}
		d.doc.resIDs = ids
		d.doc.resMapRaw = c
		return nil
	case chunkStartNS, chunkEndNS, chunkStartElem, chunkEndElem, chunkCDATA:
		return d.node(typ, c, at)
	default:
		// unknown chunks carry nothing the tree needs
		return nil
	}
}

func (d *decoder) node(typ uint16, c []byte, at int) error {
	hs := int(le.Uint16(c[2:]))
	if hs < nodeHeaderLen {
		return parseErrorf(at, "node header too short (%d)", hs)
	}
	line := le.Uint32(c[8:])
	comment, err := d.str(le.Uint32(c[12:]), at)
	if err != nil {
		return err
	}
	ext := c[hs:]

	switch typ {
	case chunkStartNS:
		if len(ext) < 8 {
			return parseErrorf(at, "namespace chunk truncated")
		}
		prefix, err := d.str(le.Uint32(ext), at)
		if err != nil {
			return err
		}
		uri, err := d.str(le.Uint32(ext[4:]), at)
		if err != nil {
			return err
		}
		d.pending = append(d.pending, Namespace{Prefix: prefix, URI: uri, Line: line})

	case chunkEndNS:
		// declarations are scoped to the element they precede
		if d.closed != nil && d.closedNS > 0 {
			d.closedNS--
			d.closed.Namespaces[d.closedNS].EndLine = line
		}

	case chunkStartElem:
		n, err := d.element(ext, at)
		if err != nil {
			return err
		}
		n.Line = line
		n.Comment = comment
		n.Namespaces = d.pending
		d.pending = nil
		if len(d.stack) == 0 {
			if d.doc.Root != nil {
				return parseErrorf(at, "second root element %s", n.Name)
			}
			d.doc.Root = n
		} else {
			parent := d.stack[len(d.stack)-1]
			parent.Children = append(parent.Children, n)
		}
		d.stack = append(d.stack, n)

	case chunkEndElem:
		if len(ext) < 8 {
			return parseErrorf(at, "end element chunk truncated")
		}
		name, err := d.str(le.Uint32(ext[4:]), at)
		if err != nil {
			return err
		}
		if len(d.stack) == 0 {
			return parseErrorf(at, "unexpected end of %s", name)
		}
		top := d.stack[len(d.stack)-1]
		if top.Name != name {
			return parseErrorf(at, "end of %s while %s is open", name, top.Name)
		}
		top.EndLine = line
		d.stack = d.stack[:len(d.stack)-1]
		d.closed, d.closedNS = top, len(top.Namespaces)

	case chunkCDATA:
		if len(ext) < 12 {
			return parseErrorf(at, "cdata chunk truncated")
		}
		if len(d.stack) == 0 {
			return parseErrorf(at, "character data outside the root element")
		}
		text, err := d.str(le.Uint32(ext), at)
		if err != nil {
			return err
		}
		v, err := d.value(ext[4:], at)
		if err != nil {
			return err
		}
		parent := d.stack[len(d.stack)-1]
		parent.Children = append(parent.Children, &Node{
			IsText:    true,
			Text:      text,
			TextValue: v,
			Line:      line,
			Comment:   comment,
		})
	}
	return nil
}

func (d *decoder) element(ext []byte, at int) (*Node, error) {
	if len(ext) < 20 {
		return nil, parseErrorf(at, "start element chunk truncated")
	}
	ns, err := d.str(le.Uint32(ext), at)
	if err != nil {
		return nil, err
	}
	name, err := d.str(le.Uint32(ext[4:]), at)
	if err != nil {
		return nil, err
	}
	attrStart := int(le.Uint16(ext[8:]))
	attrSize := int(le.Uint16(ext[10:]))
	attrCount := int(le.Uint16(ext[12:]))
	if attrCount > 0 && attrSize < attrLen {
		return nil, parseErrorf(at, "attribute size %d too small", attrSize)
	}
	if attrStart+attrCount*attrSize > len(ext) {
		return nil, parseErrorf(at, "attributes of %s run past the chunk", name)
	}

	n := &Node{Namespace: ns, Name: name}
	for i := 0; i < attrCount; i++ {
		b := ext[attrStart+i*attrSize:]
		var a Attribute
		if a.Namespace, err = d.str(le.Uint32(b), at); err != nil {
			return nil, err
		}
		nameIdx := le.Uint32(b[4:])
		if a.Name, err = d.str(nameIdx, at); err != nil {
			return nil, err
		}
		if int(nameIdx) < len(d.doc.resIDs) {
			a.ResourceID = d.doc.resIDs[nameIdx]
		}
		if rawIdx := le.Uint32(b[8:]); rawIdx != noIndex {
			raw, err := d.str(rawIdx, at)
			if err != nil {
				return nil, err
			}
			a.Raw = &raw
		}
		if a.Value, err = d.value(b[12:], at); err != nil {
			return nil, err
		}
		if _, dup := n.Attr(a.Namespace, a.Name); dup {
			return nil, parseErrorf(at, "duplicate attribute %s on %s", a.Name, name)
		}
		n.Attrs = append(n.Attrs, a)
	}
	return n, nil
}

// value decodes an 8 byte Res_value.
func (d *decoder) value(b []byte, at int) (Value, error) {
	v := Value{Type: ValueType(b[3]), Data: le.Uint32(b[4:])}
	if v.Type == TypeString {
		s, err := d.str(v.Data, at)
		if err != nil {
			return Value{}, err
		}
		v.Str = s
		v.Data = 0
	}
	return v, nil
}

package axml

import (
	"slices"
)

// AndroidNS is the namespace URI of framework attributes.
const AndroidNS = "http://schemas.android.com/apk/res/android"

// ValueType is the Res_value data type of an attribute.
type ValueType uint8

const (
	TypeNull       ValueType = 0x00
	TypeReference  ValueType = 0x01
	TypeAttribute  ValueType = 0x02
	TypeString     ValueType = 0x03
	TypeFloat      ValueType = 0x04
	TypeDimension  ValueType = 0x05
	TypeFraction   ValueType = 0x06
	TypeIntDec     ValueType = 0x10
	TypeIntHex     ValueType = 0x11
	TypeIntBoolean ValueType = 0x12
)

// Value is a typed attribute value. Str is only meaningful for TypeString.
type Value struct {
	Type ValueType
	Data uint32
	Str  string
}

// StringValue returns a string typed value
func StringValue(s string) Value { return Value{Type: TypeString, Str: s} }

// IntValue returns a decimal integer value
func IntValue(i int32) Value { return Value{Type: TypeIntDec, Data: uint32(i)} }

// BoolValue returns a boolean value
func BoolValue(b bool) Value {
	if b {
		return Value{Type: TypeIntBoolean, Data: 0xffffffff}
	}
	return Value{Type: TypeIntBoolean}
}

// ReferenceValue returns a resource reference value
func ReferenceValue(id uint32) Value { return Value{Type: TypeReference, Data: id} }

// IsInt reports whether v holds an integer.
func (v Value) IsInt() bool {
	return v.Type == TypeIntDec || v.Type == TypeIntHex
}

// Attribute is one attribute of an element.
type Attribute struct {
	Namespace  string
	Name       string
	ResourceID uint32  // 0 when the name carries no resource id
	Raw        *string // raw string value, nil when absent
	Value      Value
}

// AndroidAttr builds an attribute in the android namespace, filling in the
// framework resource id and, for string values, the raw value.
func AndroidAttr(name string, v Value) Attribute {
	a := Attribute{
		Namespace:  AndroidNS,
		Name:       name,
		ResourceID: AttrID(name),
		Value:      v,
	}
	if v.Type == TypeString {
		s := v.Str
		a.Raw = &s
	}
	return a
}

// Namespace is a prefix to URI binding declared around an element.
type Namespace struct {
	Prefix  string
	URI     string
	Line    uint32
	EndLine uint32
}

// Node is an element, or character data when IsText is set.
type Node struct {
	Namespace  string
	Name       string
	Attrs      []Attribute
	Children   []*Node
	Namespaces []Namespace

	IsText    bool
	Text      string
	TextValue Value

	Line    uint32
	EndLine uint32
	Comment string
}

// NewElement returns an element with the given attributes
func NewElement(name string, attrs ...Attribute) *Node {
	return &Node{Name: name, Attrs: attrs}
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Attrs = slices.Clone(n.Attrs)
	for i, a := range c.Attrs {
		if a.Raw != nil {
			s := *a.Raw
			c.Attrs[i].Raw = &s
		}
	}
	c.Namespaces = slices.Clone(n.Namespaces)
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

// Attr returns the attribute matching namespace and name.
func (n *Node) Attr(ns, name string) (*Attribute, bool) {
	i := n.attrIndex(ns, name)
	if i < 0 {
		return nil, false
	}
	return &n.Attrs[i], true
}

func (n *Node) attrIndex(ns, name string) int {
	return slices.IndexFunc(n.Attrs, func(a Attribute) bool {
		return a.Namespace == ns && a.Name == name
	})
}

// SetAttr overrides the attribute with the same namespace and name, or
// inserts a at its sorted position: resource id attributes ascending by
// id, followed by plain ones.
func (n *Node) SetAttr(a Attribute) {
	if i := n.attrIndex(a.Namespace, a.Name); i >= 0 {
		n.Attrs[i] = a
		return
	}
	at := len(n.Attrs)
	if a.ResourceID != 0 {
		at = slices.IndexFunc(n.Attrs, func(b Attribute) bool {
			return b.ResourceID == 0 || b.ResourceID > a.ResourceID
		})
		if at < 0 {
			at = len(n.Attrs)
		}
	}
	n.Attrs = slices.Insert(n.Attrs, at, a)
}

// Child returns the first child element called name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if !c.IsText && c.Name == name {
			return c
		}
	}
	return nil
}

// AndroidString returns the string value of an android namespace attribute.
func (n *Node) AndroidString(name string) (string, bool) {
	a, ok := n.Attr(AndroidNS, name)
	if !ok || a.Value.Type != TypeString {
		return "", false
	}
	return a.Value.Str, true
}

package axml

import (
	"fmt"
	"strconv"
)

// Document is a decoded compiled XML file. The string pool and resource map
// it was read from are kept so untouched documents encode to the same pools.
type Document struct {
	Root *Node

	pool      *stringPool
	resIDs    []uint32
	resMapRaw []byte
}

// NewDocument returns a document with fresh pools around root.
func NewDocument(root *Node) *Document {
	return &Document{Root: root}
}

// WithRoot returns a document that shares d's pools but holds root.
func (d *Document) WithRoot(root *Node) *Document {
	c := *d
	c.Root = root
	return &c
}

// PackageName returns the package attribute of the manifest root.
func (d *Document) PackageName() (string, error) {
	if d.Root == nil || d.Root.Name != "manifest" {
		return "", &ParseError{Msg: "root element is not <manifest>"}
	}
	a, ok := d.Root.Attr("", "package")
	if !ok || a.Value.Type != TypeString || a.Value.Str == "" {
		return "", &ParseError{Msg: "manifest has no package attribute"}
	}
	return a.Value.Str, nil
}

// MinSDKVersion returns the declared minimum platform version, 1 when
// uses-sdk or its minSdkVersion attribute is missing. A value that refers
// to a resource yields ErrUnresolvedReference.
func (d *Document) MinSDKVersion() (int, error) {
	sdk := d.Root.Child("uses-sdk")
	if sdk == nil {
		return 1, nil
	}
	a, ok := sdk.Attr(AndroidNS, "minSdkVersion")
	if !ok {
		return 1, nil
	}
	switch {
	case a.Value.IsInt():
		return int(int32(a.Value.Data)), nil
	case a.Value.Type == TypeString:
		v, err := strconv.Atoi(a.Value.Str)
		if err != nil {
			return 0, &ParseError{Msg: "minSdkVersion " + strconv.Quote(a.Value.Str) + " is not a number"}
		}
		return v, nil
	case a.Value.Type == TypeReference || a.Value.Type == TypeAttribute:
		return 0, fmt.Errorf("minSdkVersion 0x%08x: %w", a.Value.Data, ErrUnresolvedReference)
	default:
		return 0, &ParseError{Msg: "minSdkVersion has unsupported value type " + strconv.Itoa(int(a.Value.Type))}
	}
}

// ComponentFactory returns the application's appComponentFactory, or "".
func (d *Document) ComponentFactory() string {
	app := d.Root.Child("application")
	if app == nil {
		return ""
	}
	s, _ := app.AndroidString("appComponentFactory")
	return s
}

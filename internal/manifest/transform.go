package manifest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ralt/opatch/internal/axml"
)

// Transform returns a rewritten copy of a manifest tree. It never modifies
// the tree it is given.
type Transform func(root *axml.Node) (*axml.Node, error)

// Kind orders edits: all overrides run first, then deletions, insertions
// and finally the SDK floor adjustment.
type Kind int

const (
	KindOverride Kind = iota
	KindDeletion
	KindInsertion
	KindSDKFloor
)

func (k Kind) String() string {
	switch k {
	case KindOverride:
		return "override"
	case KindDeletion:
		return "deletion"
	case KindInsertion:
		return "insertion"
	case KindSDKFloor:
		return "sdk floor"
	default:
		return "unknown"
	}
}

// Edit is a named transform of a given kind.
type Edit struct {
	Kind  Kind
	Name  string
	Apply Transform
}

// Match selects child elements.
type Match func(n *axml.Node) bool

// ByName matches elements called tag whose android:name is name.
func ByName(tag, name string) Match {
	return func(n *axml.Node) bool {
		if n.IsText || n.Name != tag {
			return false
		}
		v, ok := n.AndroidString("name")
		return ok && v == name
	}
}

// pure wraps an in-place edit so it runs on a private copy.
func pure(fn func(root *axml.Node) error) Transform {
	return func(root *axml.Node) (*axml.Node, error) {
		c := root.Clone()
		if err := fn(c); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// selectPath returns the elements reached by a slash separated list of tag
// names, starting with the root tag.
func selectPath(root *axml.Node, path string) []*axml.Node {
	parts := strings.Split(path, "/")
	if root == nil || root.Name != parts[0] {
		return nil
	}
	nodes := []*axml.Node{root}
	for _, part := range parts[1:] {
		var next []*axml.Node
		for _, n := range nodes {
			for _, c := range n.Children {
				if !c.IsText && c.Name == part {
					next = append(next, c)
				}
			}
		}
		nodes = next
	}
	return nodes
}

func mustSelect(root *axml.Node, path string) ([]*axml.Node, error) {
	nodes := selectPath(root, path)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no element at %s", path)
	}
	return nodes, nil
}

// SetAttribute overrides or inserts attr on every element at path.
func SetAttribute(path string, attr axml.Attribute) Edit {
	return Edit{
		Kind: KindOverride,
		Name: fmt.Sprintf("set %s@%s", path, attr.Name),
		Apply: pure(func(root *axml.Node) error {
			nodes, err := mustSelect(root, path)
			if err != nil {
				return err
			}
			for _, n := range nodes {
				n.SetAttr(attr)
			}
			return nil
		}),
	}
}

// EnsureChild appends child under the first element at path unless a child
// matching m is already there.
func EnsureChild(path string, child *axml.Node, m Match) Edit {
	return Edit{
		Kind: KindOverride,
		Name: fmt.Sprintf("ensure %s/%s", path, child.Name),
		Apply: pure(func(root *axml.Node) error {
			nodes, err := mustSelect(root, path)
			if err != nil {
				return err
			}
			parent := nodes[0]
			for _, c := range parent.Children {
				if m(c) {
					return nil
				}
			}
			parent.Children = append(parent.Children, child.Clone())
			return nil
		}),
	}
}

// DeleteChildren removes the children matching m of every element at path.
// Nothing to delete is not an error.
func DeleteChildren(path string, m Match) Edit {
	return Edit{
		Kind: KindDeletion,
		Name: "delete under " + path,
		Apply: pure(func(root *axml.Node) error {
			for _, n := range selectPath(root, path) {
				kept := n.Children[:0]
				for _, c := range n.Children {
					if !m(c) {
						kept = append(kept, c)
					}
				}
				n.Children = kept
			}
			return nil
		}),
	}
}

// InsertChild appends child under the first element at path.
func InsertChild(path string, child *axml.Node) Edit {
	return Edit{
		Kind: KindInsertion,
		Name: fmt.Sprintf("insert %s/%s", path, child.Name),
		Apply: pure(func(root *axml.Node) error {
			nodes, err := mustSelect(root, path)
			if err != nil {
				return err
			}
			nodes[0].Children = append(nodes[0].Children, child.Clone())
			return nil
		}),
	}
}

// RaiseMinSDK sets minSdkVersion to floor when it is lower or missing,
// adding a uses-sdk element when the manifest has none. A minSdkVersion
// that refers to a resource cannot be compared and is replaced.
func RaiseMinSDK(floor int) Edit {
	return Edit{
		Kind: KindSDKFloor,
		Name: "min sdk " + strconv.Itoa(floor),
		Apply: pure(func(root *axml.Node) error {
			if root.Name != "manifest" {
				return fmt.Errorf("root element is <%s>, not <manifest>", root.Name)
			}
			attr := axml.AndroidAttr("minSdkVersion", axml.IntValue(int32(floor)))
			sdk := root.Child("uses-sdk")
			if sdk == nil {
				root.Children = append([]*axml.Node{axml.NewElement("uses-sdk", attr)}, root.Children...)
				return nil
			}
			current, err := axml.NewDocument(root).MinSDKVersion()
			if errors.Is(err, axml.ErrUnresolvedReference) {
				sdk.SetAttr(attr)
				return nil
			}
			if err != nil {
				return err
			}
			if current < floor {
				sdk.SetAttr(attr)
			}
			return nil
		}),
	}
}

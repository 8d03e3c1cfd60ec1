package manifest

import (
	"fmt"
	"slices"

	"github.com/ralt/opatch/internal/axml"
)

// RewriteError reports the edit that could not be applied.
type RewriteError struct {
	Edit string
	Err  error
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("rewrite manifest: %s: %v", e.Edit, e.Err)
}

func (e *RewriteError) Unwrap() error {
	return e.Err
}

// Editor applies edits in kind order; edits of the same kind keep the order
// they were added in.
type Editor struct {
	edits []Edit
}

// NewEditor returns an editor holding edits
func NewEditor(edits ...Edit) *Editor {
	return &Editor{edits: slices.Clone(edits)}
}

// Add appends edits
func (e *Editor) Add(edits ...Edit) {
	e.edits = append(e.edits, edits...)
}

// Edits returns the edits in the order Rewrite applies them.
func (e *Editor) Edits() []Edit {
	ordered := slices.Clone(e.edits)
	slices.SortStableFunc(ordered, func(a, b Edit) int { return int(a.Kind) - int(b.Kind) })
	return ordered
}

// Rewrite returns a new document with every edit applied. doc is left as is.
func (e *Editor) Rewrite(doc *axml.Document) (*axml.Document, error) {
	root := doc.Root
	for _, edit := range e.Edits() {
		next, err := edit.Apply(root)
		if err != nil {
			return nil, &RewriteError{Edit: edit.Name, Err: err}
		}
		root = next
	}
	return doc.WithRoot(root), nil
}

// Apply rewrites doc and encodes the result.
func (e *Editor) Apply(doc *axml.Document) ([]byte, error) {
	out, err := e.Rewrite(doc)
	if err != nil {
		return nil, err
	}
	data, err := out.Encode()
	if err != nil {
		return nil, &RewriteError{Edit: "encode", Err: err}
	}
	return data, nil
}

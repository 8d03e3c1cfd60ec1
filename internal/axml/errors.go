package axml

import (
	"errors"
	"fmt"
)

// ErrPoolGrowthUnsupported is returned by Encode when new strings would have
// to move entries of a styled string pool.
var ErrPoolGrowthUnsupported = errors.New("string pool growth unsupported for styled pools")

// ErrUnresolvedReference is returned by queries whose attribute points into
// the resource table instead of holding a literal value.
var ErrUnresolvedReference = errors.New("value is a resource reference")

// ParseError reports malformed compiled XML.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("axml: offset %d: %s", e.Offset, e.Msg)
}

func parseErrorf(offset int, format string, args ...any) *ParseError {
	return &ParseError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

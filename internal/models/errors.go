package models

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrInput ErrorType = iota
	ErrManifestParse
	ErrManifestRewrite
	ErrContainer
	ErrNoAvailableSlot
	ErrDuplicateModule
	ErrSigning
	ErrOutputExists
	ErrInvalidConfig
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrInput:
		return "Input"
	case ErrManifestParse:
		return "ManifestParse"
	case ErrManifestRewrite:
		return "ManifestRewrite"
	case ErrContainer:
		return "Container"
	case ErrNoAvailableSlot:
		return "NoAvailableSlot"
	case ErrDuplicateModule:
		return "DuplicateModule"
	case ErrSigning:
		return "Signing"
	case ErrOutputExists:
		return "OutputExists"
	case ErrInvalidConfig:
		return "InvalidConfig"
	default:
		return "Unknown"
	}
}

// PatchError represents a fatal error while patching one package.
// Stage and Entry pinpoint where the pipeline stopped.
type PatchError struct {
	Type    ErrorType
	Package string
	Stage   Stage
	Entry   string
	Err     error
}

// Error implements the error interface
func (e *PatchError) Error() string {
	msg := fmt.Sprintf("[%s]", e.Type)
	if e.Package != "" {
		msg += " " + e.Package
	}
	if e.Stage != StageNone {
		msg += fmt.Sprintf(" (stage %s", e.Stage)
		if e.Entry != "" {
			msg += ", " + e.Entry
		}
		msg += ")"
	} else if e.Entry != "" {
		msg += " (" + e.Entry + ")"
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap returns the wrapped error
func (e *PatchError) Unwrap() error {
	return e.Err
}

// TypeOf returns the ErrorType of the first PatchError in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var pe *PatchError
	if errors.As(err, &pe) {
		return pe.Type, true
	}
	return 0, false
}

package container

import (
	"errors"
	"fmt"
)

var (
	// ErrContainerOpen reports an unusable path or a corrupt archive.
	ErrContainerOpen = errors.New("cannot open container")
	// ErrDuplicateEntry reports an add under a name that is already taken.
	ErrDuplicateEntry = errors.New("duplicate entry")
	// ErrSourceEntryNotFound reports a link to a name the source does not have.
	ErrSourceEntryNotFound = errors.New("source entry not found")
	// ErrAlreadyFinalized reports any mutation after Finalize.
	ErrAlreadyFinalized = errors.New("container already finalized")
)

// EntryError records the operation and entry name behind a container failure.
type EntryError struct {
	Op   string
	Name string
	Err  error
}

func (e *EntryError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("container %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("container %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

func openError(path string, err error) error {
	return &EntryError{Op: "open", Name: path, Err: fmt.Errorf("%w: %w", ErrContainerOpen, err)}
}

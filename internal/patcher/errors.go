package patcher

import "errors"

var (
	// ErrNoAvailableSlot means every classesN.dex name in the slot range is taken.
	ErrNoAvailableSlot = errors.New("no free dex slot")
	// ErrDuplicateModule means two embedded modules declare the same package.
	ErrDuplicateModule = errors.New("duplicate module package")
	// ErrOutputExists means the output file is already there and force is off.
	ErrOutputExists = errors.New("output already exists")
)

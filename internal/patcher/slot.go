package patcher

import (
	"fmt"

	"github.com/ralt/opatch/internal/models"
)

// FindSlot returns the first classesN.dex name in the layout's slot range
// that taken reports as free.
func FindSlot(layout models.Layout, taken func(name string) bool) (string, error) {
	for i := layout.SlotFirst; i <= layout.SlotLast; i++ {
		name := layout.SlotName(i)
		if !taken(name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s to %s are all used", ErrNoAvailableSlot,
		layout.SlotName(layout.SlotFirst), layout.SlotName(layout.SlotLast))
}

/*
arena.go Process-owned numeric buffers. Device attribute arrays live in arena slots and
every reader holds a Handle rather than the slice, so a slot may be grown or compacted
without invalidating outstanding views.
*/

package arena

// Handle addresses one arena slot.
type Handle int

// Arena is not safe for concurrent use. Runs against one model are serialized by the caller.
type Arena struct {
	slots [][]float64
}

// New returns an empty Arena.
func New() *Arena {
	return &Arena{slots: make([][]float64, 0)}
}

// Alloc reserves a slot holding n zeros.
func (a *Arena) Alloc(n int) Handle {
	a.slots = append(a.slots, make([]float64, n))
	return Handle(len(a.slots) - 1)
}

// Buffer returns the live slice stored in the slot. The slice aliases the slot until the
// next Append or Compact on the same handle.
func (a *Arena) Buffer(h Handle) []float64 {
	return a.slots[h]
}

// Len is the number of values held in the slot.
func (a *Arena) Len(h Handle) int {
	return len(a.slots[h])
}

// Append grows the slot by one value.
func (a *Arena) Append(h Handle, v float64) {
	a.slots[h] = append(a.slots[h], v)
}

// Compact reallocates the slot to its exact length. The handle is unchanged.
func (a *Arena) Compact(h Handle) {
	buf := a.slots[h]
	if cap(buf) == len(buf) {
		return
	}
	fixed := make([]float64, len(buf))
	copy(fixed, buf)
	a.slots[h] = fixed
}

// Slots is the number of allocated slots.
func (a *Arena) Slots() int {
	return len(a.slots)
}

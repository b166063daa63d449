package voxel

// Parity selects the double-buffer slot holding generation g.
// Even generations live in slot 0, odd generations in slot 1.
func Parity(g int64) int {
	if g%2 == 0 {
		return 0
	}
	return 1
}

// Slot is one half of the parity double buffer.
type Slot struct {
	Material    int
	Temperature float64
	Smoke       float64
	// Generation is the generation materialized in this slot, or -1 when
	// the slot has never been written.
	Generation int64
}

// State is the persisted state of one voxel.
//
// Exactly one slot is current for a given generation g: Slots[Parity(g)],
// and it is only meaningful when its Generation stamp equals g.
type State struct {
	Key      Key
	Slots    [2]Slot
	Boundary bool
	// BurningCounter counts generations spent burning. The default physics
	// rule carries it forward unchanged.
	BurningCounter int
}

// At returns the slot for generation g and whether it is materialized.
func (s State) At(g int64) (Slot, bool) {
	slot := s.Slots[Parity(g)]
	return slot, slot.Generation == g
}

// Temperature returns the temperature for generation g without checking
// the stamp.
func (s State) Temperature(g int64) float64 {
	return s.Slots[Parity(g)].Temperature
}

// Material returns the material id for generation g without checking the
// stamp.
func (s State) Material(g int64) int {
	return s.Slots[Parity(g)].Material
}

// NewState builds the initial state of a voxel: generation 0 materialized
// in the even slot, the odd slot empty.
func NewState(k Key, material int, temperature float64, boundary bool) State {
	return State{
		Key: k,
		Slots: [2]Slot{
			{Material: material, Temperature: temperature, Generation: 0},
			{Material: material, Temperature: temperature, Generation: -1},
		},
		Boundary: boundary,
	}
}

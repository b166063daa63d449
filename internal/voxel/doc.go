// Package voxel defines the addressing, state and reference data shared by
// every part of the simulation.
//
// A voxel's state is double-buffered by generation parity: generation g is
// read from Slots[Parity(g)] and the next generation is written to the
// other slot, so all updates within one generation are independent.
package voxel

// Package harness runs fire simulations end to end inside one process and
// checks their outcome.
//
// A scenario names a scene file, configuration overrides and assertions.
// The harness pre-processes the scene into a fresh in-memory database,
// then alternates draining the message bus with in-process consumers and
// closing the generation with the barrier, until the simulation reaches
// its generation limit.
//
// # Scenario Format
//
//	name: facing_slabs
//	description: "A hot slab heats the slab it faces"
//	scene: scenes/slabs.yaml
//	config:
//	  voxel_length: 0.1
//	  max_generations: 5
//	workers: 1
//	assertions:
//	  - type: generation
//	    value: 5
//	  - type: trend
//	    key: [1, 1, 3]
//	    direction: rising
//	  - type: final_state
//	    table: counters
//	    where: { name: current_iteration }
//	    expect: { value: 5 }
//
// # Assertion Types
//
//   - generation: the run ended at the given generation
//   - temperature: final temperature of a voxel, by value and tolerance or
//     by min and max
//   - reading: one thermometer sample, with the same bounds
//   - trend: consecutive thermometer samples are rising, falling or steady
//   - final_state: queries a table and verifies expected column values
//
// # Deterministic Testing
//
// Worker ids come from testutil.FixedIDGenerator, leases are measured on
// a testutil.ManualClock and the trace stores readings at fixed precision.
// With a single worker the accumulation order of radiation flux is fixed,
// so traces are byte-identical across runs and suit golden comparison.
package harness

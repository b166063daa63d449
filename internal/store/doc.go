// Package store provides SQLite-backed durable state for a firevox
// simulation.
//
// One database holds one simulation and is shared by every worker process:
//   - Settings and the material catalog, fixed at pre-processing
//   - Voxels, double-buffered by generation parity
//   - Radiation planes, their member voxels and their connections
//   - Coordination counters read and reset by the barrier
//   - The message bus (topics voxel and plane) with completion records
//   - Thermometer probes and their readings
//
// # Critical Patterns
//
// Idempotent work items:
//   - UNIQUE(topic, key, generation) on messages: republishing is a no-op
//     and counters only grow when a row is actually inserted
//   - PRIMARY KEY(topic, key, generation) on completions: a redelivered
//     message cannot write twice or be counted twice
//
// Generation stamps:
//   - generation_even / generation_odd record which generation a slot
//     materializes; readers compare the stamp, never trust the parity alone
//
// Single-transaction effects:
//   - Every mutation runs through Update, one BEGIN IMMEDIATE transaction
//   - A work item's slot write, flux accumulation, completion, follow-up
//     publications and ack commit together
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - _txlock=immediate: Writers take the lock at BEGIN
package store

// Package tracker provides job tracker implementations.
//
// All backends share one schema: a done flag, sets of available,
// live, disabled and replicating workers, one job record per worker, the
// canonical current job and an append-only list of updates.
//
// Implementations:
//   - redis: hashes, sets and JSON strings under scaleout:tracker:
//   - etcd: keys under /scaleout/tracker/
//   - memory: in-process, for tests and single-node runs
package tracker

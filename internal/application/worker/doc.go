// Package worker implements a worker node that pulls jobs from a shared
// job tracker and executes them.
//
// The node:
//   - Registers its identity with the tracker and announces itself on the bus
//   - Reconciles its cached job with the tracker on every heartbeat tick
//   - Claims assignments by writing a payload-free placeholder back
//   - Executes jobs synchronously and reports results with AddUpdate
//
// A Supervisor owns the node. Ticks and inbound messages are queued in a
// single mailbox and handled one at a time; any failure publishes a
// clear-worker notification before the node's in-memory state is reset.
package worker

// Package membership provides cluster membership implementations.
//
// Implementations:
//   - etcd: lease-backed member keys, prefix watch for events
//   - memory: in-process, for tests
package membership

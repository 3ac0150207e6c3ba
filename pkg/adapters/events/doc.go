// Package events provides message bus implementations.
//
// Implementations:
//   - redis: Redis Streams, one consumer group per subscription
//   - memory: in-process, synchronous delivery
package events

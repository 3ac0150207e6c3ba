// Package domain defines the value types exchanged between a worker node,
// the job tracker and the message bus.
//
// A Job with no payload is a claim placeholder: it is written back to the
// tracker once a worker has pulled the payload into its own memory.
package domain

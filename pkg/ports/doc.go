// Package ports declares the collaborators a worker node consumes: the
// job tracker, the message bus, the job executor, cluster membership and
// the metrics collector. Adapters under pkg/adapters implement them.
package ports

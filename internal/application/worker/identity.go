package worker

import (
	"os"

	"github.com/google/uuid"

	"github.com/aescanero/scaleout/pkg/domain"
)

// DefaultHost is used when no host label is configured or discoverable.
const DefaultHost = "localhost"

// NewIdentity generates a globally unique worker identity from a host
// label and a random component.
func NewIdentity(host string) domain.WorkerIdentity {
	if host == "" {
		host = DefaultHost
	}
	return host + "-" + uuid.New().String()
}

// HostLabel returns the configured host or falls back to the hostname
func HostLabel(configured string) string {
	if configured != "" {
		return configured
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return DefaultHost
}

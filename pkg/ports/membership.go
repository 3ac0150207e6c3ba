package ports

import (
	"context"
	"time"
)

// MemberEventType describes a membership change
type MemberEventType string

const (
	MemberUp      MemberEventType = "up"
	MemberRemoved MemberEventType = "removed"
)

// MemberEvent is emitted when a node joins or leaves the cluster.
type MemberEvent struct {
	Type      MemberEventType
	Member    string
	Endpoint  string
	Timestamp time.Time
}

// Membership is the cluster membership service. Events are diagnostic
// only; they never drive job assignment.
type Membership interface {
	// Join announces the member at the given endpoint.
	Join(ctx context.Context, endpoint, member string) error
	Subscribe(ctx context.Context, fn func(MemberEvent)) error
	Unsubscribe(ctx context.Context) error
	Leave(ctx context.Context) error
}

package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/domain"
)

// Handle processes one inbound bus message. Unknown kinds are returned as
// ErrUnhandledMessage so the supervisor sees them.
func (n *Node) Handle(ctx context.Context, msg domain.Message) error {
	switch msg.Kind {
	case domain.MessageKindSubscribeAck, domain.MessageKindUnsubscribeAck:
		if err := n.publish(ctx, domain.TopicTopics, msg); err != nil {
			n.logger.Warn("failed to forward subscription ack", zap.Error(err))
		}
		n.logger.Info("subscribed", zap.String("topic", msg.Topic), zap.String("kind", string(msg.Kind)))
		return nil

	case domain.MessageKindJob:
		return n.handleJob(ctx, msg.Job)

	case domain.MessageKindAck:
		n.logger.Info("ack from master")
		return nil

	default:
		return fmt.Errorf("%w: kind %q from %q", domain.ErrUnhandledMessage, msg.Kind, msg.From)
	}
}

// handleJob executes a pushed job right away. It shares the busy gate
// with the tick path; a push that finds the worker busy is dropped.
func (n *Node) handleJob(ctx context.Context, job *domain.Job) error {
	if !job.HasPayload() {
		return fmt.Errorf("pushed job for worker %s: %w", n.id, domain.ErrMissingPayload)
	}

	err := n.perform(ctx, job)
	if errors.Is(err, domain.ErrBusy) {
		n.logger.Warn("rejecting pushed job while busy", zap.String("owner", job.WorkerID))
		return nil
	}
	return err
}

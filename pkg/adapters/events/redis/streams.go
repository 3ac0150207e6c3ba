package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

const streamPrefix = "scaleout:bus:"

type streamSub struct {
	group  string
	cancel context.CancelFunc
	done   chan struct{}
}

// StreamsBus implements ports.MessageBus on Redis Streams. Every
// subscription reads through its own consumer group created at the end
// of the stream, so each subscriber sees every message published after
// it subscribed.
type StreamsBus struct {
	client   *redis.Client
	logger   *zap.Logger
	group    string
	consumer string

	mu     sync.Mutex
	subs   map[string][]*streamSub
	seq    int
	closed bool
}

// NewStreamsBus creates a Redis Streams bus. group prefixes the consumer
// groups this bus creates; use the worker identity so workers never
// share a group.
func NewStreamsBus(client *redis.Client, group, consumer string, logger *zap.Logger) *StreamsBus {
	return &StreamsBus{
		client:   client,
		logger:   logger,
		group:    group,
		consumer: consumer,
		subs:     make(map[string][]*streamSub),
	}
}

// Publish appends msg to the topic stream
func (b *StreamsBus) Publish(ctx context.Context, topic string, msg domain.Message) error {
	streamKey := getStreamKey(topic)

	if msg.Topic == "" {
		msg.Topic = topic
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if _, err := b.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	b.logger.Debug("message published",
		zap.String("message_id", msg.ID),
		zap.String("kind", string(msg.Kind)),
		zap.String("topic", topic),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe creates a consumer group on the topic stream, delivers a
// subscribe acknowledgment to handler and starts reading.
func (b *StreamsBus) Subscribe(ctx context.Context, topic string, handler ports.MessageHandler) error {
	streamKey := getStreamKey(topic)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return domain.ErrNotRunning
	}
	b.seq++
	group := fmt.Sprintf("%s.%d", b.group, b.seq)
	b.mu.Unlock()

	err := b.client.XGroupCreateMkStream(ctx, streamKey, group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	sub := &streamSub{group: group, cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	b.logger.Info("subscribed to stream",
		zap.String("stream", streamKey),
		zap.String("topic", topic),
		zap.String("consumer_group", group),
		zap.String("consumer", b.consumer))

	if err := handler(ctx, domain.Message{
		ID:        uuid.New().String(),
		Kind:      domain.MessageKindSubscribeAck,
		Topic:     topic,
		Timestamp: time.Now(),
	}); err != nil {
		b.logger.Warn("subscribe ack handler error", zap.String("topic", topic), zap.Error(err))
	}

	go b.readStream(readCtx, topic, sub, handler)
	return nil
}

// readStream reads messages for one subscription until its context
// ends, then drops the subscription's consumer group.
func (b *StreamsBus) readStream(ctx context.Context, topic string, sub *streamSub, handler ports.MessageHandler) {
	streamKey := getStreamKey(topic)
	defer close(sub.done)
	defer b.release(topic, sub)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    sub.group,
			Consumer: b.consumer,
			Streams:  []string{streamKey, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				b.processMessage(ctx, streamKey, sub.group, message, handler)
			}
		}
	}
}

// processMessage decodes one entry, hands it to the handler and acks it
func (b *StreamsBus) processMessage(ctx context.Context, streamKey, group string, message redis.XMessage, handler ports.MessageHandler) {
	data, ok := message.Values["data"].(string)
	if !ok {
		b.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return
	}

	var msg domain.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		b.logger.Error("failed to unmarshal message",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := handler(ctx, msg); err != nil {
		b.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := b.client.XAck(ctx, streamKey, group, message.ID).Err(); err != nil {
		b.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Unsubscribe stops every reader on topic
func (b *StreamsBus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	subs := append([]*streamSub(nil), b.subs[topic]...)
	b.mu.Unlock()

	return stop(ctx, subs)
}

// Close stops all readers. The Redis client is owned by the caller.
func (b *StreamsBus) Close() error {
	b.mu.Lock()
	var all []*streamSub
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.closed = true
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return stop(ctx, all)
}

func stop(ctx context.Context, subs []*streamSub) error {
	for _, sub := range subs {
		sub.cancel()
		select {
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// release forgets a finished subscription and destroys its group
func (b *StreamsBus) release(topic string, sub *streamSub) {
	b.mu.Lock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s == sub {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.client.XGroupDestroy(ctx, getStreamKey(topic), sub.group).Err(); err != nil {
		b.logger.Debug("failed to destroy consumer group",
			zap.String("topic", topic),
			zap.String("consumer_group", sub.group),
			zap.Error(err))
	}
}

// getStreamKey returns the Redis stream key for a topic
func getStreamKey(topic string) string {
	return streamPrefix + topic
}

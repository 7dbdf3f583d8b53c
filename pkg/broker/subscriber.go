package broker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/jude-scai/processor/internal/errors"
	"github.com/jude-scai/processor/pkg/metrics"
)

// Handler processes one delivered message. A returned error that
// appErrors.IsTransient classifies as transient causes a nack
// (redelivery); anything else acks the message and drops it to audit
// (spec.md §7 "Broker-level policy").
type Handler func(ctx context.Context, msg Message) error

// Subscriber reads from one or more topic streams under a consumer group and
// dispatches to the registered Handler per topic.
type Subscriber struct {
	client     *redis.Client
	consumerID string
	group      string
	logger     *zap.Logger
	handlers   map[Topic]Handler
	blockFor   time.Duration
}

// NewSubscriber builds a subscriber identified as consumerID within group
// (ConsumerGroup if empty; each orchestrator replica should use a distinct
// consumerID). group must match the Broker's group for the two to see each
// other's pending entries.
func NewSubscriber(client *redis.Client, consumerID string, group string, logger *zap.Logger) *Subscriber {
	if group == "" {
		group = ConsumerGroup
	}
	return &Subscriber{
		client:     client,
		consumerID: consumerID,
		group:      group,
		logger:     logger,
		handlers:   map[Topic]Handler{},
		blockFor:   5 * time.Second,
	}
}

// On registers the handler for topic.
func (s *Subscriber) On(topic Topic, h Handler) {
	s.handlers[topic] = h
}

// Run polls every registered topic in a loop until ctx is cancelled. Each
// poll round also reclaims pending entries idle past AckDeadline so a
// consumer that died mid-processing doesn't strand its messages.
func (s *Subscriber) Run(ctx context.Context) error {
	topics := make([]Topic, 0, len(s.handlers))
	for t := range s.handlers {
		topics = append(topics, t)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		for _, topic := range topics {
			if err := s.reclaimStale(ctx, topic); err != nil {
				s.logger.Warn("failed to reclaim stale entries", zap.String("topic", string(topic)), zap.Error(err))
			}
			if err := s.pollOnce(ctx, topic); err != nil {
				s.logger.Error("poll failed", zap.String("topic", string(topic)), zap.Error(err))
			}
		}
	}
}

func (s *Subscriber) pollOnce(ctx context.Context, topic Topic) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumerID,
		Streams:  []string{streamKey(topic), ">"},
		Count:    10,
		Block:    s.blockFor,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrorTypeNetwork, "xreadgroup failed for "+string(topic))
	}

	for _, stream := range streams {
		for _, entry := range stream.Messages {
			s.handle(ctx, topic, entry)
		}
	}
	return nil
}

func (s *Subscriber) handle(ctx context.Context, topic Topic, entry redis.XMessage) {
	handler, ok := s.handlers[topic]
	if !ok {
		return
	}

	raw, _ := entry.Values["payload"].(string)
	msg := Message{ID: entry.ID, Topic: topic, Payload: []byte(raw)}

	err := handler(ctx, msg)
	if err == nil {
		s.ack(ctx, topic, entry.ID, "ack")
		return
	}

	if appErrors.IsTransient(err) {
		metrics.RecordBrokerMessage(string(topic), "nack")
		s.logger.Warn("handler failed transiently, leaving for redelivery",
			zap.String("topic", string(topic)), zap.String("message_id", entry.ID), zap.Error(err))
		return
	}

	s.logger.Error("handler failed non-transiently, dropping to audit",
		zap.String("topic", string(topic)), zap.String("message_id", entry.ID), zap.Error(err))
	s.ack(ctx, topic, entry.ID, "ack_dropped")
}

func (s *Subscriber) ack(ctx context.Context, topic Topic, id string, decision string) {
	if err := s.client.XAck(ctx, streamKey(topic), s.group, id).Err(); err != nil {
		s.logger.Error("failed to ack message", zap.String("topic", string(topic)), zap.String("message_id", id), zap.Error(err))
	}
	metrics.RecordBrokerMessage(string(topic), decision)
}

// reclaimStale claims pending entries idle longer than AckDeadline so a
// crashed consumer's in-flight messages get redelivered to this one
// (spec.md §5 "ack_deadline_seconds=60").
func (s *Subscriber) reclaimStale(ctx context.Context, topic Topic) error {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamKey(topic),
		Group:  s.group,
		Start:  "-",
		End:    "+",
		Count:  20,
		Idle:   AckDeadline,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
	}

	claimed, err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   streamKey(topic),
		Group:    s.group,
		Consumer: s.consumerID,
		MinIdle:  AckDeadline,
		Messages: ids,
	}).Result()
	if err != nil {
		return err
	}
	for _, entry := range claimed {
		s.handle(ctx, topic, entry)
	}
	return nil
}

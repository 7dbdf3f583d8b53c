// Package broker implements the at-least-once message transport spec.md
// §5/§6/§7 describe, using Redis Streams consumer groups in place of the
// GCP Pub/Sub emulator the original targets (SPEC_FULL.md "Broker"):
// XADD to publish, XREADGROUP/XACK/XCLAIM to consume with redelivery.
package broker

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	appErrors "github.com/jude-scai/processor/internal/errors"
	"github.com/jude-scai/processor/pkg/metrics"
)

// Topic names the six inbound channels spec.md §6 defines.
type Topic string

const (
	TopicUnderwritingUpdated       Topic = "underwriting.updated"
	TopicDocumentAnalyzed          Topic = "document.analyzed"
	TopicProcessorExecute          Topic = "underwriting.processor.execute"
	TopicProcessorConsolidation    Topic = "underwriting.processor.consolidation"
	TopicExecutionActivate         Topic = "underwriting.execution.activate"
	TopicExecutionDisable          Topic = "underwriting.execution.disable"
)

// AckDeadline is the default redelivery visibility window (spec.md §5:
// "Broker ack_deadline_seconds=60").
const AckDeadline = 60 * time.Second

// ConsumerGroup is the default consumer group every orchestrator replica
// joins so Streams fans messages out across them instead of duplicating.
// Overridable per deployment via config.BrokerConfig.ConsumerGroup.
const ConsumerGroup = "processor-orchestrator"

// Message is one delivery handed to a Handler.
type Message struct {
	ID      string
	Topic   Topic
	Payload json.RawMessage
}

// Publisher is the narrow publish surface callers outside this package
// depend on, so they can be tested against a fake instead of a live
// Broker. *Broker satisfies it directly.
type Publisher interface {
	Publish(ctx context.Context, topic Topic, payload any) error
}

// Broker publishes messages onto Redis Streams, one stream per topic.
type Broker struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
	group  string
}

// New wraps an existing Redis client. group selects the consumer group
// EnsureGroup creates (ConsumerGroup if empty). The circuit breaker trips
// after 5 consecutive publish failures and stays open for 30s, so a
// flapping Redis connection doesn't get hammered by every publisher
// goroutine.
func New(client *redis.Client, group string, logger *zap.Logger) *Broker {
	if group == "" {
		group = ConsumerGroup
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker-publish",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Broker{client: client, cb: cb, logger: logger, group: group}
}

func streamKey(topic Topic) string {
	return "stream:" + string(topic)
}

// Publish appends payload to topic's stream (spec.md §6 "publishes the
// corresponding message").
func (b *Broker) Publish(ctx context.Context, topic Topic, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return appErrors.NewDataTransformationError("failed to encode message payload: " + err.Error())
	}

	_, err = b.cb.Execute(func() (any, error) {
		return b.client.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKey(topic),
			Values: map[string]any{"payload": body},
		}).Result()
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrorTypeNetwork, "failed to publish to "+string(topic))
	}
	return nil
}

// EnsureGroup creates the consumer group for topic if it doesn't already
// exist, starting from the beginning of the stream.
func (b *Broker) EnsureGroup(ctx context.Context, topic Topic) error {
	err := b.client.XGroupCreateMkStream(ctx, streamKey(topic), b.group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return appErrors.Wrap(err, appErrors.ErrorTypeNetwork, "failed to create consumer group for "+string(topic))
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// RecordPublishOutcome is a convenience metrics hook callers may invoke
// around Publish; kept separate so Publish itself stays transport-only.
func RecordPublishOutcome(topic Topic, err error) {
	decision := "published"
	if err != nil {
		decision = "publish_failed"
	}
	metrics.RecordBrokerMessage(string(topic), decision)
}

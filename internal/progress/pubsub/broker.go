// Package pubsub implements the progress Broker on Google Cloud Pub/Sub.
// All scans share one topic; events carry the scan ID as a message
// attribute and each subscriber gets an ephemeral filtered subscription.
package pubsub

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	scanIDAttribute    = "scan_id"
	subscriberBuffer   = 64
	subscriptionExpiry = 24 * time.Hour
)

// Broker publishes and subscribes on one shared topic.
type Broker struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// New verifies the topic exists and returns a Broker bound to it. It
// authenticates using Application Default Credentials.
func New(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*Broker, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("failed to close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	return &Broker{client: client, topic: topic, logger: logger}, nil
}

// Publish sends payload tagged with the scan ID and waits for the server
// acknowledgment.
func (b *Broker) Publish(ctx context.Context, scanID string, payload []byte) error {
	msg := &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{scanIDAttribute: scanID},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	if _, err := b.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish progress message: %w", err)
	}
	return nil
}

// Subscribe creates an ephemeral filtered subscription for one scan and
// streams its payloads. The cancel function tears the subscription down.
func (b *Broker) Subscribe(ctx context.Context, scanID string) (<-chan []byte, func(), error) {
	subID := fmt.Sprintf("scan-progress-%s-%s", scanID, uuid.NewString()[:8])
	sub, err := b.client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
		Topic:            b.topic,
		Filter:           fmt.Sprintf(`attributes.%s = %q`, scanIDAttribute, scanID),
		ExpirationPolicy: subscriptionExpiry,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create progress subscription: %w", err)
	}

	ch := make(chan []byte, subscriberBuffer)
	receiveCtx, cancelReceive := context.WithCancel(context.Background())
	go func() {
		defer close(ch)
		err := sub.Receive(receiveCtx, func(_ context.Context, m *pubsub.Message) {
			m.Ack()
			select {
			case ch <- m.Data:
			default:
				b.logger.Warn("progress subscriber full, dropping message",
					zap.String("scan_id", scanID))
			}
		})
		if err != nil && receiveCtx.Err() == nil {
			b.logger.Error("progress receive stopped",
				zap.String("scan_id", scanID), zap.Error(err))
		}
	}()

	cancel := func() {
		cancelReceive()
		cleanupCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := sub.Delete(cleanupCtx); err != nil {
			b.logger.Warn("failed to delete progress subscription",
				zap.String("subscription", subID), zap.Error(err))
		}
	}
	return ch, cancel, nil
}

// Close releases the client. In-flight subscriptions stop receiving.
func (b *Broker) Close() error {
	b.topic.Stop()
	return b.client.Close()
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}

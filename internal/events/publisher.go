package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher defines the interface for event publishers
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event interface{}) error
}

// KafkaPublisher implements Publisher for Apache Kafka
type KafkaPublisher struct {
	brokers []string
	writer  *kafka.Writer
	logger  *zap.Logger
}

// NewKafkaPublisher creates a new Kafka publisher
func NewKafkaPublisher(brokers []string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		brokers: brokers,
		logger:  logger,
	}
}

// PublishEvent publishes an event to Kafka
func (k *KafkaPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	k.logger.Debug("publishing event to kafka",
		zap.String("topic", topic),
		zap.Int("event_size", len(eventData)),
	)

	// Create Kafka writer if not exists
	if k.writer == nil {
		k.writer = &kafka.Writer{
			Addr:         kafka.TCP(k.brokers...),
			Topic:        topic,
			Balancer:     &kafka.CRC32Balancer{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
		}
	}

	eventKey := fmt.Sprintf("%s-%d", topic, time.Now().UnixNano())

	msg := kafka.Message{
		Key:   []byte(eventKey),
		Value: eventData,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(topic)},
			{Key: "timestamp", Value: []byte(time.Now().Format(time.RFC3339))},
		},
	}

	return k.writer.WriteMessages(ctx, msg)
}

// RedisPublisher implements Publisher for Redis Streams
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher creates a new Redis publisher
func NewRedisPublisher(addr, password string, db int, logger *zap.Logger) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisPublisher{
		client: client,
		logger: logger,
	}
}

// PublishEvent publishes an event to Redis Streams
func (r *RedisPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	r.logger.Debug("publishing event to redis stream",
		zap.String("stream", topic),
		zap.Int("event_size", len(eventData)),
	)

	fields := map[string]interface{}{
		"data":      string(eventData),
		"timestamp": time.Now().Format(time.RFC3339),
		"source":    "assetex",
	}

	result := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: fields,
	})
	if err := result.Err(); err != nil {
		return fmt.Errorf("failed to publish to redis stream: %w", err)
	}

	return nil
}

// WebhookPublisher implements Publisher for HTTP webhooks
type WebhookPublisher struct {
	webhookURL string
	client     *http.Client
	logger     *zap.Logger
}

// NewWebhookPublisher creates a new webhook publisher
func NewWebhookPublisher(webhookURL string, logger *zap.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// PublishEvent publishes an event via HTTP webhook
func (w *WebhookPublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	payload := map[string]interface{}{
		"topic":     topic,
		"event":     event,
		"timestamp": time.Now().Format(time.RFC3339),
		"source":    "assetex",
	}

	payloadData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.webhookURL, bytes.NewBuffer(payloadData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", topic)
	req.Header.Set("X-Source", "assetex")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}

	return nil
}

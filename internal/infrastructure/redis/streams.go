package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cassiomorais/channelsync/internal/infrastructure/config"
	"github.com/redis/go-redis/v9"
)

// DeadLetter describes a queue item that ran out of attempts.
type DeadLetter struct {
	Kind       string
	ItemID     int64
	Reason     string
	Message    string
	RetryCount int
	Details    map[string]any
}

type StreamProducer struct {
	client  *redis.Client
	streams config.StreamsConfig
}

func NewStreamProducer(client *redis.Client, streams config.StreamsConfig) *StreamProducer {
	return &StreamProducer{client: client, streams: streams}
}

func (p *StreamProducer) add(ctx context.Context, stream string, values map[string]any) error {
	values["timestamp"] = time.Now().Unix()
	args := &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if p.streams.MaxLen > 0 {
		args.MaxLen = p.streams.MaxLen
		args.Approx = true
	}
	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}

// PublishDispatch asks workers to run task for ids.
func (p *StreamProducer) PublishDispatch(ctx context.Context, task string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch ids: %w", err)
	}
	return p.add(ctx, p.streams.Dispatch, map[string]any{
		"task": task,
		"ids":  string(raw),
	})
}

// PublishWebhook announces a freshly recorded audit record.
func (p *StreamProducer) PublishWebhook(ctx context.Context, auditID int64) error {
	return p.add(ctx, p.streams.Webhook, map[string]any{
		"audit_id": strconv.FormatInt(auditID, 10),
	})
}

func (p *StreamProducer) PublishDeadLetter(ctx context.Context, dl DeadLetter) error {
	details, err := json.Marshal(dl.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ data: %w", err)
	}
	return p.add(ctx, p.streams.DeadLetter, map[string]any{
		"kind":        dl.Kind,
		"item_id":     strconv.FormatInt(dl.ItemID, 10),
		"reason":      dl.Reason,
		"message":     dl.Message,
		"retry_count": dl.RetryCount,
		"details":     string(details),
	})
}

// DecodeDispatch reads a message written by PublishDispatch.
func DecodeDispatch(msg redis.XMessage) (string, []int64, error) {
	task, _ := msg.Values["task"].(string)
	raw, _ := msg.Values["ids"].(string)
	if task == "" {
		return "", nil, fmt.Errorf("dispatch message %s has no task", msg.ID)
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return "", nil, fmt.Errorf("dispatch message %s: %w", msg.ID, err)
	}
	return task, ids, nil
}

// DecodeWebhook reads a message written by PublishWebhook.
func DecodeWebhook(msg redis.XMessage) (int64, error) {
	raw, _ := msg.Values["audit_id"].(string)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("webhook message %s: invalid audit id %q", msg.ID, raw)
	}
	return id, nil
}

type StreamConsumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client *redis.Client,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

func (c *StreamConsumer) Stream() string {
	return c.stream
}

func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	// Create stream if it doesn't exist
	const busyGroupMsg = "BUSYGROUP"
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			// No new messages
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	err := c.client.XAck(ctx, c.stream, c.group, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// ReclaimIdle takes over messages another consumer read but never acked.
func (c *StreamConsumer) ReclaimIdle(ctx context.Context, minIdleTime time.Duration) ([]redis.XMessage, error) {
	messages, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdleTime,
		Start:    "0-0",
		Count:    c.batchSize,
	}).Result()

	if err != nil {
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}

	return messages, nil
}

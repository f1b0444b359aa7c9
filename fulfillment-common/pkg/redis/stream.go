package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fulfillment/platform/fulfillment-common/pkg/config"
	"github.com/fulfillment/platform/fulfillment-common/pkg/health"
	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/tracing"
)

const (
	fieldData          = "data"
	fieldTransactionID = "transactionId"
	dlqSuffix          = ":dlq"
)

// StreamClient publishes to Redis Streams.
type StreamClient struct {
	client redis.UniversalClient
	maxLen int64
}

// NewStreamClient wraps client. maxLen > 0 caps each stream approximately.
func NewStreamClient(client redis.UniversalClient, maxLen int64) *StreamClient {
	return &StreamClient{client: client, maxLen: maxLen}
}

func (c *StreamClient) Redis() redis.UniversalClient {
	return c.client
}

// Publish appends payload to stream, tagged with the saga transaction id and
// the caller's trace context.
func (c *StreamClient) Publish(ctx context.Context, stream, transactionID string, payload []byte) (string, error) {
	values := map[string]interface{}{
		fieldData:          string(payload),
		fieldTransactionID: transactionID,
	}
	tracing.InjectStream(ctx, values)

	args := &redis.XAddArgs{Stream: stream, Values: values}
	if c.maxLen > 0 {
		args.MaxLen = c.maxLen
		args.Approx = true
	}
	id, err := c.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// Len returns the number of entries in stream.
func (c *StreamClient) Len(ctx context.Context, stream string) (int64, error) {
	return c.client.XLen(ctx, stream).Result()
}

// Message is one decoded stream entry.
type Message struct {
	ID            string
	Stream        string
	TransactionID string
	Data          []byte
}

// MessageHandler processes one message. Returning an error leaves the message
// pending so it is redelivered and eventually dead-lettered.
type MessageHandler func(ctx context.Context, msg *Message) error

// ConsumerHooks receives consumer outcomes, typically Prometheus counters.
type ConsumerHooks interface {
	Processed(stream string, err error)
	DeadLettered(stream string)
}

type nopHooks struct{}

func (nopHooks) Processed(string, error) {}
func (nopHooks) DeadLettered(string)     {}

type ConsumerOptions struct {
	Group        string
	Consumer     string
	BatchSize    int
	BlockTime    time.Duration // negative disables blocking reads
	MaxRetries   int
	ClaimMinIdle time.Duration
	// PendingCheckInterval is how often idle pending entries are reclaimed.
	PendingCheckInterval time.Duration
}

// OptionsFromConfig maps the shared STREAM_* config onto consumer options.
func OptionsFromConfig(cfg config.StreamConfig) ConsumerOptions {
	return ConsumerOptions{
		Group:                cfg.Group,
		Consumer:             cfg.Consumer,
		BatchSize:            cfg.BatchSize,
		BlockTime:            cfg.BlockTime,
		MaxRetries:           cfg.MaxRetries,
		ClaimMinIdle:         cfg.ClaimMinIdle,
		PendingCheckInterval: cfg.ClaimMinIdle,
	}
}

// Consumer reads a set of streams in one consumer group.
type Consumer struct {
	client  *StreamClient
	streams []string
	handler MessageHandler
	opts    ConsumerOptions
	log     *logger.Logger
	hooks   ConsumerHooks
	monitor *health.LoopMonitor
}

func NewConsumer(client *StreamClient, streams []string, handler MessageHandler, opts ConsumerOptions, log *logger.Logger) *Consumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.ClaimMinIdle <= 0 {
		opts.ClaimMinIdle = 30 * time.Second
	}
	if opts.PendingCheckInterval <= 0 {
		opts.PendingCheckInterval = opts.ClaimMinIdle
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Consumer{
		client:  client,
		streams: streams,
		handler: handler,
		opts:    opts,
		log:     log.WithField("group", opts.Group),
		hooks:   nopHooks{},
		monitor: &health.LoopMonitor{},
	}
}

// WithHooks installs outcome hooks.
func (c *Consumer) WithHooks(h ConsumerHooks) *Consumer {
	if h != nil {
		c.hooks = h
	}
	return c
}

// Monitor exposes the loop monitor for health checks.
func (c *Consumer) Monitor() *health.LoopMonitor {
	return c.monitor
}

// EnsureGroups creates the consumer group on every stream, creating streams as needed.
func (c *Consumer) EnsureGroups(ctx context.Context) error {
	for _, stream := range c.streams {
		err := c.client.client.XGroupCreateMkStream(ctx, stream, c.opts.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group %s on %s: %w", c.opts.Group, stream, err)
		}
	}
	return nil
}

// Start blocks consuming until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.EnsureGroups(ctx); err != nil {
		return err
	}
	if err := c.ReclaimPending(ctx); err != nil {
		return fmt.Errorf("process pending: %w", err)
	}

	ticker := time.NewTicker(c.opts.PendingCheckInterval)
	defer ticker.Stop()

	c.log.Infof("stream consumer started", map[string]interface{}{"streams": c.streams})
	for {
		c.monitor.Tick()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.ReclaimPending(ctx); err != nil && ctx.Err() == nil {
				c.monitor.SetError(err)
				c.log.WithError(err).Warn("reclaim pending failed")
			}
		default:
		}

		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.monitor.SetError(err)
			return err
		}
	}
}

// Poll performs one XREADGROUP round and returns how many messages were handled.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	args := make([]string, 0, len(c.streams)*2)
	args = append(args, c.streams...)
	for range c.streams {
		args = append(args, ">")
	}

	results, err := c.client.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		Streams:  args,
		Count:    int64(c.opts.BatchSize),
		Block:    c.opts.BlockTime,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("xreadgroup: %w", err)
	}

	handled := 0
	for _, result := range results {
		for _, m := range result.Messages {
			if err := c.processMessage(ctx, result.Stream, m); err != nil {
				c.log.WithError(err).WithField("stream", result.Stream).WithField("msgId", m.ID).
					Warn("message left pending")
			}
			handled++
		}
	}
	return handled, nil
}

// ReclaimPending claims entries idle longer than ClaimMinIdle, retries them and
// dead-letters the ones delivered more than MaxRetries times.
func (c *Consumer) ReclaimPending(ctx context.Context) error {
	for _, stream := range c.streams {
		pending, err := c.client.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  c.opts.Group,
			Start:  "-",
			End:    "+",
			Count:  int64(c.opts.BatchSize),
		}).Result()
		if err != nil {
			return fmt.Errorf("xpending %s: %w", stream, err)
		}
		if len(pending) == 0 {
			continue
		}

		ids := make([]string, 0, len(pending))
		exhausted := make(map[string]int64)
		for _, p := range pending {
			if p.Idle < c.opts.ClaimMinIdle {
				continue
			}
			ids = append(ids, p.ID)
			if c.opts.MaxRetries > 0 && p.RetryCount > int64(c.opts.MaxRetries) {
				exhausted[p.ID] = p.RetryCount
			}
		}
		if len(ids) == 0 {
			continue
		}

		messages, err := c.client.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    c.opts.Group,
			Consumer: c.opts.Consumer,
			MinIdle:  c.opts.ClaimMinIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			return fmt.Errorf("xclaim %s: %w", stream, err)
		}

		for _, m := range messages {
			if retries, ok := exhausted[m.ID]; ok {
				if err := c.deadLetter(ctx, stream, m, fmt.Sprintf("max retries exceeded: %d", retries)); err != nil {
					c.log.WithError(err).Error("dead-letter failed")
				}
				continue
			}
			if err := c.processMessage(ctx, stream, m); err != nil {
				c.log.WithError(err).WithField("msgId", m.ID).Warn("pending message failed again")
			}
		}
	}
	return nil
}

func (c *Consumer) processMessage(ctx context.Context, stream string, m redis.XMessage) error {
	data, ok := m.Values[fieldData].(string)
	if !ok {
		c.log.WithField("stream", stream).WithField("msgId", m.ID).Warn("dropping message without data field")
		return c.client.client.XAck(ctx, stream, c.opts.Group, m.ID).Err()
	}
	txID, _ := m.Values[fieldTransactionID].(string)

	msgCtx := tracing.ExtractStream(ctx, m.Values)
	msg := &Message{ID: m.ID, Stream: stream, TransactionID: txID, Data: []byte(data)}

	err := c.handler(msgCtx, msg)
	c.hooks.Processed(stream, err)
	if err != nil {
		return err
	}
	return c.client.client.XAck(ctx, stream, c.opts.Group, m.ID).Err()
}

func (c *Consumer) deadLetter(ctx context.Context, stream string, m redis.XMessage, reason string) error {
	_, err := c.client.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream + dlqSuffix,
		Values: map[string]interface{}{
			"stream":           stream,
			"msgId":            m.ID,
			"reason":           reason,
			fieldData:          m.Values[fieldData],
			fieldTransactionID: m.Values[fieldTransactionID],
			"tsMs":             time.Now().UnixMilli(),
			"group":            c.opts.Group,
			"consumer":         c.opts.Consumer,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd dlq: %w", err)
	}
	c.hooks.DeadLettered(stream)
	c.log.WithField("stream", stream).WithField("msgId", m.ID).Warn("message dead-lettered: " + reason)
	return c.client.client.XAck(ctx, stream, c.opts.Group, m.ID).Err()
}

// DeadLetterStream names the DLQ stream for stream.
func DeadLetterStream(stream string) string {
	return stream + dlqSuffix
}

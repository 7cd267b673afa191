package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/go-redis/redis/v8"

	"github.com/drivehub/joblist/app/store"
)

// dequeueTimeout bounds each blocking pop so the consumer notices canceled
// context between messages
const dequeueTimeout = 5 * time.Second

// Store defines the single repository operation the consumer needs
type Store interface {
	Create(ctx context.Context, job store.Job) (store.Job, error)
}

// Repeater retries the store write with backoff before the message is
// requeued or dead-lettered
type Repeater interface {
	Do(ctx context.Context, fun func() error, errs ...error) error
}

// Notifier delivers dead-letter notifications, e.g. a webhook sender
type Notifier interface {
	Send(ctx context.Context, destination, text string) error
}

// Consumer dequeues creation requests and performs the validated write
type Consumer struct {
	client      *redis.Client
	store       Store
	repeater    Repeater
	notifier    Notifier // optional
	webhookURL  string
	maxAttempts int
	concurrency int

	pending    string
	processing string
	dead       string
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Client      *redis.Client
	Store       Store
	Repeater    Repeater
	Notifier    Notifier // optional, used with WebhookURL for dead-letter alerts
	WebhookURL  string
	Prefix      string // redis list prefix, DefaultPrefix if empty
	MaxAttempts int    // deliveries before dead-letter, defaults to 3
	Concurrency int    // parallel message handlers, defaults to 1
}

// NewConsumer creates a consumer for the queue under cfg.Prefix
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Client == nil || cfg.Store == nil || cfg.Repeater == nil {
		return nil, fmt.Errorf("consumer initialization failed: Client, Store and Repeater are required")
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	pending, processing, dead := keys(cfg.Prefix)
	return &Consumer{
		client:      cfg.Client,
		store:       cfg.Store,
		repeater:    cfg.Repeater,
		notifier:    cfg.Notifier,
		webhookURL:  cfg.WebhookURL,
		maxAttempts: maxAttempts,
		concurrency: concurrency,
		pending:     pending,
		processing:  processing,
		dead:        dead,
	}, nil
}

// Run blocks consuming messages until ctx is canceled. Messages left on the
// processing list by a previous crashed run are requeued first; the service
// runs a single consumer process, so nothing else can own them.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.recoverStale(ctx); err != nil {
		return fmt.Errorf("failed to recover stale messages: %w", err)
	}

	log.Printf("[INFO] queue consumer started, pending=%s max-attempts=%d concurrency=%d",
		c.pending, c.maxAttempts, c.concurrency)

	gr := syncs.NewSizedGroup(c.concurrency, syncs.Context(ctx))
	for {
		raw, err := c.client.BRPopLPush(ctx, c.pending, c.processing, dequeueTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) { // timeout with no messages
				if ctx.Err() != nil {
					break
				}
				continue
			}
			if ctx.Err() != nil {
				break
			}
			log.Printf("[WARN] dequeue failed: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		gr.Go(func(ctx context.Context) { c.process(ctx, raw) })
	}

	gr.Wait()
	log.Printf("[INFO] queue consumer stopped")
	return nil
}

// disposition is the outcome of handling a single message
type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionDead
)

// process handles one raw message and settles it on the redis side
func (c *Consumer) process(ctx context.Context, raw string) {
	// settlement below must run even when ctx is canceled mid-write
	settleCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	outcome, next, reason := c.handle(ctx, raw)
	switch outcome {
	case dispositionAck:
	case dispositionRequeue:
		if err := c.client.LPush(settleCtx, c.pending, next).Err(); err != nil {
			// message stays on the processing list and is recovered on restart
			log.Printf("[ERROR] failed to requeue message: %v", err)
			return
		}
	case dispositionDead:
		if err := c.client.LPush(settleCtx, c.dead, raw).Err(); err != nil {
			log.Printf("[ERROR] failed to dead-letter message: %v", err)
			return
		}
		c.notifyDeadLetter(settleCtx, raw, reason)
	}

	if err := c.client.LRem(settleCtx, c.processing, 1, raw).Err(); err != nil {
		log.Printf("[WARN] failed to remove message from processing list: %v", err)
	}
}

// handle decides what to do with a raw message: ack after a successful write,
// requeue with a bumped delivery counter on transient failure, dead-letter on
// permanent failure or delivery exhaustion. Returns the re-marshaled message
// for the requeue case and a human-readable reason for the dead-letter case.
func (c *Consumer) handle(ctx context.Context, raw string) (disposition, string, string) {
	var msg message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		log.Printf("[WARN] dropping malformed queue message to dead-letter: %v", err)
		return dispositionDead, "", fmt.Sprintf("malformed message: %v", err)
	}
	msg.Attempts++

	// validation failure is permanent, retrying can't fix the payload
	if err := msg.Job.Validate(); err != nil {
		log.Printf("[WARN] queue message %s failed validation: %v", msg.ID, err)
		return dispositionDead, "", err.Error()
	}

	err := c.repeater.Do(ctx, func() error {
		_, e := c.store.Create(ctx, msg.Job)
		var vErr *store.ValidationError
		if errors.As(e, &vErr) { // permanent, retrying can't fix the payload
			return nil
		}
		return e
	})
	if err == nil {
		log.Printf("[INFO] queued job creation done, message %s, attempt %d", msg.ID, msg.Attempts)
		return dispositionAck, "", ""
	}

	if msg.Attempts >= c.maxAttempts {
		log.Printf("[ERROR] queue message %s exhausted %d deliveries: %v", msg.ID, msg.Attempts, err)
		return dispositionDead, "", fmt.Sprintf("exhausted %d deliveries: %v", msg.Attempts, err)
	}

	next, mErr := json.Marshal(msg)
	if mErr != nil {
		log.Printf("[ERROR] failed to re-marshal queue message %s: %v", msg.ID, mErr)
		return dispositionDead, "", fmt.Sprintf("re-marshal failed: %v", mErr)
	}
	log.Printf("[WARN] queue message %s failed on attempt %d, requeued: %v", msg.ID, msg.Attempts, err)
	return dispositionRequeue, string(next), ""
}

// recoverStale moves messages stuck on the processing list back to pending
func (c *Consumer) recoverStale(ctx context.Context) error {
	for {
		raw, err := c.client.RPopLPush(ctx, c.processing, c.pending).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		log.Printf("[WARN] recovered stale message from processing list: %d bytes", len(raw))
	}
}

// notifyDeadLetter fires the configured webhook for a dead-lettered message
func (c *Consumer) notifyDeadLetter(ctx context.Context, raw, reason string) {
	if c.notifier == nil || c.webhookURL == "" {
		return
	}
	payload, err := json.Marshal(map[string]string{"event": "dead-letter", "reason": reason, "message": raw})
	if err != nil {
		log.Printf("[WARN] failed to marshal dead-letter notification: %v", err)
		return
	}
	if err := c.notifier.Send(ctx, c.webhookURL, string(payload)); err != nil {
		log.Printf("[WARN] failed to send dead-letter notification: %v", err)
	}
}

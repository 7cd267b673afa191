// Package queue implements the asynchronous job-creation path: a producer
// pushing creation requests to a redis list and a consumer performing the
// validated write. Delivery is at-least-once; messages move from the pending
// list to a processing list on dequeue and are removed only after a
// successful write or terminal routing to the dead-letter list.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/drivehub/joblist/app/store"
)

// DefaultPrefix namespaces the redis lists used by producer and consumer
const DefaultPrefix = "joblist"

// message wraps a job payload on the wire. Attempts counts deliveries so the
// consumer can route poisoned messages to the dead-letter list.
type message struct {
	ID          string    `json:"id"`
	Job         store.Job `json:"job"`
	Attempts    int       `json:"attempts"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// keys returns the pending, processing and dead-letter list names for prefix
func keys(prefix string) (pending, processing, dead string) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + ":pending", prefix + ":processing", prefix + ":dead"
}

// Producer enqueues job creation requests
type Producer struct {
	client  *redis.Client
	pending string
}

// NewProducer creates a producer publishing to the pending list under prefix
func NewProducer(client *redis.Client, prefix string) *Producer {
	pending, _, _ := keys(prefix)
	return &Producer{client: client, pending: pending}
}

// Submit validates the payload and pushes it to the pending list. Invalid
// payloads are rejected here, before anything hits redis.
func (p *Producer) Submit(ctx context.Context, job store.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	msg := message{ID: uuid.New().String(), Job: job, Attempts: 0, SubmittedAt: time.Now().UTC()}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	if err := p.client.LPush(ctx, p.pending, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job creation: %w", err)
	}
	return nil
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivehub/joblist/app/store"
)

// stubCreator implements Store, recording writes and failing on demand
type stubCreator struct {
	calls int
	fail  error
	jobs  []store.Job
}

func (s *stubCreator) Create(_ context.Context, job store.Job) (store.Job, error) {
	s.calls++
	if s.fail != nil {
		return store.Job{}, s.fail
	}
	job.ID = fmt.Sprintf("id-%d", s.calls)
	job.CreatedAt = time.Now()
	s.jobs = append(s.jobs, job)
	return job, nil
}

// onceRepeater runs the function a single time, no backoff in unit tests
type onceRepeater struct{}

func (onceRepeater) Do(_ context.Context, fun func() error, _ ...error) error { return fun() }

func validJob() store.Job {
	return store.Job{
		Title:         "Software Developer",
		Category:      "Technology",
		Location:      "Bangalore",
		Experience:    "2-4 years",
		Education:     "B.Tech",
		DriveLocation: "Bangalore Tech Park",
		Description:   "dev role",
	}
}

func makeConsumer(t *testing.T, st Store) *Consumer {
	t.Helper()
	// the client is never dialed by handle(), any address works
	c, err := NewConsumer(ConsumerConfig{
		Client:      redis.NewClient(&redis.Options{Addr: "localhost:0"}),
		Store:       st,
		Repeater:    onceRepeater{},
		MaxAttempts: 3,
	})
	require.NoError(t, err)
	return c
}

func rawMessage(t *testing.T, msg message) string {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return string(data)
}

func TestNewConsumer(t *testing.T) {
	t.Run("requires client, store and repeater", func(t *testing.T) {
		_, err := NewConsumer(ConsumerConfig{})
		assert.Error(t, err)

		_, err = NewConsumer(ConsumerConfig{Client: redis.NewClient(&redis.Options{}), Store: &stubCreator{}})
		assert.Error(t, err)
	})

	t.Run("defaults applied", func(t *testing.T) {
		c, err := NewConsumer(ConsumerConfig{Client: redis.NewClient(&redis.Options{}), Store: &stubCreator{}, Repeater: onceRepeater{}})
		require.NoError(t, err)
		assert.Equal(t, 3, c.maxAttempts)
		assert.Equal(t, 1, c.concurrency)
		assert.Equal(t, "joblist:pending", c.pending)
		assert.Equal(t, "joblist:processing", c.processing)
		assert.Equal(t, "joblist:dead", c.dead)
	})
}

func TestConsumer_Handle(t *testing.T) {
	t.Run("successful write acks", func(t *testing.T) {
		st := &stubCreator{}
		c := makeConsumer(t, st)

		raw := rawMessage(t, message{ID: "m1", Job: validJob()})
		outcome, _, _ := c.handle(context.Background(), raw)
		assert.Equal(t, dispositionAck, outcome)
		require.Len(t, st.jobs, 1)
		assert.Equal(t, "Software Developer", st.jobs[0].Title)
	})

	t.Run("malformed message dead-letters", func(t *testing.T) {
		st := &stubCreator{}
		c := makeConsumer(t, st)

		outcome, _, reason := c.handle(context.Background(), "{not json")
		assert.Equal(t, dispositionDead, outcome)
		assert.Contains(t, reason, "malformed message")
		assert.Zero(t, st.calls)
	})

	t.Run("invalid payload dead-letters without retry", func(t *testing.T) {
		st := &stubCreator{}
		c := makeConsumer(t, st)

		job := validJob()
		job.Title = ""
		raw := rawMessage(t, message{ID: "m1", Job: job})
		outcome, _, reason := c.handle(context.Background(), raw)
		assert.Equal(t, dispositionDead, outcome)
		assert.Contains(t, reason, "missing required fields: title")
		assert.Zero(t, st.calls, "permanent failure must not hit the store")
	})

	t.Run("transient failure requeues with bumped attempts", func(t *testing.T) {
		st := &stubCreator{fail: errors.New("db down")}
		c := makeConsumer(t, st)

		raw := rawMessage(t, message{ID: "m1", Job: validJob(), Attempts: 0})
		outcome, next, _ := c.handle(context.Background(), raw)
		require.Equal(t, dispositionRequeue, outcome)

		var requeued message
		require.NoError(t, json.Unmarshal([]byte(next), &requeued))
		assert.Equal(t, 1, requeued.Attempts)
		assert.Equal(t, "m1", requeued.ID)
	})

	t.Run("delivery exhaustion dead-letters", func(t *testing.T) {
		st := &stubCreator{fail: errors.New("db down")}
		c := makeConsumer(t, st)

		raw := rawMessage(t, message{ID: "m1", Job: validJob(), Attempts: 2}) // third delivery
		outcome, _, reason := c.handle(context.Background(), raw)
		assert.Equal(t, dispositionDead, outcome)
		assert.Contains(t, reason, "exhausted 3 deliveries")
	})
}

func TestProducer_Submit_Validation(t *testing.T) {
	// invalid payloads are rejected before any redis call
	p := NewProducer(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")

	job := validJob()
	job.Description = ""
	err := p.Submit(context.Background(), job)
	require.Error(t, err)
	var vErr *store.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

// integration test against a real redis, enabled with TEST_REDIS_ADDR
func TestQueue_Integration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	prefix := fmt.Sprintf("joblist-test-%d", time.Now().UnixNano())
	pending, processing, dead := keys(prefix)
	defer client.Del(context.Background(), pending, processing, dead)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLite(dbPath, 0)
	require.NoError(t, err)
	defer st.Close()

	producer := NewProducer(client, prefix)
	consumer, err := NewConsumer(ConsumerConfig{
		Client:   client,
		Store:    st,
		Repeater: onceRepeater{},
		Prefix:   prefix,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = consumer.Run(ctx)
	}()

	require.NoError(t, producer.Submit(ctx, validJob()))

	// wait for the consumer to pick it up and write it
	require.Eventually(t, func() bool {
		jobs, e := st.List(context.Background())
		return e == nil && len(jobs) == 1
	}, 10*time.Second, 100*time.Millisecond)

	jobs, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Software Developer", jobs[0].Title)

	// all lists drained
	assert.Equal(t, int64(0), client.LLen(context.Background(), pending).Val())
	assert.Equal(t, int64(0), client.LLen(context.Background(), processing).Val())

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

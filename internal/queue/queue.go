package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the redis list holding pending recognition captures.
const DefaultKey = "shiksha:captures"

// CaptureJob asks the worker to run face recognition for one captured frame
// against a roster selection. Token is the credential the worker marks
// attendance with.
type CaptureJob struct {
	Token     string `json:"token"`
	Date      string `json:"date"`
	ClassName string `json:"class_name,omitempty"`
	Section   string `json:"section,omitempty"`
	ImageURL  string `json:"image_url"`
}

// Encode serializes a job for the queue.
func (j CaptureJob) Encode() ([]byte, error) { return json.Marshal(j) }

// DecodeCaptureJob parses a queued job.
func DecodeCaptureJob(data []byte) (CaptureJob, error) {
	var j CaptureJob
	err := json.Unmarshal(data, &j)
	return j, err
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, body []byte) error
	Consume(ctx context.Context) (<-chan []byte, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan []byte
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan []byte, size)}
}

// Publish enqueues a message.
func (q *InMemory) Publish(ctx context.Context, body []byte) error {
	select {
	case q.ch <- body:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ch:
				out <- msg
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a simple Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a message.
func (q *RedisQueue) Publish(ctx context.Context, body []byte) error {
	return q.client.LPush(ctx, q.key, body).Err()
}

// Consume streams messages using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				out <- []byte(res[1])
			}
		}
	}()
	return out, nil
}

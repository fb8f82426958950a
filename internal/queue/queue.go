// Package queue is the redis-backed FIFO carrying ingestion tasks from
// the API server to workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultName is the queue workers consume from.
const DefaultName = "knowledged:tasks"

// Payload carries everything the orchestrator needs to run a task
// without further API lookups.
type Payload struct {
	TaskID          string            `json:"task_id"`
	KnowledgeBaseID string            `json:"knowledge_base_id"`
	UserID          string            `json:"user_id"`
	FileURL         string            `json:"file_url,omitempty"`
	Filename        string            `json:"filename,omitempty"`
	OSSType         string            `json:"oss_type,omitempty"`
	OSSConfig       map[string]string `json:"oss_config,omitempty"`
	ChunkSize       int               `json:"chunk_size"`
	ChunkOverlap    int               `json:"chunk_overlap"`
	Separator       string            `json:"separator"`
	PreProcessRules []string          `json:"pre_process_rules"`
	JQSchema        string            `json:"jqSchema,omitempty"`
}

// Validate checks the payload carries a runnable source descriptor.
func (p *Payload) Validate() error {
	if p.TaskID == "" || p.KnowledgeBaseID == "" {
		return errors.New("queue: payload requires task_id and knowledge_base_id")
	}
	hasFile := p.FileURL != ""
	hasOSS := p.OSSType != ""
	if !hasFile && !hasOSS {
		return errors.New("queue: payload requires file_url or oss_type")
	}
	return nil
}

// Queue is a durable FIFO keyed by queue name. Enqueue is atomic;
// delivery is at-least-once.
type Queue struct {
	client redis.UniversalClient
	name   string
	logger *zap.Logger
}

// New creates a queue handle over the shared redis client.
func New(client redis.UniversalClient, name string, logger *zap.Logger) *Queue {
	if name == "" {
		name = DefaultName
	}
	return &Queue{client: client, name: name, logger: logger.Named("queue")}
}

// Enqueue appends a payload to the tail of the queue.
func (q *Queue) Enqueue(ctx context.Context, p *Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("queue: marshaling payload: %w", err)
	}
	if err := q.client.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("queue: enqueueing task %s: %w", p.TaskID, err)
	}
	q.logger.Debug("task enqueued",
		zap.String("task_id", p.TaskID),
		zap.String("knowledge_base_id", p.KnowledgeBaseID))
	return nil
}

// DequeueBlocking pops the head of the queue, blocking until an item
// is available or ctx is done.
func (q *Queue) DequeueBlocking(ctx context.Context) (*Payload, error) {
	// Timeout 0 blocks indefinitely; go-redis unblocks on ctx cancel.
	res, err := q.client.BLPop(ctx, 0, q.name).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("queue: unexpected BLPOP reply of length %d", len(res))
	}

	var p Payload
	if err := json.Unmarshal([]byte(res[1]), &p); err != nil {
		return nil, fmt.Errorf("queue: decoding payload: %w", err)
	}
	return &p, nil
}

// Len returns the number of pending tasks.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: reading length: %w", err)
	}
	return n, nil
}

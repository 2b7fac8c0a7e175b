package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	DefaultQueue = "warm"

	warmMaxRetry = 5
	warmTimeout  = 3 * time.Minute
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) Queue() string {
	return c.queue
}

// EnqueueWarm schedules population of every variant in payload.
func (c *Client) EnqueueWarm(ctx context.Context, payload WarmImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewWarmImageTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, warmOptions(c.queue)...)
}

func (c *Client) Close() error {
	return c.client.Close()
}

func warmOptions(queueName string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(warmMaxRetry),
		asynq.Timeout(warmTimeout),
	}
}

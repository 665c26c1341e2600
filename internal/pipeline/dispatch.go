package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/pkg/config"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

// Task is the queue envelope. The payload stays minimal: workers reload
// the job row, which is the source of truth by the time they run.
type Task struct {
	JobID    uuid.UUID      `json:"job_id"`
	JobType  models.JobType `json:"job_type"`
	TargetID uuid.UUID      `json:"target_id"`
	OwnerID  uuid.UUID      `json:"owner_id"`
}

// Dispatcher pushes tasks onto a Redis list. With dispatch disabled,
// Enqueue is a no-op and callers are expected to run jobs inline.
type Dispatcher struct {
	client   *redis.Client
	queueKey string
	enabled  bool
}

func NewDispatcher(cfg *config.Config) (*Dispatcher, error) {
	if !cfg.Dispatch.Enabled {
		logger.Info("Task dispatch disabled, jobs run inline")
		return &Dispatcher{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Task dispatcher initialized",
		zap.String("queue", cfg.Dispatch.QueueKey),
	)

	return &Dispatcher{
		client:   client,
		queueKey: cfg.Dispatch.QueueKey,
		enabled:  true,
	}, nil
}

func (d *Dispatcher) Enabled() bool {
	return d.enabled
}

func (d *Dispatcher) Close() error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *Dispatcher) Enqueue(ctx context.Context, task Task) error {
	if !d.enabled {
		return nil
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if err := d.client.LPush(ctx, d.queueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	logger.Debug("Task enqueued",
		zap.String("job_id", task.JobID.String()),
		zap.String("job_type", string(task.JobType)),
	)
	return nil
}

// Worker pops tasks off the queue and hands them to the runner. Several
// goroutines block on the same list; Redis delivers each task to exactly
// one of them.
type Worker struct {
	client      *redis.Client
	queueKey    string
	concurrency int
	runner      *Runner
}

func NewWorker(cfg *config.Config, runner *Runner) (*Worker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	concurrency := cfg.Dispatch.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Worker{
		client:      client,
		queueKey:    cfg.Dispatch.QueueKey,
		concurrency: concurrency,
		runner:      runner,
	}, nil
}

func (w *Worker) Close() error {
	return w.client.Close()
}

// Run blocks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) {
	logger.Info("Worker started", zap.Int("worker", id))
	for {
		res, err := w.client.BRPop(ctx, 5*time.Second, w.queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				logger.Info("Worker stopping", zap.Int("worker", id))
				return
			}
			logger.Error("Failed to pop task", zap.Int("worker", id), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			logger.Error("Discarding malformed task", zap.Error(err))
			continue
		}

		if err := w.runner.Execute(ctx, task.JobID); err != nil {
			logger.Error("Task execution failed",
				zap.String("job_id", task.JobID.String()),
				zap.Error(err),
			)
		}
	}
}

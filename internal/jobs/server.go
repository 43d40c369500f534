package jobs

import (
	"context"
	"errors"
	"time"

	"marketplace-service/internal/notify"
	"marketplace-service/internal/util"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// RedisOpt builds asynq connection options from the service's Redis settings
func RedisOpt(addr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}
}

// Worker wraps the asynq server
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewWorker constructs a Worker that delivers mail through mailer
func NewWorker(redisOpt asynq.RedisClientOpt, mailer notify.Mailer, concurrency int) *Worker {
	logger := util.GetLogger()
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		Logger: logger.Sugar(),
	})

	mux := asynq.NewServeMux()
	mux.Handle(TaskTypeSendEmail, NewMailHandler(mailer))

	return &Worker{server: srv, mux: mux, logger: logger}
}

// Run processes jobs until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("jobs: worker not configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	w.logger.Info("Mail job worker started")

	<-ctx.Done()
	w.server.Shutdown()
	w.logger.Info("Mail job worker stopped")
	return nil
}

// Client submits jobs to the queue
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq client
func NewClient(redisOpt asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpt)}
}

// EnqueueEmail queues msg for delivery with retries
func (c *Client) EnqueueEmail(ctx context.Context, msg notify.Message) error {
	task, err := NewSendEmailTask(msg)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	)
	return err
}

// Close releases client resources
func (c *Client) Close() error {
	return c.client.Close()
}

package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/cartographer/internal/pipeline"
	"github.com/MikeSquared-Agency/cartographer/internal/status"
)

const (
	// SubjectRunStatus carries every status write of every run.
	SubjectRunStatus = "cartographer.run.status"
	// SubjectRunCompleted carries the summary of each completed run.
	SubjectRunCompleted = "cartographer.run.completed"
	// SubjectUploadRequested accepts an export document and starts a run.
	SubjectUploadRequested = "cartographer.upload.requested"
	SubjectRegistered      = "cartographer.registered"
)

// conn is the part of *nats.Conn the client publishes through.
type conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

type Client struct {
	conn   conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("cartographer"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// PublishStatus broadcasts a run status write.
func (c *Client) PublishStatus(s status.Status) error {
	if err := c.Publish(SubjectRunStatus, s); err != nil {
		c.logger.Warn("failed to publish run status", "run_id", s.RunID, "error", err)
		return err
	}
	return nil
}

// RunCompleted broadcasts the summary of a finished run.
func (c *Client) RunCompleted(_ context.Context, s pipeline.Summary) error {
	return c.Publish(SubjectRunCompleted, s)
}

// Announce tells the bus this instance is up.
func (c *Client) Announce(version string) error {
	return c.Publish(SubjectRegistered, map[string]any{
		"service":    "cartographer",
		"version":    version,
		"started_at": time.Now().UTC(),
		"subjects":   []string{SubjectUploadRequested},
	})
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}

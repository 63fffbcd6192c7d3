package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectJobPrefix prefixes job lifecycle subjects; the lower-cased target
// state completes the subject, e.g. cwbatch.job.fetched.
const SubjectJobPrefix = "cwbatch.job."

// SubjectJobAll matches every job lifecycle subject.
const SubjectJobAll = SubjectJobPrefix + ">"

// SubjectRunCompleted is published once per driver run.
const SubjectRunCompleted = "cwbatch.run.completed"

// JobSubject returns the subject for a transition into state.
func JobSubject(state string) string {
	return SubjectJobPrefix + strings.ToLower(state)
}

// JobEvent is emitted whenever a batch job changes lifecycle state.
type JobEvent struct {
	RecordID     string    `json:"record_id"`
	Chunk        string    `json:"chunk"`
	JobID        string    `json:"job_id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Status       string    `json:"status"`
	RequestCount int       `json:"request_count"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// RunEvent summarises one driver invocation.
type RunEvent struct {
	RunID     string         `json:"run_id"`
	Variant   string         `json:"variant"`
	Chunks    map[string]int `json:"chunks"`
	Output    string         `json:"output,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("cwbatch"),
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

// Flush waits until buffered publishes reach the server. Short-lived CLI runs
// call it before exiting.
func (c *Client) Flush(ctx context.Context) error {
	return c.conn.FlushWithContext(ctx)
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}

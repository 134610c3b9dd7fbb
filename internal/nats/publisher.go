package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	StreamName      = "file-events"
	SubjectUploaded = "files.uploaded"
	SubjectDeleted  = "files.deleted"
)

// Event is the JSON payload published for file lifecycle changes.
type Event struct {
	FileID     string    `json:"file_id"`
	ObjectKey  string    `json:"object_key"`
	Filename   string    `json:"filename"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher emits file events. Callers treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, subject string, ev Event) error
}

type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Client publishes events to JetStream over a single connection.
type Client struct {
	conn   *nats.Conn
	js     jetStream
	logger *zap.Logger
}

// Connect dials url, retrying forever on disconnect, and makes sure the
// file-events stream exists.
func Connect(url string, logger *zap.Logger) (*Client, error) {
	logger = logger.Named("nats")
	opts := []nats.Option{
		nats.Name("webapp"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to init JetStream: %w", err)
	}
	if err := ensureStream(js); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", StreamName, err)
	}

	logger.Info("connected and JetStream initialized", zap.String("url", conn.ConnectedUrl()))
	return &Client{conn: conn, js: js, logger: logger}, nil
}

func ensureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"files.*"},
		Storage:  nats.FileStorage,
		MaxAge:   30 * 24 * time.Hour,
	})
	return err
}

func (c *Client) Publish(ctx context.Context, subject string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := c.js.Publish(subject, data, nats.MsgId(uuid.NewString()), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending publishes before closing the connection.
func (c *Client) Close(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		return err
	}
	for !c.conn.IsClosed() {
		select {
		case <-ctx.Done():
			c.conn.Close()
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }

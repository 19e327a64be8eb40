// ABOUTME: NATS connection, update-request subscription, and event publishing
// ABOUTME: Announces updated databases and accepts remote update triggers

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/dbupdater"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
)

// Config holds NATS connection configuration.
type Config struct {
	// NATS server URL.
	URL string

	// UpdatedSubject receives a message per database with new content.
	UpdatedSubject string

	// RequestSubject accepts update requests. Empty disables the subscription.
	RequestSubject string

	// QueueGroup load-balances requests across mirror daemons.
	QueueGroup string

	// Connection name for identification.
	Name string

	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		UpdatedSubject: "cvdmirror.database.updated",
		RequestSubject: "cvdmirror.update.request",
		QueueGroup:     "cvdmirror",
		Name:           "cvdmirror",
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
	}
}

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends DatabaseUpdatedEvents.
type Publisher struct {
	conn    Conn
	subject string
}

// NewPublisher creates a publisher on subject.
func NewPublisher(conn Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

// PublishDatabaseUpdated sends one event as JSON.
func (p *Publisher) PublishDatabaseUpdated(ctx context.Context, event dbupdater.DatabaseUpdatedEvent) error {
	_, span := observability.StartSpan(ctx, "nats.publish")
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", event.Database, err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.subject, err)
	}
	return nil
}

// Client owns the NATS connection and the request subscription.
type Client struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	handler *Handler
	config  Config
	logger  *slog.Logger
}

// NewClient creates an unconnected client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{config: cfg, logger: logger}
}

// Connect establishes the NATS connection.
func (c *Client) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}

	c.conn = conn
	c.logger.Info("connected to NATS",
		slog.String("url", conn.ConnectedUrl()),
		slog.String("server_id", conn.ConnectedServerId()),
	)
	return nil
}

// Publisher returns a publisher on the configured updated subject.
func (c *Client) Publisher() *Publisher {
	return NewPublisher(c.conn, c.config.UpdatedSubject)
}

// Subscribe starts passing update requests to handler. It is a no-op when
// no request subject is configured.
func (c *Client) Subscribe(ctx context.Context, handler *Handler) error {
	if c.conn == nil {
		return fmt.Errorf("not connected to NATS")
	}
	if c.config.RequestSubject == "" {
		return nil
	}
	c.handler = handler

	sub, err := c.conn.QueueSubscribe(c.config.RequestSubject, c.config.QueueGroup, func(msg *nats.Msg) {
		reply := c.handleMessage(ctx, msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			c.logger.Error("failed to send reply", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.config.RequestSubject, err)
	}

	c.sub = sub
	c.logger.Info("subscribed to NATS",
		slog.String("subject", c.config.RequestSubject),
		slog.String("queue", c.config.QueueGroup),
	)
	return nil
}

// handleMessage decodes a request and returns the encoded reply.
func (c *Client) handleMessage(ctx context.Context, data []byte) []byte {
	ctx, span := observability.StartSpan(ctx, "nats.handle_update_request")
	defer span.End()

	var req UpdateRequest
	var resp UpdateResponse
	if err := json.Unmarshal(data, &req); err != nil {
		c.logger.Warn("invalid update request", slog.Any("error", err))
		resp = UpdateResponse{Error: "invalid request format: " + err.Error(), ReceivedAt: time.Now().UTC()}
	} else {
		resp = c.handler.ProcessRequest(ctx, req)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("failed to marshal reply", slog.Any("error", err))
		return nil
	}
	return out
}

// Close unsubscribes and drains the connection.
func (c *Client) Close() error {
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.logger.Warn("failed to unsubscribe", slog.Any("error", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.conn.Close()
		}
	}
	return nil
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

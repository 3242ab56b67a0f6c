package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
	ClientID      string
	// EventsStream, when set, names a JetStream stream that retains every
	// published domain event.
	EventsStream   string
	EventsSubjects []string
}

type Client struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger

	mu          sync.Mutex
	onClose     []func()
	onReconnect []func()
}

func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{logger: logger}

	opts := []nats.Option{
		nats.Name(config.ClientID),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
			for _, fn := range c.callbacks(&c.onReconnect) {
				fn()
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
			for _, fn := range c.callbacks(&c.onClose) {
				fn()
			}
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	c.conn = nc

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	c.js = js

	if config.EventsStream != "" {
		if err := c.EnsureStream(config.EventsStream, config.EventsSubjects); err != nil {
			nc.Close()
			return nil, err
		}
	}

	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return c, nil
}

func (c *Client) callbacks(list *[]func()) []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]func(){}, (*list)...)
}

// OnClosed registers fn to run once the connection is closed for good.
func (c *Client) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = append(c.onClose, fn)
}

// OnReconnected registers fn to run after every reconnect.
func (c *Client) OnReconnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = append(c.onReconnect, fn)
}

func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Publish sends data JSON encoded.
func (c *Client) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	c.logger.Debug("Subscribed to subject", zap.String("subject", subject))
	return sub, nil
}

// EnsureStream creates the stream unless it already exists.
func (c *Client) EnsureStream(streamName string, subjects []string) error {
	if _, err := c.js.StreamInfo(streamName); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", streamName, err)
	}

	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  subjects,
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour * 7,
		Retention: nats.LimitsPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", streamName, err)
	}

	c.logger.Info("Stream created", zap.String("stream", streamName), zap.Strings("subjects", subjects))
	return nil
}

func DecodeEvent(msg *nats.Msg, v interface{}) error {
	return json.Unmarshal(msg.Data, v)
}

package pubsub

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bishopdynamics/NetbootStudioV2/internal/metrics"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/logger"
)

// wireFrame is what actually crosses the websocket: either a subscribe
// control frame or an envelope delivery, distinguished by Kind.
type wireFrame struct {
	Kind     string   `json:"kind"`
	Topic    string   `json:"topic,omitempty"`
	Envelope Envelope `json:"envelope,omitempty"`
}

const (
	frameSubscribe = "subscribe"
	frameDeliver   = "deliver"
)

// Client is a named participant on the bus: it declares a subscription
// list and a receive callback per topic, and can publish to any topic.
// Modeled on the reference project's pgnotify.Bus shape (handlers map
// guarded by a mutex, a single background receive loop, reconnect on
// connection loss) but speaking websocket instead of Postgres LISTEN.
type Client struct {
	name   string
	dialer *websocket.Dialer
	url     string
	header  http.Header
	log     *logger.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	handlers map[string][]Handler
	conn     *websocket.Conn
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ClientConfig dials address (host:port, no scheme) with TLS using the
// given CA (or system trust store if empty) and HTTP Basic-Auth credentials.
type ClientConfig struct {
	Addr               string
	Username           string
	Password           string
	CAFile             string
	InsecureSkipVerify bool
}

// NewClient creates a bus Client and starts its background reconnect/receive
// loop. name is used as the Sender on every published Envelope, so peers
// (and the client itself) can suppress self-echo.
func NewClient(name string, cfg ClientConfig, log *logger.Logger) (*Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CAFile != "" {
		pool := x509.NewCertPool()
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("pubsub: read CA file: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("pubsub: no certificates parsed from %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	u := url.URL{Scheme: "wss", Host: cfg.Addr, Path: "/bus"}
	header := http.Header{}
	if cfg.Username != "" || cfg.Password != "" {
		token := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		header.Set("Authorization", "Basic "+token)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		name:     name,
		dialer:   &websocket.Dialer{TLSClientConfig: tlsConfig, HandshakeTimeout: receiveDeadline},
		url:      u.String(),
		header:   header,
		log:      log,
		metrics:  metrics.Global(),
		handlers: make(map[string][]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}

	c.wg.Add(1)
	go c.run()

	return c, nil
}

// Publish sends content as JSON on topic. Delivery is at-most-once,
// best-effort (§4.1); a transient broker disconnection drops the message
// rather than queuing it indefinitely.
func (c *Client) Publish(ctx context.Context, topic string, content interface{}) error {
	env, err := newEnvelope(c.name, topic, content)
	if err != nil {
		return fmt.Errorf("pubsub: encode content: %w", err)
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		c.metrics.RecordBusPublish(topic, "not_connected")
		return fmt.Errorf("pubsub: not connected")
	}

	frame := wireFrame{Kind: frameDeliver, Topic: topic, Envelope: env}
	if err := conn.WriteJSON(frame); err != nil {
		c.metrics.RecordBusPublish(topic, "error")
		return err
	}
	c.metrics.RecordBusPublish(topic, "ok")
	return nil
}

// Subscribe registers handler for topic. Envelopes whose Sender equals this
// client's name are not delivered to its own handlers (self-echo
// suppression, §4.1).
func (c *Client) Subscribe(topic string, handler Handler) error {
	c.mu.Lock()
	_, had := c.handlers[topic]
	c.handlers[topic] = append(c.handlers[topic], handler)
	conn := c.conn
	c.mu.Unlock()

	if !had && conn != nil {
		return conn.WriteJSON(wireFrame{Kind: frameSubscribe, Topic: topic})
	}
	return nil
}

// Unsubscribe removes every handler registered for topic.
func (c *Client) Unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.handlers, topic)
	c.mu.Unlock()
}

// Close stops the receive loop and closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}

func (c *Client) run() {
	defer c.wg.Done()

	backoff := time.Second
	first := true
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		conn, _, err := c.dialer.Dial(c.url, c.header)
		if err != nil {
			c.log.WithField("error", err).Warn("pubsub: dial failed, retrying")
			if !c.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second
		if !first {
			c.metrics.RecordBusReconnect()
		}
		first = false

		c.mu.Lock()
		c.conn = conn
		topics := make([]string, 0, len(c.handlers))
		for t := range c.handlers {
			topics = append(topics, t)
		}
		c.mu.Unlock()

		for _, t := range topics {
			_ = conn.WriteJSON(wireFrame{Kind: frameSubscribe, Topic: t})
		}

		c.receiveUntilClosed(conn)

		c.mu.Lock()
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
	}
}

func (c *Client) receiveUntilClosed(conn *websocket.Conn) {
	for {
		var frame wireFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Kind != frameDeliver {
			continue
		}
		if frame.Envelope.Sender == c.name {
			continue // self-echo suppression
		}

		c.mu.RLock()
		handlers := append([]Handler(nil), c.handlers[frame.Topic]...)
		c.mu.RUnlock()

		for _, h := range handlers {
			h(c.ctx, frame.Envelope)
		}
	}
}

func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	next := d * 2
	if next > 30*time.Second {
		return 30 * time.Second
	}
	return next
}

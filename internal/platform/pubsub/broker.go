package pubsub

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/bishopdynamics/NetbootStudioV2/pkg/logger"
)

// BrokerConfig is the server side of ClientConfig: the same TLS/Basic-Auth
// material, plus the listen address and certificate pair (§6.3 "CA/cert
// chain from the certs directory").
type BrokerConfig struct {
	Addr     string
	Username string
	Password string
	CertFile string
	KeyFile  string
}

// Broker is the TLS-secured, username/password authenticated topic broker
// (§4.1, §6.3) that every process's pubsub.Client connects to. It forwards
// each delivered envelope to every other connection subscribed to the
// envelope's topic; ordering within one topic is preserved per subscriber
// (§5), but there is no ordering guarantee across topics.
type Broker struct {
	cfg      BrokerConfig
	log      *logger.Logger
	upgrader websocket.Upgrader
	server   *http.Server

	mu    sync.RWMutex
	conns map[*brokerConn]map[string]bool // conn -> subscribed topics
}

type brokerConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes to conn
}

// NewBroker constructs a Broker; call Start to begin listening.
func NewBroker(cfg BrokerConfig, log *logger.Logger) *Broker {
	return &Broker{
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		conns:    make(map[*brokerConn]map[string]bool),
	}
}

// Name identifies this service to the lifecycle Manager.
func (b *Broker) Name() string { return "pubsub-broker" }

// Start begins serving TLS websocket connections on cfg.Addr.
func (b *Broker) Start(ctx context.Context) error {
	cert, err := tls.LoadX509KeyPair(b.cfg.CertFile, b.cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("pubsub: load broker certificate: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/bus", b.handleUpgrade)

	b.server = &http.Server{
		Addr:      b.cfg.Addr,
		Handler:   mux,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	}

	ln, err := tls.Listen("tcp", b.cfg.Addr, b.server.TLSConfig)
	if err != nil {
		return fmt.Errorf("pubsub: listen %s: %w", b.cfg.Addr, err)
	}

	go func() {
		if err := b.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			b.log.WithField("error", err).Error("pubsub: broker serve failed")
		}
	}()

	b.log.WithField("addr", b.cfg.Addr).Info("pubsub: broker listening")
	return nil
}

// Stop closes the listener and every active connection.
func (b *Broker) Stop(ctx context.Context) error {
	if b.server == nil {
		return nil
	}

	b.mu.Lock()
	for c := range b.conns {
		_ = c.conn.Close()
	}
	b.conns = make(map[*brokerConn]map[string]bool)
	b.mu.Unlock()

	return b.server.Shutdown(ctx)
}

func (b *Broker) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !b.checkBasicAuth(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="netbootd-bus"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.WithField("error", err).Warn("pubsub: upgrade failed")
		return
	}

	bc := &brokerConn{conn: conn}
	b.mu.Lock()
	b.conns[bc] = make(map[string]bool)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, bc)
		b.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var frame wireFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Kind {
		case frameSubscribe:
			b.mu.Lock()
			b.conns[bc][frame.Topic] = true
			b.mu.Unlock()
		case frameDeliver:
			b.fanOut(bc, frame)
		}
	}
}

// fanOut forwards frame to every connection subscribed to frame.Topic,
// including the sender (self-echo suppression happens client-side by
// Sender comparison, per the bus contract in §4.1).
func (b *Broker) fanOut(from *brokerConn, frame wireFrame) {
	b.mu.RLock()
	targets := make([]*brokerConn, 0, len(b.conns))
	for c, topics := range b.conns {
		if topics[frame.Topic] {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range targets {
		c.mu.Lock()
		err := c.conn.WriteJSON(frame)
		c.mu.Unlock()
		if err != nil {
			b.log.WithField("error", err).Debug("pubsub: delivery failed, connection will be reaped")
		}
	}
}

func (b *Broker) checkBasicAuth(r *http.Request) bool {
	if b.cfg.Username == "" && b.cfg.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(b.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(b.cfg.Password)) == 1
	return userOK && passOK
}

package comet

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultSubprotocol is negotiated on every websocket handshake.
	DefaultSubprotocol = "v2.json"
	// DefaultPath is the websocket path on the gateway address.
	DefaultPath = "/ws"
	// DefaultExtraQuery carries the fixed handshake parameters after the token.
	DefaultExtraQuery = "a=1&b=2&c=3"
	// DefaultNotifyBuffer is the initial capacity of a connection's dispatch
	// queue. The queue grows past it; each further multiple is logged.
	DefaultNotifyBuffer = 64
)

// Target is a resolved gateway address and its short-lived token.
type Target struct {
	Address string
	Token   string
}

// Handler receives the params of a notification and the session it arrived on.
type Handler func(params json.RawMessage, s *Session)

// Callbacks represents session lifecycle hooks.
type Callbacks struct {
	OnConnected    func(conn *Conn)
	OnDisconnected func(err error)
	OnError        func(err error)
}

// Config represents a session config.
type Config struct {
	Resolver         Resolver
	Subprotocol      string
	Path             string
	ExtraQuery       string
	HandshakeTimeout time.Duration
	NotifyBuffer     int
	// Redial lets Connect start a fresh attempt after a live connection failed.
	// Without it the session stays failed.
	Redial bool

	Dialer     *websocket.Dialer
	Registerer prometheus.Registerer
	Namespace  string
}

func normalizeConfig(cfg Config) Config {
	if cfg.Subprotocol == "" {
		cfg.Subprotocol = DefaultSubprotocol
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.ExtraQuery == "" {
		cfg.ExtraQuery = DefaultExtraQuery
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 45 * time.Second
	}
	if cfg.NotifyBuffer <= 0 {
		cfg.NotifyBuffer = DefaultNotifyBuffer
	}
	return cfg
}

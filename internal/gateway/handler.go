// Package gateway is a development comet gateway: it issues connection
// tokens, accepts websocket connections speaking the comet envelope and runs
// a small chat service on top of them.
package gateway

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/saker-ai/cometrpc/internal/group"
	"github.com/saker-ai/cometrpc/internal/metrics"
	"github.com/saker-ai/cometrpc/internal/protocol"
	"github.com/saker-ai/cometrpc/internal/transport/comet/codec"
)

const writeWait = 5 * time.Second

// Options represents the gateway settings.
type Options struct {
	AdvertiseAddr string
	TokenTTL      time.Duration
	Subprotocol   string
	Registerer    prometheus.Registerer
	Namespace     string
}

// Handler serves the token endpoint and the websocket endpoint.
type Handler struct {
	logger   *zap.Logger
	opts     Options
	upgrader websocket.Upgrader
	tokens   *TokenIssuer
	rooms    *group.Manager
	metrics  *metrics.Gateway
	methods  map[string]methodHandler

	mu    sync.Mutex
	conns map[string]*conn
	names map[string]*conn
}

type conn struct {
	id       string
	deviceID string
	ws       *websocket.Conn
	sendMu   sync.Mutex
	logger   *zap.Logger
	handler  *Handler

	// name is guarded by handler.mu.
	name string
}

// NewHandler creates a gateway handler.
func NewHandler(logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Subprotocol == "" {
		opts.Subprotocol = "v2.json"
	}
	h := &Handler{
		logger:  logger,
		opts:    opts,
		tokens:  NewTokenIssuer(opts.TokenTTL),
		rooms:   group.NewManager(),
		metrics: metrics.NewGateway(opts.Registerer, opts.Namespace),
		conns:   make(map[string]*conn),
		names:   make(map[string]*conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{opts.Subprotocol},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	h.methods = h.methodTable()
	return h
}

// IssueToken creates a bootstrap response for a client identity.
func (h *Handler) IssueToken(appID string, deviceID string) protocol.TokenResponse {
	token, expireAt := h.tokens.Issue(appID, deviceID)
	h.metrics.TokenIssued()
	h.logger.Debug("gateway token issued",
		zap.String("app_id", appID),
		zap.String("device_id", deviceID),
		zap.Time("expire_at", expireAt),
	)
	return protocol.TokenResponse{
		Addresses: []string{h.opts.AdvertiseAddr},
		Token:     token,
		ExpireAt:  expireAt.UnixMilli(),
	}
}

// Handle upgrades a request carrying a valid token and serves the connection
// until it closes.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.tokens.Redeem(r.URL.Query().Get("tok"))
	if !ok {
		h.logger.Info("gateway rejected token", zap.String("remote", r.RemoteAddr))
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("gateway upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	c := &conn{
		id:       uuid.NewString(),
		deviceID: deviceID,
		ws:       ws,
		logger:   h.logger,
		handler:  h,
	}
	h.register(c)
	defer h.unregister(c)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.logger.Debug("gateway connection closed",
				zap.String("conn_id", c.id),
				zap.Error(err),
			)
			return
		}
		h.handleFrame(c, data)
	}
}

// Connections returns the number of open connections.
func (h *Handler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll drops every open connection.
func (h *Handler) CloseAll() {
	for _, c := range h.everyone() {
		_ = c.ws.Close()
	}
}

func (h *Handler) handleFrame(c *conn, data []byte) {
	_, msg, err := codec.Decode(data)
	if err != nil {
		c.logger.Warn("gateway frame dropped", zap.String("conn_id", c.id), zap.Error(err))
		return
	}
	if msg.IsNotification() {
		c.logger.Debug("gateway ignored client notification",
			zap.String("conn_id", c.id),
			zap.String("method", msg.Method),
		)
		return
	}

	result, errBody := h.dispatch(c, msg)
	if errBody != nil {
		h.metrics.Request(msg.Method, metrics.StatusRemoteError)
		err = c.replyError(msg.ID, errBody)
	} else {
		h.metrics.Request(msg.Method, metrics.StatusOK)
		err = c.reply(msg.ID, result)
	}
	if err != nil {
		c.logger.Warn("gateway reply failed",
			zap.String("conn_id", c.id),
			zap.Uint64("seq_id", msg.ID),
			zap.Error(err),
		)
	}
}

func (h *Handler) register(c *conn) {
	h.mu.Lock()
	c.name = h.randNameLocked()
	h.conns[c.id] = c
	h.names[c.name] = c
	name := c.name
	h.mu.Unlock()

	h.rooms.RegisterClient(c.id)
	h.metrics.ConnectionOpened()
	c.logger.Info("gateway connection opened",
		zap.String("conn_id", c.id),
		zap.String("device_id", c.deviceID),
		zap.String("name", name),
	)

	_ = c.notify(protocol.NoticeHello, protocol.HelloNotice{Name: name})
	h.broadcast(h.everyone(), protocol.NoticeGreet, protocol.PresenceNotice{Name: name, Time: timestamp()})
}

func (h *Handler) unregister(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	delete(h.names, c.name)
	name := c.name
	h.mu.Unlock()
	if !ok {
		return
	}

	h.rooms.RemoveClient(c.id)
	h.metrics.ConnectionClosed()
	h.broadcast(h.everyone(), protocol.NoticeGoodbye, protocol.PresenceNotice{Name: name, Time: timestamp()})
}

func (h *Handler) everyone() []*conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

func (h *Handler) lookup(ids []string) []*conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*conn, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (h *Handler) broadcast(targets []*conn, method string, params any) {
	for _, c := range targets {
		if err := c.notify(method, params); err != nil {
			c.logger.Debug("gateway notify failed",
				zap.String("conn_id", c.id),
				zap.String("method", method),
				zap.Error(err),
			)
		}
	}
}

func (h *Handler) randNameLocked() string {
	var suffix string
	for {
		name := animals[rand.Intn(len(animals))] + suffix
		if _, taken := h.names[name]; !taken {
			return name
		}
		suffix += strconv.Itoa(rand.Intn(1000000))
	}
}

func (c *conn) displayName() string {
	c.handler.mu.Lock()
	defer c.handler.mu.Unlock()
	return c.name
}

func (c *conn) notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	if err := c.write(codec.Message{Method: method, Params: raw}); err != nil {
		return err
	}
	c.handler.metrics.NotificationSent()
	return nil
}

func (c *conn) reply(id uint64, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.write(codec.Message{ID: id, Result: raw})
}

func (c *conn) replyError(id uint64, body *protocol.ErrorBody) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.write(codec.Message{ID: id, Error: raw})
}

func (c *conn) write(msg codec.Message) error {
	frame, err := codec.Pack(msg.ID, msg)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func timestamp() int64 {
	return time.Now().UnixMilli()
}

var animals = [...]string{
	"albatross", "alpaca", "badger", "beaver", "bison", "camel", "caribou",
	"cheetah", "cobra", "coyote", "crane", "dingo", "dolphin", "eagle",
	"falcon", "ferret", "gazelle", "gecko", "heron", "ibex", "jackal",
	"koala", "lemur", "llama", "lynx", "marmot", "narwhal", "ocelot",
	"otter", "panda", "pelican", "puffin", "quail", "raven", "seal",
	"tapir", "walrus", "wombat", "yak", "zebra",
}

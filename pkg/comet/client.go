package comet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/saker-ai/cometrpc/internal/metrics"
	"github.com/saker-ai/cometrpc/internal/session/fsm"
	"github.com/saker-ai/cometrpc/internal/transport/comet/codec"
)

const tracerName = "github.com/saker-ai/cometrpc/pkg/comet"

// Conn is an established gateway connection.
type Conn struct {
	ws       *websocket.Conn
	target   Target
	openedAt time.Time
	inbox    *inbox
	writeMu  sync.Mutex
}

// Target returns the target the connection was dialed with.
func (c *Conn) Target() Target { return c.target }

// Subprotocol returns the negotiated websocket subprotocol.
func (c *Conn) Subprotocol() string { return c.ws.Subprotocol() }

// OpenedAt returns when the handshake completed.
func (c *Conn) OpenedAt() time.Time { return c.openedAt }

func (c *Conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

type attempt struct {
	done chan struct{}
	conn *Conn
	err  error
}

// Session represents a multiplexed RPC session over one gateway connection.
type Session struct {
	cfg       Config
	logger    *zap.Logger
	callbacks Callbacks
	metrics   *metrics.Client
	tracer    trace.Tracer
	dialer    *websocket.Dialer

	mu      sync.Mutex
	machine *fsm.Machine
	attempt *attempt
	conn    *Conn
	closed  bool
	failure error
	seq     uint64
	pending map[uint64]*Future

	handlersMu sync.RWMutex
	handlers   map[string][]Handler
	// dispatching counts handlers currently running.
	dispatching atomic.Int32
}

// NewSession creates an unconnected session. Nothing is dialed until the
// first Connect or Call.
func NewSession(cfg Config, callbacks Callbacks, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = normalizeConfig(cfg)

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	if len(dialer.Subprotocols) == 0 {
		clone := *dialer
		clone.Subprotocols = []string{cfg.Subprotocol}
		dialer = &clone
	}

	return &Session{
		cfg:       cfg,
		logger:    logger,
		callbacks: callbacks,
		metrics:   metrics.NewClient(cfg.Registerer, cfg.Namespace),
		tracer:    otel.Tracer(tracerName),
		dialer:    dialer,
		machine:   fsm.New(),
		pending:   make(map[uint64]*Future),
		handlers:  make(map[string][]Handler),
	}
}

// State returns the connection state.
func (s *Session) State() fsm.State {
	return s.machine.State()
}

// Pending returns the number of requests awaiting a reply.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Handle registers h for notifications of method. Handlers run in
// registration order on the connection's dispatch goroutine, which also
// completes replies, so a reply received after a notification resolves only
// once that notification's handlers return. A handler may issue calls and wait
// for them; it must not wait on a future created before it started.
func (s *Session) Handle(method string, h Handler) {
	if h == nil {
		return
	}
	s.handlersMu.Lock()
	s.handlers[method] = append(s.handlers[method], h)
	s.handlersMu.Unlock()
}

// Connect returns the live connection, establishing it on first use.
// Concurrent callers share a single attempt.
func (s *Session) Connect(ctx context.Context) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.conn != nil {
		conn := s.conn
		s.mu.Unlock()
		return conn, nil
	}
	a := s.attempt
	if a == nil {
		if s.failure != nil && !s.cfg.Redial {
			err := s.failureLocked()
			s.mu.Unlock()
			return nil, err
		}
		if err := s.machine.OnDial(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		s.failure = nil
		a = &attempt{done: make(chan struct{})}
		s.attempt = a
		go s.establish(context.WithoutCancel(ctx), a)
	}
	s.mu.Unlock()

	select {
	case <-a.done:
		return a.conn, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call sends a request and waits for its reply. A reply carrying an error
// value is returned as *RemoteError.
func (s *Session) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, span := s.tracer.Start(ctx, "comet.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("comet.method", method)),
	)
	defer span.End()

	f, err := s.Go(ctx, method, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("comet.seq_id", int64(f.ID())))

	result, err := f.Wait(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// CallAs sends a request and decodes the reply result into T.
func CallAs[T any](ctx context.Context, s *Session, method string, params any) (T, error) {
	var out T
	raw, err := s.Call(ctx, method, params)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", method, err)
	}
	return out, nil
}

// Go sends a request and returns its future without waiting for the reply.
func (s *Session) Go(ctx context.Context, method string, params any) (*Future, error) {
	conn, err := s.Connect(ctx)
	if err != nil {
		return nil, err
	}
	f, err := s.track(conn, method)
	if errors.Is(err, ErrSessionFailed) && s.cfg.Redial {
		// The connection failed between Connect and registration; send on
		// its replacement.
		if conn, err = s.Connect(ctx); err != nil {
			return nil, err
		}
		f, err = s.track(conn, method)
	}
	if err != nil {
		return nil, err
	}
	id := f.id

	frame, err := codec.Encode(id, method, params)
	if err == nil {
		err = conn.write(frame)
	}
	if err != nil {
		s.release(f, err)
		return nil, err
	}

	s.logger.Debug("comet request sent",
		zap.Uint64("seq_id", id),
		zap.String("method", method),
	)
	return f, nil
}

// Close rejects every pending request with ErrClosed, closes the connection
// and prevents further attempts.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	if conn != nil {
		_ = s.machine.OnFail()
		s.failure = ErrClosed
	}
	pending := s.drainLocked()
	s.mu.Unlock()

	s.rejectAll(pending, ErrClosed)
	if conn == nil {
		return nil
	}
	_ = conn.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.ws.Close()
}

// track allocates the next sequence id and registers a future for it, as
// long as conn is still the live connection.
func (s *Session) track(conn *Conn, method string) (*Future, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		if s.closed || s.failure != nil {
			return nil, s.failureLocked()
		}
		return nil, fmt.Errorf("%w: %w (%s)", ErrSessionFailed, errConnReplaced, conn.target.Address)
	}
	s.seq++
	f := newFuture(s.seq, method, s.release)
	f.direct = s.dispatching.Load() > 0
	s.pending[f.id] = f
	s.metrics.CallStarted()
	return f, nil
}

func (s *Session) establish(ctx context.Context, a *attempt) {
	conn, err := s.dial(ctx)
	s.metrics.Connect(err)

	s.mu.Lock()
	if err == nil && s.closed {
		_ = conn.ws.Close()
		err = ErrClosed
	}
	if err != nil {
		_ = s.machine.OnFail()
		s.attempt = nil
		a.err = err
		s.mu.Unlock()
		close(a.done)

		s.logger.Warn("comet connect failed", zap.Error(err))
		s.reportError(err)
		return
	}
	_ = s.machine.OnOpen()
	s.conn = conn
	s.attempt = nil
	a.conn = conn
	s.mu.Unlock()
	close(a.done)

	go s.dispatchLoop(conn)
	go s.readLoop(conn)

	s.logger.Info("comet connected",
		zap.String("address", conn.target.Address),
		zap.String("subprotocol", conn.Subprotocol()),
	)
	if s.callbacks.OnConnected != nil {
		s.callbacks.OnConnected(conn)
	}
}

func (s *Session) dial(ctx context.Context) (*Conn, error) {
	if s.cfg.Resolver == nil {
		return nil, ErrNoResolver
	}
	target, err := s.cfg.Resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("comet bootstrap: %w", err)
	}

	s.logger.Info("comet connecting", zap.String("address", target.Address))
	ws, resp, err := s.dialer.DialContext(ctx, Endpoint(target, s.cfg.Path, s.cfg.ExtraQuery), nil)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, fmt.Errorf("comet dial %s: %w (status %d)", target.Address, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("comet dial %s: %w", target.Address, err)
	}

	conn := &Conn{
		ws:       ws,
		target:   target,
		openedAt: time.Now(),
		inbox:    newInbox(s.cfg.NotifyBuffer),
	}
	ws.SetPingHandler(func(appData string) error {
		conn.writeMu.Lock()
		defer conn.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	return conn, nil
}

func (s *Session) readLoop(conn *Conn) {
	defer conn.inbox.close()
	for {
		msgType, data, err := conn.ws.ReadMessage()
		if err != nil {
			s.fail(conn, err)
			return
		}
		switch msgType {
		case websocket.TextMessage, websocket.BinaryMessage:
			s.handleFrame(conn, data)
		}
	}
}

func (s *Session) handleFrame(conn *Conn, data []byte) {
	_, msg, err := codec.Decode(data)
	if err != nil {
		s.metrics.Dropped(metrics.DropDecode)
		s.logger.Warn("comet frame dropped", zap.Error(err), zap.Int("bytes", len(data)))
		s.reportError(err)
		return
	}
	if !msg.IsNotification() && s.resolveDirect(msg) {
		return
	}
	if n := conn.inbox.push(msg); n > s.cfg.NotifyBuffer && (n-1)%s.cfg.NotifyBuffer == 0 {
		s.logger.Warn("comet dispatch backlog growing", zap.Int("queued", n))
	}
}

// resolveDirect completes a reply on the read goroutine when its request was
// issued while a handler was running. Such a handler may be blocked on the
// reply, so it cannot wait its turn in the inbox.
func (s *Session) resolveDirect(msg codec.Message) bool {
	s.mu.Lock()
	f, ok := s.pending[msg.ID]
	if !ok || !f.direct {
		s.mu.Unlock()
		return false
	}
	delete(s.pending, msg.ID)
	s.mu.Unlock()

	s.finish(f, msg)
	return true
}

func (s *Session) resolveReply(conn *Conn, msg codec.Message) {
	s.mu.Lock()
	f, ok := s.pending[msg.ID]
	if ok {
		delete(s.pending, msg.ID)
	}
	live := s.conn == conn
	s.mu.Unlock()

	if !ok {
		if !live {
			// Rejected when the connection failed.
			s.logger.Debug("comet reply after disconnect", zap.Uint64("seq_id", msg.ID))
			return
		}
		s.metrics.Dropped(metrics.DropUnknownReply)
		err := fmt.Errorf("%w: id %d", ErrUnknownReply, msg.ID)
		s.logger.Warn("comet reply dropped", zap.Uint64("seq_id", msg.ID), zap.String("method", msg.Method))
		s.reportError(err)
		return
	}
	s.finish(f, msg)
}

func (s *Session) finish(f *Future, msg codec.Message) {
	elapsed := time.Since(f.started)
	if msg.HasError() {
		s.metrics.CallFinished(f.method, metrics.StatusRemoteError, elapsed)
		f.complete(nil, &RemoteError{ID: msg.ID, Method: f.method, Data: msg.Error})
		return
	}
	s.metrics.CallFinished(f.method, metrics.StatusOK, elapsed)
	f.complete(msg.Result, nil)
}

// dispatchLoop handles notifications and completes replies in the order they
// were read from the socket.
func (s *Session) dispatchLoop(conn *Conn) {
	for {
		msg, ok := conn.inbox.next()
		if !ok {
			return
		}
		if msg.IsNotification() {
			s.dispatchNotification(msg)
			continue
		}
		s.resolveReply(conn, msg)
	}
}

func (s *Session) dispatchNotification(msg codec.Message) {
	s.handlersMu.RLock()
	handlers := append([]Handler(nil), s.handlers[msg.Method]...)
	s.handlersMu.RUnlock()

	if len(handlers) == 0 {
		s.metrics.Dropped(metrics.DropNoHandler)
		s.logger.Warn("comet notification dropped", zap.String("method", msg.Method))
		s.reportError(fmt.Errorf("%w: %s", ErrNoHandler, msg.Method))
		return
	}
	s.metrics.Notification(msg.Method)
	s.dispatching.Add(1)
	defer s.dispatching.Add(-1)
	for _, h := range handlers {
		h(msg.Params, s)
	}
}

// fail tears down a live connection after a transport error.
func (s *Session) fail(conn *Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.failure = err
	_ = s.machine.OnFail()
	pending := s.drainLocked()
	s.mu.Unlock()

	_ = conn.ws.Close()
	s.rejectAll(pending, err)

	s.logger.Warn("comet connection lost",
		zap.Error(err),
		zap.Int("rejected", len(pending)),
	)
	if s.callbacks.OnDisconnected != nil {
		s.callbacks.OnDisconnected(err)
	}
}

// release removes f from the pending table and completes it with cause.
// It reports false when someone else already removed it.
func (s *Session) release(f *Future, cause error) bool {
	s.mu.Lock()
	current, ok := s.pending[f.id]
	if !ok || current != f {
		s.mu.Unlock()
		return false
	}
	delete(s.pending, f.id)
	s.mu.Unlock()

	status := metrics.StatusTransport
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		status = metrics.StatusCanceled
	}
	s.metrics.CallFinished(f.method, status, time.Since(f.started))
	f.complete(nil, cause)
	return true
}

func (s *Session) drainLocked() map[uint64]*Future {
	pending := s.pending
	s.pending = make(map[uint64]*Future)
	return pending
}

func (s *Session) rejectAll(pending map[uint64]*Future, err error) {
	for _, f := range pending {
		s.metrics.CallFinished(f.method, metrics.StatusTransport, time.Since(f.started))
		f.complete(nil, err)
	}
}

func (s *Session) failureLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.failure != nil {
		return fmt.Errorf("%w: %w", ErrSessionFailed, s.failure)
	}
	return ErrSessionFailed
}

func (s *Session) reportError(err error) {
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
}

package server

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vango-dev/socksync/pkg/group"
	"github.com/vango-dev/socksync/pkg/protocol"
)

// Conn is one WebSocket peer. It implements group.Connection.
type Conn struct {
	id string

	// RemoteAddr is the client address after chi's RealIP rewrite.
	RemoteAddr string

	// RequestID is the id chi assigned to the upgrade request.
	RequestID string

	// Connected is when the socket was accepted.
	Connected time.Time

	ws       *websocket.Conn
	config   *ConnConfig
	limiter  *rate.Limiter
	dispatch DispatchFunc
	metrics  *MetricsCollector
	logger   *slog.Logger

	queue chan []byte
	done  chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
	finished  chan struct{}
	onClose   func(*Conn)

	lastActive atomic.Int64 // unix nanos

	subMu sync.RWMutex
	subs  map[string]group.Group

	messagesIn  atomic.Uint64
	messagesOut atomic.Uint64
	errorsSent  atomic.Uint64
}

// newConn wraps ws. dispatch handles every decoded inbound message.
func newConn(ws *websocket.Conn, config *ConnConfig, dispatch DispatchFunc, metrics *MetricsCollector, logger *slog.Logger) *Conn {
	id := uuid.NewString()
	c := &Conn{
		id:        id,
		Connected: time.Now(),
		ws:        ws,
		config:    config,
		dispatch:  dispatch,
		metrics:   metrics,
		logger:    logger.With("conn_id", id),
		queue:     make(chan []byte, config.SendQueueSize),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		subs:      make(map[string]group.Group),
	}
	if config.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.MessagesPerSecond), config.MessageBurst)
	}
	c.touch()
	return c
}

// ID implements group.Connection.
func (c *Conn) ID() string {
	return c.id
}

// Send implements group.Connection. It encodes msg and queues it for the
// write loop without blocking. When the queue is full the connection is
// closed with ErrSendQueueFull.
func (c *Conn) Send(msg protocol.Message) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return NewConnError(c.id, "encode", err)
	}
	if msg.IsError() {
		c.errorsSent.Add(1)
	}

	select {
	case c.queue <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.logger.Warn("send queue full, closing connection", "queue_size", cap(c.queue))
		c.closeWithError(ErrSendQueueFull)
		return NewConnError(c.id, "send", ErrSendQueueFull)
	}
}

// IsSubscribed implements group.Connection.
func (c *Conn) IsSubscribed(g group.Group) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	sub, ok := c.subs[g.Name()]
	return ok && sub == g
}

// SendNameError implements group.Connection.
func (c *Conn) SendNameError(groupType group.Kind, groupName, itemID string) {
	_ = c.Send(protocol.NameError(string(groupType), groupName, itemID))
}

// SendGeneralError implements group.Connection.
func (c *Conn) SendGeneralError(message string) {
	_ = c.Send(protocol.GeneralError(message))
}

// sendCoded reports a transport-level failure to the peer.
func (c *Conn) sendCoded(code protocol.ErrorCode, message string) {
	_ = c.Send(protocol.CodedError(code, message))
}

// Subscribe adds g to the connection's subscriptions and subscribes the
// connection to g.
func (c *Conn) Subscribe(g group.Group) {
	c.subMu.Lock()
	c.subs[g.Name()] = g
	c.subMu.Unlock()
	g.Subscribe(c)
}

// Unsubscribe reverses Subscribe.
func (c *Conn) Unsubscribe(g group.Group) {
	c.subMu.Lock()
	delete(c.subs, g.Name())
	c.subMu.Unlock()
	g.Unsubscribe(c)
}

// Subscriptions returns the names of the subscribed groups.
func (c *Conn) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	names := make([]string, 0, len(c.subs))
	for name := range c.subs {
		names = append(names, name)
	}
	return names
}

// unsubscribeAll removes the connection from every subscribed group.
func (c *Conn) unsubscribeAll() {
	c.subMu.Lock()
	subs := c.subs
	c.subs = make(map[string]group.Group)
	c.subMu.Unlock()

	for _, g := range subs {
		g.Unsubscribe(c)
	}
}

// LastActive returns the time of the last inbound message or pong.
func (c *Conn) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Conn) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// ErrorsSent returns the number of error messages queued to the peer.
func (c *Conn) ErrorsSent() uint64 {
	return c.errorsSent.Load()
}

// Stats returns message counters for this connection.
func (c *Conn) Stats() (in, out uint64) {
	return c.messagesIn.Load(), c.messagesOut.Load()
}

// Done is closed when the connection starts closing.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection closed, or nil.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// IsClosed reports whether the connection is closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Close closes the connection.
func (c *Conn) Close() {
	c.closeWithError(nil)
}

// closeWithError marks the connection closed and signals both loops. It
// never blocks and takes no group locks, so it is safe to call from Send.
func (c *Conn) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		c.closed.Store(true)
		close(c.done)
	})
}

// start runs both loops. ctx is passed to dispatch and cancels the read
// loop when done.
func (c *Conn) start(ctx context.Context) {
	go c.writeLoop()
	go c.readLoop(ctx)
}

// readLoop reads and dispatches messages until the socket fails or closes.
func (c *Conn) readLoop(ctx context.Context) {
	defer c.finish()
	defer c.closeWithError(nil)

	stop := context.AfterFunc(ctx, func() { c.closeWithError(ErrServerShutdown) })
	defer stop()

	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.touch()
		return c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) && !c.closed.Load() {
				c.logger.Error("read error", "error", err)
				c.metrics.RecordReadError()
			}
			return
		}

		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		c.touch()
		c.messagesIn.Add(1)
		c.metrics.RecordMessageReceived(len(data))

		if mt != websocket.TextMessage {
			c.sendCoded(protocol.ErrInvalidMessage, "binary frames are not supported")
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.metrics.RecordRateLimited()
			c.logger.Debug("rate limited")
			c.sendCoded(protocol.ErrRateLimited, "rate limited")
			continue
		}

		msg, err := protocol.DecodeWithLimits(data, c.config.limits())
		if err != nil {
			c.metrics.RecordDecodeError()
			c.logger.Debug("decode error", "error", err)
			c.sendCoded(protocol.ErrInvalidMessage, err.Error())
			continue
		}

		c.handle(ctx, msg)
	}
}

// handle dispatches msg and sends the reply, if any, back to the peer.
func (c *Conn) handle(ctx context.Context, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.RecordDispatchPanic()
			c.logger.Error("dispatch panic",
				"type", msg.Type(),
				"name", msg.Name(),
				"func", msg.Func(),
				"panic", r,
				"stack", string(debug.Stack()))
			c.sendCoded(protocol.ErrServerError, "internal error")
		}
	}()

	reply := c.dispatch(ctx, c, msg)
	if reply != nil {
		if err := c.Send(reply); err != nil && !errors.Is(err, ErrConnClosed) {
			c.logger.Debug("reply failed", "error", err)
		}
	}
}

// writeLoop drains the send queue and sends pings. It owns all writes to
// the socket and closes it on exit.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.queue:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.metrics.RecordWriteError()
				c.logger.Debug("write error", "error", err)
				c.closeWithError(NewConnError(c.id, "write", err))
				return
			}
			c.messagesOut.Add(1)
			c.metrics.RecordMessageSent(len(data))

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.closeWithError(NewConnError(c.id, "ping", err))
				return
			}

		case <-c.done:
			c.flush()
			code, text := closeCode(c.closeErr)
			deadline := time.Now().Add(c.config.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
			return
		}
	}
}

// flush writes whatever is still queued, best effort.
func (c *Conn) flush() {
	if errors.Is(c.closeErr, ErrSendQueueFull) {
		return
	}
	for {
		select {
		case data := <-c.queue:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
			c.messagesOut.Add(1)
			c.metrics.RecordMessageSent(len(data))
		default:
			return
		}
	}
}

func (c *Conn) write(messageType int, data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.ws.WriteMessage(messageType, data)
}

// finish runs the close hook once the read loop has exited.
func (c *Conn) finish() {
	c.unsubscribeAll()
	if c.onClose != nil {
		c.onClose(c)
	}
	close(c.finished)
}

func closeCode(err error) (int, string) {
	switch {
	case err == nil:
		return websocket.CloseNormalClosure, ""
	case errors.Is(err, ErrServerShutdown):
		return websocket.CloseGoingAway, "server shutting down"
	case errors.Is(err, ErrSendQueueFull):
		return websocket.ClosePolicyViolation, "send queue full"
	case errors.Is(err, ErrIdleTimeout):
		return websocket.CloseNormalClosure, "idle timeout"
	default:
		return websocket.CloseInternalServerErr, ""
	}
}

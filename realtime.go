package wetty

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// RealtimeState represents the push-channel connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
)

const (
	// DefaultReconnectDelay is the fixed delay between connection attempts.
	// There is no backoff and no retry cap; the client retries until closed.
	DefaultReconnectDelay = 5 * time.Second
	// DefaultPingInterval is the keepalive cadence while connected.
	DefaultPingInterval = 10 * time.Second
	// DefaultMissedPongLimit is how many keepalive intervals may pass without
	// a pong before the connection is treated as half-open and torn down.
	DefaultMissedPongLimit = 3
)

// RealtimeConfig configures the push-channel client. Zero values take the
// package defaults.
type RealtimeConfig struct {
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	// MissedPongLimit < 0 disables half-open detection entirely.
	MissedPongLimit int
	Logger          *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.MissedPongLimit == 0 {
		c.MissedPongLimit = DefaultMissedPongLimit
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RealtimeClient maintains exactly one live push connection, transparently
// recovering from failures. The channel is receive-only for application data;
// the only outbound traffic is the keepalive ping. All mutating actions go
// through the request/response Client instead.
type RealtimeClient struct {
	wsURL string
	cfg   RealtimeConfig
	log   *slog.Logger

	onEnvelope     func(Envelope)
	onConnectivity func(connected bool)

	mu       sync.Mutex
	state    RealtimeState
	conn     *websocket.Conn
	cancel   context.CancelFunc
	retry    *time.Timer
	baseCtx  context.Context
	gen      uint64
	lastPong time.Time
	closed   bool
}

// NewRealtimeClient creates a push-channel client for the given WebSocket
// URL. Handlers must be registered before Connect.
func NewRealtimeClient(wsURL string, cfg RealtimeConfig) *RealtimeClient {
	cfg.defaults()
	return &RealtimeClient{
		wsURL: wsURL,
		cfg:   cfg,
		log:   cfg.Logger,
		state: StateDisconnected,
	}
}

// OnEnvelope registers the handler for recognized application frames.
func (rc *RealtimeClient) OnEnvelope(fn func(Envelope)) {
	rc.mu.Lock()
	rc.onEnvelope = fn
	rc.mu.Unlock()
}

// OnConnectivity registers the handler for connected/disconnected changes.
func (rc *RealtimeClient) OnConnectivity(fn func(connected bool)) {
	rc.mu.Lock()
	rc.onConnectivity = fn
	rc.mu.Unlock()
}

// State returns the current connection state.
func (rc *RealtimeClient) State() RealtimeState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// Connected reports whether the push channel is live.
func (rc *RealtimeClient) Connected() bool {
	return rc.State() == StateConnected
}

// ReconnectPending reports whether a retry timer is armed.
func (rc *RealtimeClient) ReconnectPending() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.retry != nil
}

// Connect starts maintaining the connection until Close. Any existing socket
// is forcibly discarded first and any pending retry timer cancelled, so at
// most one connection attempt is ever in flight.
func (rc *RealtimeClient) Connect(ctx context.Context) {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return
	}
	rc.baseCtx = ctx
	if rc.retry != nil {
		rc.retry.Stop()
		rc.retry = nil
	}
	if rc.cancel != nil {
		rc.cancel()
		rc.cancel = nil
	}
	old := rc.conn
	rc.conn = nil
	rc.gen++
	gen := rc.gen
	rc.state = StateConnecting
	rc.mu.Unlock()

	if old != nil {
		old.Close(websocket.StatusNormalClosure, "superseded")
	}
	go rc.dial(ctx, gen)
}

// Close tears the connection down for good: pending timers are cancelled and
// no reconnect is attempted.
func (rc *RealtimeClient) Close() {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return
	}
	rc.closed = true
	if rc.retry != nil {
		rc.retry.Stop()
		rc.retry = nil
	}
	if rc.cancel != nil {
		rc.cancel()
		rc.cancel = nil
	}
	conn := rc.conn
	rc.conn = nil
	rc.state = StateDisconnected
	rc.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client closed")
	}
}

func (rc *RealtimeClient) dial(ctx context.Context, gen uint64) {
	conn, _, err := websocket.Dial(ctx, rc.wsURL, nil)

	rc.mu.Lock()
	if rc.closed || gen != rc.gen {
		rc.mu.Unlock()
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "superseded")
		}
		return
	}
	if err != nil {
		rc.scheduleReconnectLocked()
		rc.mu.Unlock()
		rc.log.Debug("wetty: connect failed, will retry", "error", err, "delay", rc.cfg.ReconnectDelay)
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	rc.conn = conn
	rc.cancel = cancel
	rc.state = StateConnected
	rc.lastPong = time.Now()
	rc.mu.Unlock()

	rc.log.Debug("wetty: push channel connected")
	rc.emitConnectivity(true)

	go rc.readLoop(connCtx, conn, gen)
	go rc.pingLoop(connCtx, conn)
}

func (rc *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rc.connectionLost(gen, err)
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil || env.Type == "" {
			rc.log.Debug("wetty: dropping malformed frame")
			continue
		}

		switch env.Type {
		case FramePong:
			rc.mu.Lock()
			rc.lastPong = time.Now()
			rc.mu.Unlock()
		case FrameMessage, FrameMessageUpdated, FrameMessageDeleted:
			rc.mu.Lock()
			fn := rc.onEnvelope
			rc.mu.Unlock()
			if fn != nil {
				fn(env)
			}
		default:
			rc.log.Debug("wetty: dropping unknown frame", "type", env.Type)
		}
	}
}

func (rc *RealtimeClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rc.cfg.PingInterval)
	defer ticker.Stop()

	ping, _ := json.Marshal(Envelope{Type: "ping"})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rc.cfg.MissedPongLimit > 0 {
				rc.mu.Lock()
				silent := time.Since(rc.lastPong)
				rc.mu.Unlock()
				if silent > time.Duration(rc.cfg.MissedPongLimit)*rc.cfg.PingInterval {
					rc.log.Warn("wetty: no pong received, closing half-open connection", "silent", silent)
					conn.Close(websocket.StatusGoingAway, "keepalive timeout")
					return
				}
			}
			if err := conn.Write(ctx, websocket.MessageText, ping); err != nil {
				// The read loop observes the same failure and drives reconnect.
				return
			}
		}
	}
}

// connectionLost handles transport errors and remote closure. Stale
// generations are ignored so a superseded socket cannot tear down its
// replacement.
func (rc *RealtimeClient) connectionLost(gen uint64, err error) {
	rc.mu.Lock()
	if rc.closed || gen != rc.gen {
		rc.mu.Unlock()
		return
	}
	if rc.cancel != nil {
		rc.cancel()
		rc.cancel = nil
	}
	rc.conn = nil
	rc.scheduleReconnectLocked()
	rc.mu.Unlock()

	rc.log.Debug("wetty: push channel lost", "error", err)
	rc.emitConnectivity(false)
}

// scheduleReconnectLocked arms the fixed-delay retry timer. Caller holds mu.
func (rc *RealtimeClient) scheduleReconnectLocked() {
	rc.state = StateDisconnected
	if rc.retry != nil {
		rc.retry.Stop()
	}
	rc.retry = time.AfterFunc(rc.cfg.ReconnectDelay, func() {
		rc.mu.Lock()
		if rc.closed {
			rc.mu.Unlock()
			return
		}
		rc.retry = nil
		rc.gen++
		gen := rc.gen
		ctx := rc.baseCtx
		rc.state = StateConnecting
		rc.mu.Unlock()
		rc.dial(ctx, gen)
	})
}

func (rc *RealtimeClient) emitConnectivity(connected bool) {
	rc.mu.Lock()
	fn := rc.onConnectivity
	rc.mu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

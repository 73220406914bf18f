package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/integration"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultPongTimeout      = 60 * time.Second
)

// WebSocketAdapter connects to a WebSocket endpoint. Inbound frames flow
// through a read pump to subscribers, sends are text frames with a write
// deadline, and a ping loop keeps the link verified; the pong handler feeds
// both the read deadline and latency probes.
//
// Registered for the "websocket" system type.
type WebSocketAdapter struct {
	*BaseAdapter

	url              string
	bearerToken      string
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	pingInterval     time.Duration
	pongTimeout      time.Duration

	connMu sync.Mutex
	conn   *websocket.Conn
	stopCh chan struct{}
	wg     sync.WaitGroup

	probeMu sync.Mutex
	probe   chan struct{}
}

// NewWebSocketAdapter creates a websocket adapter from its config.
// Recognized connection params: "url" (required; http(s) schemes are
// rewritten to ws(s)), "handshake_timeout", "write_timeout",
// "ping_interval" and "pong_timeout" (durations). The auth param
// "bearer_token" is sent as an Authorization header during the handshake.
func NewWebSocketAdapter(cfg *integration.IntegrationConfig, logger *zap.Logger) (*WebSocketAdapter, error) {
	raw := cfg.StringParam("url", "")
	if raw == "" {
		return nil, integration.NewConfigurationError(cfg.ID, "websocket adapter: a url parameter is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, integration.NewConfigurationError(cfg.ID, "websocket adapter: invalid url", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, integration.NewConfigurationError(cfg.ID, "websocket adapter: unsupported url scheme "+u.Scheme, nil)
	}

	pongTimeout := cfg.DurationParam("pong_timeout", defaultPongTimeout)
	return &WebSocketAdapter{
		BaseAdapter:      NewBaseAdapter(cfg, logger),
		url:              u.String(),
		bearerToken:      authString(cfg, "bearer_token"),
		handshakeTimeout: cfg.DurationParam("handshake_timeout", defaultHandshakeTimeout),
		writeTimeout:     cfg.DurationParam("write_timeout", defaultWriteTimeout),
		pingInterval:     cfg.DurationParam("ping_interval", pongTimeout*9/10),
		pongTimeout:      pongTimeout,
	}, nil
}

// Initialize implements integration.Adapter.
func (a *WebSocketAdapter) Initialize(ctx context.Context) error {
	a.setService(integration.ServiceStatusReady)
	return nil
}

// Start implements integration.Adapter.
func (a *WebSocketAdapter) Start(ctx context.Context) error {
	a.setService(integration.ServiceStatusRunning)
	return nil
}

// Stop implements integration.Adapter.
func (a *WebSocketAdapter) Stop(ctx context.Context) error {
	_ = a.Disconnect(ctx)
	a.setService(integration.ServiceStatusOffline)
	return nil
}

// Connect implements integration.Adapter.
func (a *WebSocketAdapter) Connect(ctx context.Context) error {
	a.connMu.Lock()
	defer a.connMu.Unlock()

	if a.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: a.handshakeTimeout}
	header := http.Header{}
	if a.bearerToken != "" {
		header.Set("Authorization", "Bearer "+a.bearerToken)
	}

	conn, resp, err := dialer.DialContext(ctx, a.url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return integration.NewConnectionError(a.ID(), "websocket dial failed", err)
	}

	conn.SetReadDeadline(time.Now().Add(a.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(a.pongTimeout))
		a.signalProbe()
		return nil
	})

	stop := make(chan struct{})
	a.conn = conn
	a.stopCh = stop

	a.wg.Add(2)
	go a.readPump(conn, stop)
	go a.pingLoop(conn, stop)

	a.setConnection(integration.ConnectionStatusConnected)
	return nil
}

// Disconnect implements integration.Adapter.
func (a *WebSocketAdapter) Disconnect(ctx context.Context) error {
	a.connMu.Lock()
	conn := a.conn
	stop := a.stopCh
	a.conn = nil
	a.stopCh = nil
	a.connMu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	a.wg.Wait()

	a.setConnection(integration.ConnectionStatusDisconnected)
	return nil
}

// Reconnect implements integration.Adapter.
func (a *WebSocketAdapter) Reconnect(ctx context.Context) error {
	_ = a.Disconnect(ctx)
	return a.Connect(ctx)
}

// TestConnection implements integration.Adapter by pushing a ping frame.
func (a *WebSocketAdapter) TestConnection(ctx context.Context) (bool, error) {
	conn := a.current()
	if conn == nil {
		return false, nil
	}
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(a.writeTimeout)); err != nil {
		return false, err
	}
	return true, nil
}

// Latency implements integration.Adapter by timing a ping/pong round trip.
func (a *WebSocketAdapter) Latency(ctx context.Context) (time.Duration, error) {
	conn := a.current()
	if conn == nil {
		return 0, integration.NewConnectionError(a.ID(), "websocket adapter is not connected", nil)
	}

	probe := make(chan struct{}, 1)
	a.setProbe(probe)
	defer a.setProbe(nil)

	start := time.Now()
	if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(a.writeTimeout)); err != nil {
		return 0, err
	}

	select {
	case <-probe:
		return time.Since(start), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Health implements integration.Adapter.
func (a *WebSocketAdapter) Health(ctx context.Context) (integration.ServiceHealth, error) {
	return a.health(map[string]any{"url": a.url}), nil
}

// Send implements integration.Adapter by writing the packet envelope as one
// text frame.
func (a *WebSocketAdapter) Send(ctx context.Context, packet *integration.DataPacket, opts integration.SendOptions) error {
	out := a.outbound(packet, opts)
	body, err := json.Marshal(out)
	if err != nil {
		return integration.NewValidationError(a.ID(), "websocket adapter: encoding packet", err)
	}

	timeout := a.sendTimeout(opts, a.writeTimeout)

	a.connMu.Lock()
	conn := a.conn
	if conn == nil {
		a.connMu.Unlock()
		return integration.NewConnectionError(a.ID(), "websocket adapter is not connected", nil)
	}
	conn.SetWriteDeadline(time.Now().Add(timeout))
	err = conn.WriteMessage(websocket.TextMessage, body)
	a.connMu.Unlock()

	if err != nil {
		a.noteError(err)
		return integration.NewCommunicationError(a.ID(), "websocket write failed", err)
	}
	a.markSent()
	return nil
}

func (a *WebSocketAdapter) current() *websocket.Conn {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	return a.conn
}

func (a *WebSocketAdapter) readPump(conn *websocket.Conn, stop <-chan struct{}) {
	defer a.wg.Done()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				// Deliberate disconnect.
			default:
				a.noteError(err)
				a.setConnection(integration.ConnectionStatusError)
				a.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		a.dispatch(context.Background(), inboundPacket(a.ID(), message))
	}
}

func (a *WebSocketAdapter) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(a.writeTimeout)); err != nil {
				a.noteError(err)
				return
			}
		}
	}
}

func (a *WebSocketAdapter) setProbe(probe chan struct{}) {
	a.probeMu.Lock()
	a.probe = probe
	a.probeMu.Unlock()
}

func (a *WebSocketAdapter) signalProbe() {
	a.probeMu.Lock()
	probe := a.probe
	a.probeMu.Unlock()

	if probe != nil {
		select {
		case probe <- struct{}{}:
		default:
		}
	}
}

var _ integration.Adapter = (*WebSocketAdapter)(nil)

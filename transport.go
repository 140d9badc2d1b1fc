package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the abstract bidirectional message-framed connection a
// Client reads and writes whole Messages through.
type Transport interface {
	// ReadMessage blocks until a frame arrives or the transport closes. The
	// websocket implementation does not observe ctx.
	ReadMessage(ctx context.Context) (*Message, error)
	// WriteMessage writes one frame. Implementations must serialize
	// concurrent callers themselves (the client may call this from more than
	// one goroutine — e.g. a user RPC racing an internal resubscribe).
	WriteMessage(ctx context.Context, msg *Message) error
	// Close closes the underlying connection.
	Close() error
	// Closed returns a channel that is closed once the transport has gone
	// down, for any reason (explicit Close, read error, or write error).
	Closed() <-chan struct{}
}

// DialOptions configures a websocketTransport dial. Header lets a caller
// attach arbitrary request headers (e.g. an application-level credential);
// the broker itself validates nothing here — authentication is delegated to
// the transport entirely.
type DialOptions struct {
	Header http.Header
	// HandshakeTimeout bounds the initial dial; zero uses 10 seconds.
	HandshakeTimeout time.Duration
	// KeepaliveInterval sets how often a transport-level WebSocket ping
	// control frame is sent to detect a dead connection faster than waiting
	// on a failed write. Negative disables it; zero uses defaultKeepalive.
	KeepaliveInterval time.Duration
}

// defaultKeepalive matches the 30s heartbeat interval of the hub this dials against.
const defaultKeepalive = 30 * time.Second

// websocketTransport is the default Transport, backed by gorilla/websocket.
type websocketTransport struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	closed     chan struct{}
	closedOnce sync.Once

	pingInterval time.Duration
	pingTicker   *time.Ticker
	stopPing     chan struct{}
}

// DialWebSocket opens a websocketTransport at ws://host[:port]<path> (or
// wss:// when tls is true).
func DialWebSocket(ctx context.Context, host string, port int, path string, tls bool, opts DialOptions) (Transport, error) {
	scheme := "ws"
	if tls {
		scheme = "wss"
	}
	hostPort := host
	if port != 0 {
		hostPort = fmt.Sprintf("%s:%d", host, port)
	}
	u := url.URL{Scheme: scheme, Host: hostPort, Path: path}

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	ws, _, err := dialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		return nil, fmt.Errorf("broker: dial %s: %w", u.String(), err)
	}
	t := newWebsocketTransport(ws)

	keepalive := opts.KeepaliveInterval
	if keepalive == 0 {
		keepalive = defaultKeepalive
	}
	if keepalive > 0 {
		t.startKeepalive(keepalive)
	}
	return t, nil
}

func newWebsocketTransport(ws *websocket.Conn) *websocketTransport {
	t := &websocketTransport{
		ws:       ws,
		closed:   make(chan struct{}),
		stopPing: make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error { return nil })
	return t
}

func (t *websocketTransport) ReadMessage(ctx context.Context) (*Message, error) {
	_, data, err := t.ws.ReadMessage()
	if err != nil {
		t.markClosed()
		return nil, err
	}
	var msg Message
	if err := msg.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (t *websocketTransport) WriteMessage(ctx context.Context, msg *Message) error {
	data, err := msg.MarshalJSON()
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.markClosed()
		return err
	}
	return nil
}

func (t *websocketTransport) Close() error {
	t.stopPingLoop()
	t.markClosed()
	t.writeMu.Lock()
	_ = t.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return t.ws.Close()
}

func (t *websocketTransport) Closed() <-chan struct{} {
	return t.closed
}

func (t *websocketTransport) markClosed() {
	t.closedOnce.Do(func() {
		t.stopPingLoop()
		close(t.closed)
	})
}

// startKeepalive arms transport-level WebSocket ping frames, independent of
// the application-level `ping` Message — this is purely a connection
// liveness mechanism.
func (t *websocketTransport) startKeepalive(interval time.Duration) {
	if interval <= 0 || t.pingTicker != nil {
		return
	}
	t.pingInterval = interval
	t.pingTicker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-t.pingTicker.C:
				t.writeMu.Lock()
				err := t.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
				t.writeMu.Unlock()
				if err != nil {
					t.markClosed()
					return
				}
			case <-t.stopPing:
				return
			case <-t.closed:
				return
			}
		}
	}()
}

func (t *websocketTransport) stopPingLoop() {
	if t.pingTicker != nil {
		t.pingTicker.Stop()
		t.pingTicker = nil
	}
	select {
	case <-t.stopPing:
	default:
		close(t.stopPing)
	}
}

// Package testhub is a minimal fake hub used only by this repository's own
// integration tests. It is not a hub server deliverable, but exercising
// reconnect/resubscribe and relay fan-out needs a real WebSocket round trip
// somewhere, so this package implements just enough message routing to
// drive one.
package testhub

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	broker "github.com/zerodensity/realityhub-api"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub is an in-process fake broker hub: it tracks connected module names,
// routes method-FQN and response frames to the right connection, fans event
// frames out to subscribers, and announces moduleconnect/moduledisconnect.
type Hub struct {
	ModuleName string

	mu            sync.Mutex
	conns         map[string]*conn
	subscriptions map[string]map[string]bool // eventName -> set of moduleName

	server *httptest.Server
	path   string
}

type conn struct {
	moduleName string
	ws         *websocket.Conn
	writeMu    sync.Mutex
}

// New starts an httptest.Server handling path and returns the Hub fronting
// it. Call Close when done.
func New(path string) *Hub {
	h := &Hub{
		ModuleName:    "hub.core",
		conns:         make(map[string]*conn),
		subscriptions: make(map[string]map[string]bool),
		path:          path,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, h.handle)
	h.server = httptest.NewServer(mux)
	return h
}

// URL returns the http://host:port base URL the hub is listening on.
func (h *Hub) URL() string { return h.server.URL }

// Host and Port split the test server's listening address, for feeding
// directly into broker.DialWebSocket / broker.Client.Connect.
func (h *Hub) Host() string {
	host, _ := h.hostPort()
	return host
}

func (h *Hub) Port() int {
	_, port := h.hostPort()
	return port
}

func (h *Hub) hostPort() (string, int) {
	u, err := url.Parse(h.server.URL)
	if err != nil {
		return "127.0.0.1", 0
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return u.Host, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// Path returns the WebSocket path this hub was created with.
func (h *Hub) Path() string { return h.path }

// Close shuts down the underlying test server.
func (h *Hub) Close() { h.server.Close() }

func (h *Hub) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}
	go h.serve(c)
}

func (h *Hub) serve(c *conn) {
	defer h.unregister(c)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var msg broker.Message
		if err := msg.UnmarshalJSON(data); err != nil {
			continue
		}
		h.route(c, &msg)
	}
}

func (h *Hub) route(c *conn, msg *broker.Message) {
	if c.moduleName == "" && msg.ModuleName != "" {
		h.register(c, msg.ModuleName)
	}

	switch msg.Type {
	case broker.TypePing:
		h.reply(c, msg, true, nil)
	case broker.TypeSubscribe:
		h.trackSubscription(c, msg, true)
		h.reply(c, msg, true, nil)
	case broker.TypeUnsubscribe:
		h.trackSubscription(c, msg, false)
		h.reply(c, msg, true, nil)
	case broker.TypeEvent:
		h.fanOutEvent(msg)
	case broker.TypeResponse:
		h.relay(msg.TargetModuleName, msg)
	default:
		h.relay(msg.TargetModuleName, msg)
	}
}

func (h *Hub) reply(c *conn, original *broker.Message, success bool, data []broker.Arg) {
	s := success
	resp := &broker.Message{
		Type:       broker.TypeResponse,
		RequestID:  original.ID,
		Success:    &s,
		Data:       data,
		ModuleName: h.ModuleName,
	}
	h.write(c, resp)
}

func (h *Hub) write(c *conn, msg *broker.Message) {
	data, err := msg.MarshalJSON()
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) register(c *conn, moduleName string) {
	h.mu.Lock()
	c.moduleName = moduleName
	h.conns[moduleName] = c
	peers := make([]*conn, 0, len(h.conns))
	for name, peer := range h.conns {
		if name != moduleName {
			peers = append(peers, peer)
		}
	}
	h.mu.Unlock()

	h.broadcastLifecycle(peers, "moduleconnect", moduleName)
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	if c.moduleName == "" {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.moduleName)
	name := c.moduleName
	peers := make([]*conn, 0, len(h.conns))
	for _, peer := range h.conns {
		peers = append(peers, peer)
	}
	h.mu.Unlock()

	h.broadcastLifecycle(peers, "moduledisconnect", name)
}

func (h *Hub) broadcastLifecycle(peers []*conn, localName, moduleName string) {
	data, err := broker.ArgOf(map[string]string{"moduleName": moduleName})
	if err != nil {
		return
	}
	event := &broker.Message{
		Type:      broker.TypeEvent,
		EventName: h.ModuleName + "." + localName,
		Data:      []broker.Arg{data},
	}
	for _, peer := range peers {
		h.write(peer, event)
	}
}

func (h *Hub) trackSubscription(c *conn, msg *broker.Message, subscribing bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	module := c.moduleName
	if module == "" {
		module = msg.ModuleName
	}
	if subscribing {
		set, ok := h.subscriptions[msg.EventName]
		if !ok {
			set = make(map[string]bool)
			h.subscriptions[msg.EventName] = set
		}
		set[module] = true
		return
	}
	if set, ok := h.subscriptions[msg.EventName]; ok {
		delete(set, module)
		if len(set) == 0 {
			delete(h.subscriptions, msg.EventName)
		}
	}
}

func (h *Hub) fanOutEvent(msg *broker.Message) {
	excluded := make(map[string]bool, len(msg.ExcludedClients))
	for _, name := range msg.ExcludedClients {
		excluded[name] = true
	}

	h.mu.Lock()
	var targets []*conn
	for module := range h.subscriptions[msg.EventName] {
		if excluded[module] {
			continue
		}
		if c, ok := h.conns[module]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.write(c, msg)
	}
}

// Ping proactively sends a `ping` frame to moduleName's connection, as a
// real hub would on its own heartbeat schedule, and reports whether that
// module was connected. Used to exercise the client's ping-triggered
// resubscribe path without waiting for a client-initiated ping.
func (h *Hub) Ping(moduleName string) bool {
	h.mu.Lock()
	c, ok := h.conns[moduleName]
	h.mu.Unlock()
	if !ok {
		return false
	}
	h.write(c, &broker.Message{Type: broker.TypePing, ModuleName: h.ModuleName})
	return true
}

func (h *Hub) relay(target string, msg *broker.Message) {
	h.mu.Lock()
	c, ok := h.conns[target]
	h.mu.Unlock()
	if !ok {
		return
	}
	h.write(c, msg)
}

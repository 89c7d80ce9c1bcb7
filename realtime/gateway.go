// Package realtime manages per-connection authentication and the
// token→connection binding table, and fans broadcasts out to every
// process through the shared bus.
//
// Bindings are process-local and never replicated: when a revocation
// event arrives, every process checks its own table and only the one
// owning the live connection acts.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mshop-dev/authcore/bus"
	"github.com/mshop-dev/authcore/gate"
	"github.com/mshop-dev/authcore/token"
)

// TokenValidator is the slice of the token authority the gateway needs
// for handshake authentication.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*token.Claims, error)
}

// Gateway owns the realtime connections of one namespace in one
// process.
type Gateway struct {
	namespace string
	validator TokenValidator
	events    *bus.Bus
	heartbeat time.Duration
	log       *slog.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[string]*conn  // connection id → connection
	bindings map[string]string // token → connection id

	revokeSub    *bus.Subscription
	broadcastSub *bus.Subscription
	closed       bool
}

// broadcastTopic keeps business fan-out on a channel distinct from the
// control-plane revocation topic.
func broadcastTopic(namespace string) string {
	return "broadcast:" + namespace
}

// NewGateway builds a gateway for namespace and subscribes it to the
// revocation topic and the namespace broadcast channel.
func NewGateway(namespace string, validator TokenValidator, events *bus.Bus, heartbeat time.Duration, log *slog.Logger) *Gateway {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		namespace: namespace,
		validator: validator,
		events:    events,
		heartbeat: heartbeat,
		log:       log.With("namespace", namespace),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Token auth is the access control; origin policy belongs
			// to the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:    make(map[string]*conn),
		bindings: make(map[string]string),
	}

	ctx := context.Background()
	g.revokeSub = events.Subscribe(ctx, bus.TopicTokenRevoked, g.onBusEvent)
	g.broadcastSub = events.Subscribe(ctx, broadcastTopic(namespace), g.onBusEvent)

	return g
}

// Handler upgrades and authenticates incoming websocket requests.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(g.handleConnect)
}

func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	raw, hasToken := gate.BearerToken(r)

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	if !hasToken {
		g.authFailed(ws)
		return
	}
	claims, err := g.validator.Validate(r.Context(), raw)
	if err != nil {
		g.authFailed(ws)
		return
	}

	// Re-verify liveness after validation: the client may have gone
	// away while the store round-trips ran, and a binding must never
	// outlive its connection.
	if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		_ = ws.Close()
		return
	}

	c := newConn(uuid.NewString(), raw, ws)
	c.setState(StateAuthenticating)

	if !g.register(c) {
		c.close()
		return
	}
	c.setState(StateAuthenticated)
	g.log.Debug("connection authenticated", "conn", c.id, "uid", claims.UID)

	go c.writePump(g.heartbeat)
	go func() {
		c.readPump(g.heartbeat)
		g.remove(c)
	}()
}

// authFailed sends the reserved auth-failed notice best-effort, then
// closes. The connection goes straight to DISCONNECTED.
func (g *Gateway) authFailed(ws *websocket.Conn) {
	msg, err := encodeEnvelope(MessageAuthFailed, "authentication failed")
	if err == nil {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.TextMessage, msg)
	}
	_ = ws.Close()
}

// register adds the connection and its token binding. The liveness
// re-check matters: an authentication that outlived its connection must
// not leave a dangling binding.
func (g *Gateway) register(c *conn) bool {
	g.mu.Lock()
	if g.closed || !c.alive() {
		g.mu.Unlock()
		return false
	}

	var evicted *conn
	if oldID, ok := g.bindings[c.token]; ok {
		// At most one binding per token per namespace.
		evicted = g.conns[oldID]
	}
	g.conns[c.id] = c
	g.bindings[c.token] = c.id
	g.mu.Unlock()

	if evicted != nil {
		evicted.close()
	}
	return true
}

// remove drops the connection and, if it still owns it, the token
// binding. Called once from the read pump on every disconnect path.
func (g *Gateway) remove(c *conn) {
	g.mu.Lock()
	delete(g.conns, c.id)
	if g.bindings[c.token] == c.id {
		delete(g.bindings, c.token)
	}
	g.mu.Unlock()
	c.close()
}

func (g *Gateway) onBusEvent(_ context.Context, ev bus.Event) {
	switch e := ev.(type) {
	case *bus.TokenRevoked:
		g.disconnectToken(e.Token)
	case *bus.Broadcast:
		g.deliverLocal(e)
	}
}

// disconnectToken force-closes the local connection bound to token, if
// this process owns one. Other processes run the same check against
// their own tables.
func (g *Gateway) disconnectToken(tok string) {
	g.mu.Lock()
	id, ok := g.bindings[tok]
	var c *conn
	if ok {
		c = g.conns[id]
		delete(g.bindings, tok)
		delete(g.conns, id)
	}
	g.mu.Unlock()

	if c != nil {
		g.log.Info("force disconnect after revocation", "conn", c.id)
		c.close()
	}
}

func (g *Gateway) deliverLocal(e *bus.Broadcast) {
	msg, err := encodeEnvelope(e.Event, e.Data)
	if err != nil {
		g.log.Warn("broadcast encode failed", "event", e.Event, "error", err)
		return
	}

	g.mu.Lock()
	targets := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		targets = append(targets, c)
	}
	g.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(msg) {
			g.log.Warn("dropping broadcast for slow connection", "conn", c.id)
		}
	}
}

// Broadcast pushes an event to every connection of this namespace in
// every process. Best-effort: a store outage degrades to no fan-out and
// never blocks connection handling.
func (g *Gateway) Broadcast(ctx context.Context, event string, payload any) error {
	data, err := encodeJSON(payload)
	if err != nil {
		return err
	}
	if err := g.events.Publish(ctx, broadcastTopic(g.namespace), bus.Broadcast{Event: event, Data: data}); err != nil {
		g.log.Warn("broadcast publish failed", "event", event, "error", err)
		return err
	}
	return nil
}

// ConnectionCount reports the live local connections. Exposed for
// health endpoints and tests.
func (g *Gateway) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// HasBinding reports whether this process owns a live connection for
// token.
func (g *Gateway) HasBinding(tok string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.bindings[tok]
	return ok
}

// Close unsubscribes from the bus and drops every connection.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	conns := make([]*conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.conns = map[string]*conn{}
	g.bindings = map[string]string{}
	g.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	_ = g.revokeSub.Close()
	return g.broadcastSub.Close()
}

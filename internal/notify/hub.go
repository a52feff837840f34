package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32

	DefaultRedisChannel = "classroom:notify"
)

// JoinAuthorizer decides whether the request behind a connection may join
// the role/id channel. r is the upgrade request.
type JoinAuthorizer func(r *http.Request, role, id string) bool

type Hub struct {
	upgrader  websocket.Upgrader
	authorize JoinAuthorizer

	rdb          *redis.Client
	redisChannel string

	mu    sync.RWMutex
	subs  map[string]map[*conn]struct{}
	conns map[*conn]struct{}
}

type HubOption func(*Hub)

// WithRedis routes Publish through Redis pub/sub so every gateway replica
// delivers to its own sockets. Run must be started.
func WithRedis(rdb *redis.Client, channel string) HubOption {
	return func(h *Hub) {
		h.rdb = rdb
		if channel != "" {
			h.redisChannel = channel
		}
	}
}

func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) {
		allowed := map[string]bool{}
		for _, o := range origins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		}
	}
}

func WithJoinAuthorizer(fn JoinAuthorizer) HubOption {
	return func(h *Hub) { h.authorize = fn }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		redisChannel: DefaultRedisChannel,
		subs:         map[string]map[*conn]struct{}{},
		conns:        map[*conn]struct{}{},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

type conn struct {
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	channels map[string]struct{} // guarded by Hub.mu
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("notify: upgrade: %v", err)
		return
	}
	c := &conn{ws: ws, send: make(chan []byte, sendBuffer), done: make(chan struct{}), channels: map[string]struct{}{}}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(r, c)
}

func (h *Hub) readPump(r *http.Request, c *conn) {
	defer h.drop(c)
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var ev Event
		if err := c.ws.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("notify: read: %v", err)
			}
			return
		}
		role, id, ok := joinTarget(ev)
		if !ok {
			continue
		}
		if h.authorize != nil && !h.authorize(r, role, id) {
			log.Printf("notify: join %s:%s refused", role, id)
			h.enqueue(c, mustEvent("error", map[string]string{"error": "join not allowed"}))
			continue
		}
		ch := channelFor(role, id)
		h.subscribe(c, ch)
		h.enqueue(c, mustEvent(EventJoined, map[string]string{"channel": ch}))
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) subscribe(c *conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	set, ok := h.subs[channel]
	if !ok {
		set = map[*conn]struct{}{}
		h.subs[channel] = set
	}
	set[c] = struct{}{}
	c.channels[channel] = struct{}{}
}

func (h *Hub) drop(c *conn) {
	h.mu.Lock()
	for ch := range c.channels {
		if set := h.subs[ch]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.subs, ch)
			}
		}
	}
	delete(h.conns, c)
	h.mu.Unlock()
	c.close()
}

// enqueue never blocks; a consumer that cannot keep up is disconnected.
func (h *Hub) enqueue(c *conn, msg []byte) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		log.Printf("notify: send buffer full, dropping connection")
		c.close()
	}
}

// Subscribers counts live connections joined to channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// CloseAll disconnects every socket. Clients reconnect on their own.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"), time.Now().Add(time.Second))
		c.close()
	}
}

type envelope struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
}

func (h *Hub) Publish(ctx context.Context, channel string, ev Event) error {
	if h.rdb != nil {
		b, err := json.Marshal(envelope{Channel: channel, Event: ev})
		if err != nil {
			return err
		}
		return h.rdb.Publish(ctx, h.redisChannel, b).Err()
	}
	return h.deliverLocal(channel, ev)
}

func (h *Hub) deliverLocal(channel string, ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.subs[channel]))
	for c := range h.subs[channel] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.enqueue(c, msg)
	}
	return nil
}

// NotifySubmitted tells the owning teacher, and nobody else, that a
// student finished an assignment.
func (h *Hub) NotifySubmitted(ctx context.Context, teacherID string, p SubmittedPayload) error {
	if teacherID == "" {
		return errors.New("notify: empty teacher id")
	}
	ev, err := NewEvent(EventAssignmentSubmitted, p)
	if err != nil {
		return err
	}
	return h.Publish(ctx, TeacherChannel(teacherID), ev)
}

// Run relays Redis messages to local sockets until ctx ends. Without Redis
// it only waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.rdb == nil {
		<-ctx.Done()
		return nil
	}
	sub := h.rdb.Subscribe(ctx, h.redisChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("notify: bad relay payload: %v", err)
				continue
			}
			if err := h.deliverLocal(env.Channel, env.Event); err != nil {
				log.Printf("notify: deliver: %v", err)
			}
		}
	}
}

func mustEvent(name string, data any) []byte {
	ev, _ := NewEvent(name, data)
	b, _ := json.Marshal(ev)
	return b
}

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
)

var ErrClosed = errors.New("notify: client closed")

type ClientOptions struct {
	ReconnectDelay time.Duration // fixed, default 1s
	Header         http.Header   // sent on every dial, e.g. Authorization
	Dialer         *websocket.Dialer
	// ReadTimeout drops a connection that has been silent this long. Hub
	// pings keep a healthy one alive. Default 60s.
	ReadTimeout time.Duration
}

type join struct{ role, id string }

// Client keeps one socket open to a Hub, redialling after a fixed delay
// whenever it drops, and replays its joins on every new connection.
type Client struct {
	url  string
	opts ClientOptions

	mu        sync.Mutex
	nextID    uint64
	listeners map[string]map[uint64]func(json.RawMessage)
	stateFns  map[uint64]func(connected bool)
	joins     []join
	ws        *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool

	writeMu sync.Mutex
}

func NewClient(url string, opts ClientOptions) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = pongWait
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		url:       url,
		opts:      opts,
		listeners: map[string]map[uint64]func(json.RawMessage){},
		stateFns:  map[uint64]func(bool){},
	}
}

// Connect starts the connection loop and returns immediately. The loop
// ends on Close or when ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.done != nil {
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, done, ws := c.cancel, c.done, c.ws
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = ws.Close()
	}
	if done != nil {
		<-done
	}
	return nil
}

// Join subscribes to the role's channel now and after every reconnect.
func (c *Client) Join(role, id string) error {
	j := join{role: role, id: id}
	c.mu.Lock()
	known := false
	for _, x := range c.joins {
		if x == j {
			known = true
			break
		}
	}
	if !known {
		c.joins = append(c.joins, j)
	}
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil // sent once connected
	}
	return c.sendJoin(ws, j)
}

// On registers handler for event. The returned func removes only this
// handler and may be called more than once.
func (c *Client) On(event string, handler func(data json.RawMessage)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	set, ok := c.listeners[event]
	if !ok {
		set = map[uint64]func(json.RawMessage){}
		c.listeners[event] = set
	}
	set[id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if set, ok := c.listeners[event]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(c.listeners, event)
			}
		}
	}
}

// OnState reports connect (true) and disconnect (false) transitions.
func (c *Client) OnState(handler func(connected bool)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.stateFns[id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateFns, id)
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Emit sends an arbitrary event on the current connection.
func (c *Client) Emit(event string, data any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errors.New("notify: not connected")
	}
	ev, err := NewEvent(event, data)
	if err != nil {
		return err
	}
	return c.write(ws, ev)
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		ws, _, err := c.opts.Dialer.DialContext(ctx, c.url, c.opts.Header)
		if err == nil {
			c.serve(ctx, ws)
		} else if ctx.Err() == nil {
			log.Printf("notify: dial %s: %v", c.url, err)
		}
		t := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// serve owns one connection until it fails.
func (c *Client) serve(ctx context.Context, ws *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	joins := append([]join(nil), c.joins...)
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	extend := func() { _ = ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)) }
	extend()
	ws.SetPingHandler(func(data string) error {
		extend()
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	c.emitState(true)
	for _, j := range joins {
		if err := c.sendJoin(ws, j); err != nil {
			log.Printf("notify: rejoin %s:%s: %v", j.role, j.id, err)
		}
	}

	for {
		var ev Event
		if err := ws.ReadJSON(&ev); err != nil {
			break
		}
		extend()
		c.dispatch(ev)
	}

	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
	_ = ws.Close()
	c.emitState(false)
}

func (c *Client) sendJoin(ws *websocket.Conn, j join) error {
	name := EventStudentJoin
	if j.role == "teacher" {
		name = EventTeacherJoin
	}
	ev, err := NewEvent(name, map[string]string{j.role + "_id": j.id})
	if err != nil {
		return err
	}
	return c.write(ws, ev)
}

func (c *Client) write(ws *websocket.Conn, ev Event) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(ev)
}

// dispatch copies the handlers first so they may (un)subscribe freely.
func (c *Client) dispatch(ev Event) {
	c.mu.Lock()
	hs := make([]func(json.RawMessage), 0, len(c.listeners[ev.Event]))
	for _, h := range c.listeners[ev.Event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(ev.Data)
	}
}

func (c *Client) emitState(connected bool) {
	c.mu.Lock()
	fns := make([]func(bool), 0, len(c.stateFns))
	for _, fn := range c.stateFns {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-classroom/internal/notify"
)

func startHub(t *testing.T, opts ...notify.HubOption) (*notify.Hub, string) {
	t.Helper()
	hub := notify.NewHub(opts...)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func TestClient_ReconnectRejoinsAndReceives(t *testing.T) {
	hub, url := startHub(t)
	c := notify.NewClient(url, notify.ClientOptions{ReconnectDelay: 20 * time.Millisecond})
	t.Cleanup(func() { _ = c.Close() })

	joined := make(chan string, 4)
	states := make(chan bool, 8)
	submitted := make(chan notify.SubmittedPayload, 1)
	c.On(notify.EventJoined, func(data json.RawMessage) {
		var v struct{ Channel string }
		_ = json.Unmarshal(data, &v)
		joined <- v.Channel
	})
	c.OnState(func(up bool) { states <- up })
	c.On(notify.EventAssignmentSubmitted, func(data json.RawMessage) {
		var p notify.SubmittedPayload
		require.NoError(t, json.Unmarshal(data, &p))
		submitted <- p
	})

	require.NoError(t, c.Join("teacher", "t1"))
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, waitFor(t, states, "connect"))
	assert.Equal(t, "teacher:t1", waitFor(t, joined, "first join"))

	hub.CloseAll()
	assert.False(t, waitFor(t, states, "disconnect"))
	assert.True(t, waitFor(t, states, "reconnect"))
	assert.Equal(t, "teacher:t1", waitFor(t, joined, "rejoin"))
	require.Eventually(t, func() bool { return hub.Subscribers(notify.TeacherChannel("t1")) == 1 },
		2*time.Second, 10*time.Millisecond)

	want := notify.SubmittedPayload{AssignmentID: "a1", PaperTitle: "Optics", StudentID: "s1", Percentage: 80,
		SubmittedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, hub.NotifySubmitted(context.Background(), "t1", want))
	got := waitFor(t, submitted, "assignment:submitted")
	assert.Equal(t, want, got)
}

func TestClient_UnsubscribeIsPerListener(t *testing.T) {
	hub, url := startHub(t)
	c := notify.NewClient(url, notify.ClientOptions{ReconnectDelay: 20 * time.Millisecond})
	t.Cleanup(func() { _ = c.Close() })

	joined := make(chan struct{}, 1)
	c.On(notify.EventJoined, func(json.RawMessage) { joined <- struct{}{} })

	var first, second int32
	got := make(chan struct{}, 4)
	unsubFirst := c.On(notify.EventAssignmentSubmitted, func(json.RawMessage) { atomic.AddInt32(&first, 1); got <- struct{}{} })
	c.On(notify.EventAssignmentSubmitted, func(json.RawMessage) { atomic.AddInt32(&second, 1); got <- struct{}{} })

	require.NoError(t, c.Join("teacher", "t2"))
	require.NoError(t, c.Connect(context.Background()))
	waitFor(t, joined, "join")

	unsubFirst()
	unsubFirst() // idempotent

	require.NoError(t, hub.NotifySubmitted(context.Background(), "t2", notify.SubmittedPayload{AssignmentID: "a"}))
	waitFor(t, got, "event")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
}

func TestHub_TeacherOnlyRouting(t *testing.T) {
	hub, url := startHub(t)

	teacher := notify.NewClient(url, notify.ClientOptions{})
	student := notify.NewClient(url, notify.ClientOptions{})
	t.Cleanup(func() { _ = teacher.Close(); _ = student.Close() })

	joins := make(chan struct{}, 2)
	for _, c := range []*notify.Client{teacher, student} {
		c.On(notify.EventJoined, func(json.RawMessage) { joins <- struct{}{} })
	}
	teacherGot := make(chan struct{}, 1)
	var studentGot int32
	teacher.On(notify.EventAssignmentSubmitted, func(json.RawMessage) { teacherGot <- struct{}{} })
	student.On(notify.EventAssignmentSubmitted, func(json.RawMessage) { atomic.AddInt32(&studentGot, 1) })

	require.NoError(t, teacher.Join("teacher", "t3"))
	require.NoError(t, student.Join("student", "s3"))
	require.NoError(t, teacher.Connect(context.Background()))
	require.NoError(t, student.Connect(context.Background()))
	waitFor(t, joins, "join 1")
	waitFor(t, joins, "join 2")

	require.NoError(t, hub.NotifySubmitted(context.Background(), "t3", notify.SubmittedPayload{StudentID: "s3"}))
	waitFor(t, teacherGot, "teacher event")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&studentGot))
}

func TestHub_JoinAuthorizer(t *testing.T) {
	hub, url := startHub(t, notify.WithJoinAuthorizer(func(r *http.Request, role, id string) bool {
		return r.Header.Get("X-User") == id
	}))
	c := notify.NewClient(url, notify.ClientOptions{Header: http.Header{"X-User": {"t4"}}})
	t.Cleanup(func() { _ = c.Close() })

	events := make(chan string, 4)
	c.On(notify.EventJoined, func(json.RawMessage) { events <- "joined" })
	c.On("error", func(json.RawMessage) { events <- "error" })

	require.NoError(t, c.Join("teacher", "someone-else"))
	require.NoError(t, c.Join("teacher", "t4"))
	require.NoError(t, c.Connect(context.Background()))

	assert.Equal(t, "error", waitFor(t, events, "refusal"))
	assert.Equal(t, "joined", waitFor(t, events, "join"))
	assert.Equal(t, 0, hub.Subscribers(notify.TeacherChannel("someone-else")))
}

func TestClient_CloseStopsReconnecting(t *testing.T) {
	_, url := startHub(t)
	c := notify.NewClient(url, notify.ClientOptions{ReconnectDelay: 10 * time.Millisecond})
	states := make(chan bool, 4)
	c.OnState(func(up bool) { states <- up })
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, waitFor(t, states, "connect"))

	require.NoError(t, c.Close())
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Connect(context.Background()), notify.ErrClosed)
}

// silentServer upgrades and then never writes. When ping is set it pings
// at that interval instead.
func silentServer(t *testing.T, ping time.Duration) (string, *atomic.Int32) {
	t.Helper()
	var dials atomic.Int32
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		dials.Add(1)
		defer ws.Close()
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.NextReader(); err != nil {
					return
				}
			}
		}()
		if ping <= 0 {
			<-done
			return
		}
		tick := time.NewTicker(ping)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), &dials
}

func TestClient_SilentConnectionIsDropped(t *testing.T) {
	url, dials := silentServer(t, 0)
	c := notify.NewClient(url, notify.ClientOptions{ReconnectDelay: 10 * time.Millisecond, ReadTimeout: 100 * time.Millisecond})
	states := make(chan bool, 8)
	c.OnState(func(up bool) { states <- up })
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, waitFor(t, states, "connect"))
	assert.False(t, waitFor(t, states, "read timeout"))
	assert.True(t, waitFor(t, states, "reconnect"))
	assert.GreaterOrEqual(t, dials.Load(), int32(2))
}

func TestClient_PingsKeepConnectionAlive(t *testing.T) {
	url, dials := silentServer(t, 30*time.Millisecond)
	c := notify.NewClient(url, notify.ClientOptions{ReconnectDelay: 10 * time.Millisecond, ReadTimeout: 150 * time.Millisecond})
	states := make(chan bool, 8)
	c.OnState(func(up bool) { states <- up })
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, waitFor(t, states, "connect"))
	time.Sleep(500 * time.Millisecond)
	assert.True(t, c.Connected())
	assert.Equal(t, int32(1), dials.Load())
}

package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	mu       sync.Mutex
	payloads [][]byte
	sendErr  error
	closed   bool
}

func (f *fakeConn) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	f.payloads = append(f.payloads, buf)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) messages(t *testing.T) []ServerMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ServerMessage, 0, len(f.payloads))
	for _, p := range f.payloads {
		var msg ServerMessage
		if err := json.Unmarshal(p, &msg); err != nil {
			t.Fatalf("invalid payload %q: %v", p, err)
		}
		out = append(out, msg)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestHub(t *testing.T, interval time.Duration) *Hub {
	t.Helper()
	snapshot := func(context.Context) any {
		return map[string]string{"status": "ok"}
	}
	h := NewHub(snapshot, interval, nil)
	t.Cleanup(h.Close)
	return h
}

func TestRelayReachesOnlyRoomMembers(t *testing.T) {
	h := newTestHub(t, time.Minute)
	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}
	sa := h.Register(a, "10.0.0.1")
	sb := h.Register(b, "10.0.0.2")
	sc := h.Register(c, "10.0.0.3")

	h.JoinRoom(sa, "dep-123")
	h.JoinRoom(sb, "dep-123")
	h.JoinRoom(sc, "dep-999")

	h.RelayDeploymentEvent("dep-123", EventDeploymentLog, map[string]string{"message": "cloning"})

	waitFor(t, func() bool { return a.count() == 1 && b.count() == 1 }, "room members to receive event")
	if c.count() != 0 {
		t.Fatalf("session in another room received %d events", c.count())
	}
	msgs := a.messages(t)
	if msgs[0].Type != EventDeploymentLog {
		t.Fatalf("unexpected event type %q", msgs[0].Type)
	}
}

func TestRelayPreservesPerSessionOrder(t *testing.T) {
	h := newTestHub(t, time.Minute)
	conn := &fakeConn{}
	s := h.Register(conn, "")
	h.JoinRoom(s, "dep-1")

	const n = 50
	for i := 0; i < n; i++ {
		h.RelayDeploymentEvent("dep-1", EventDeploymentLog, map[string]int{"seq": i})
	}

	waitFor(t, func() bool { return conn.count() == n }, "all events delivered")
	for i, msg := range conn.messages(t) {
		data, ok := msg.Data.(map[string]any)
		if !ok {
			t.Fatalf("unexpected data shape %T", msg.Data)
		}
		if int(data["seq"].(float64)) != i {
			t.Fatalf("event %d out of order: %v", i, data)
		}
	}
}

func TestLeaveRoomStopsDeliveryAndJoinIsNotRetroactive(t *testing.T) {
	h := newTestHub(t, time.Minute)
	left, late := &fakeConn{}, &fakeConn{}
	sLeft := h.Register(left, "")
	sLate := h.Register(late, "")

	h.JoinRoom(sLeft, "dep-1")
	h.LeaveRoom(sLeft, "dep-1")

	h.RelayDeploymentEvent("dep-1", EventDeploymentLog, map[string]string{"message": "first"})
	h.JoinRoom(sLate, "dep-1")
	h.RelayDeploymentEvent("dep-1", EventDeploymentLog, map[string]string{"message": "second"})

	waitFor(t, func() bool { return late.count() == 1 }, "late joiner to receive current event")
	if left.count() != 0 {
		t.Fatalf("departed session received %d events", left.count())
	}
	msgs := late.messages(t)
	if data := msgs[0].Data.(map[string]any); data["message"] != "second" {
		t.Fatalf("late joiner received retroactive event: %v", data)
	}
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	h := newTestHub(t, time.Minute)
	conn := &fakeConn{}
	s := h.Register(conn, "")

	h.JoinRoom(s, "dep-1")
	h.JoinRoom(s, "dep-1")
	h.LeaveRoom(s, "dep-2") // not a member; must be a no-op

	h.RelayDeploymentEvent("dep-1", EventDeploymentLog, map[string]string{"message": "once"})

	waitFor(t, func() bool { return conn.count() >= 1 }, "event delivery")
	time.Sleep(20 * time.Millisecond)
	if conn.count() != 1 {
		t.Fatalf("expected exactly one copy, got %d", conn.count())
	}
}

func TestSubscribeHealthPushesImmediatelyThenPeriodically(t *testing.T) {
	h := newTestHub(t, 20*time.Millisecond)
	conn := &fakeConn{}
	s := h.Register(conn, "")

	h.SubscribeHealth(s)

	waitFor(t, func() bool { return conn.count() >= 3 }, "immediate snapshot plus ticks")
	for _, msg := range conn.messages(t) {
		if msg.Type != EventHealthData {
			t.Fatalf("unexpected message type %q", msg.Type)
		}
	}
	if st := h.Stats(); st.HealthSubscribers != 1 {
		t.Fatalf("expected one health subscriber, got %d", st.HealthSubscribers)
	}
}

func TestRepeatedSubscribeKeepsSingleTimer(t *testing.T) {
	h := newTestHub(t, 25*time.Millisecond)
	conn := &fakeConn{}
	s := h.Register(conn, "")

	h.SubscribeHealth(s)
	h.SubscribeHealth(s)
	h.SubscribeHealth(s)

	time.Sleep(110 * time.Millisecond)
	// one immediate push plus ~4 ticks; doubled timers would exceed this
	if got := conn.count(); got > 7 {
		t.Fatalf("too many pushes for a single timer: %d", got)
	}
}

func TestUnsubscribeCancelsTimer(t *testing.T) {
	h := newTestHub(t, 15*time.Millisecond)
	conn := &fakeConn{}
	s := h.Register(conn, "")

	h.SubscribeHealth(s)
	waitFor(t, func() bool { return conn.count() >= 1 }, "first snapshot")

	h.UnsubscribeHealth(s)
	settled := conn.count()
	time.Sleep(60 * time.Millisecond)
	if got := conn.count(); got > settled+1 {
		t.Fatalf("pushes continued after unsubscribe: %d -> %d", settled, got)
	}
	if st := h.Stats(); st.HealthSubscribers != 0 {
		t.Fatalf("expected no health subscribers, got %d", st.HealthSubscribers)
	}
}

func TestDisconnectBeforeFirstTickLeavesNoTrace(t *testing.T) {
	// slow snapshot so the disconnect always lands before the first push
	slow := func(context.Context) any {
		time.Sleep(50 * time.Millisecond)
		return map[string]string{"status": "ok"}
	}
	h := NewHub(slow, time.Minute, nil)
	t.Cleanup(h.Close)

	conn := &fakeConn{}
	s := h.Register(conn, "")
	h.SubscribeHealth(s)
	h.Unregister(s)

	waitFor(t, func() bool { return h.Stats().Sessions == 0 }, "registry to empty")
	time.Sleep(80 * time.Millisecond)
	if conn.count() != 0 {
		t.Fatalf("destroyed session received %d pushes", conn.count())
	}
	if !conn.isClosed() {
		t.Fatal("expected connection to be closed")
	}
}

func TestRequestHealthDoesNotAlterSubscription(t *testing.T) {
	h := newTestHub(t, 20*time.Millisecond)
	conn := &fakeConn{}
	s := h.Register(conn, "")

	h.RequestHealth(s)

	waitFor(t, func() bool { return conn.count() == 1 }, "one-shot snapshot")
	if st := h.Stats(); st.HealthSubscribers != 0 {
		t.Fatalf("one-shot request started a subscription: %d", st.HealthSubscribers)
	}
	time.Sleep(60 * time.Millisecond)
	if conn.count() != 1 {
		t.Fatalf("one-shot request produced recurring pushes: %d", conn.count())
	}
}

func TestFailedSendTearsDownSession(t *testing.T) {
	h := newTestHub(t, time.Minute)
	broken := &fakeConn{sendErr: fmt.Errorf("transport closed")}
	healthy := &fakeConn{}
	sb := h.Register(broken, "")
	sh := h.Register(healthy, "")
	h.JoinRoom(sb, "dep-1")
	h.JoinRoom(sh, "dep-1")

	h.RelayDeploymentEvent("dep-1", EventDeploymentStatus, map[string]string{"status": "running"})

	waitFor(t, func() bool { return healthy.count() == 1 }, "healthy session delivery")
	waitFor(t, func() bool { return h.Stats().Sessions == 1 }, "broken session removal")
	if !broken.isClosed() {
		t.Fatal("expected broken connection to be closed")
	}
}

func TestDisconnectClearsRoomMemberships(t *testing.T) {
	h := newTestHub(t, time.Minute)
	conn := &fakeConn{}
	s := h.Register(conn, "")
	h.JoinRoom(s, "dep-1")
	h.JoinRoom(s, "dep-2")

	h.Unregister(s)
	waitFor(t, func() bool {
		st := h.Stats()
		return st.Sessions == 0 && st.Rooms == 0
	}, "rooms to be cleared")

	h.RelayDeploymentEvent("dep-1", EventDeploymentLog, map[string]string{"message": "late"})
	time.Sleep(20 * time.Millisecond)
	if conn.count() != 0 {
		t.Fatalf("destroyed session received %d events", conn.count())
	}
}

func TestCloseShutsDownEverySession(t *testing.T) {
	h := newTestHub(t, 10*time.Millisecond)
	a, b := &fakeConn{}, &fakeConn{}
	sa := h.Register(a, "")
	h.Register(b, "")
	h.SubscribeHealth(sa)

	h.Close()

	waitFor(t, func() bool { return a.isClosed() && b.isClosed() }, "connections to close")
	// operations after close are safe no-ops
	h.RelayDeploymentEvent("dep-1", EventDeploymentLog, nil)
	h.SubscribeHealth(sa)
	if st := h.Stats(); st.Sessions != 0 {
		t.Fatalf("expected empty stats after close, got %+v", st)
	}
}

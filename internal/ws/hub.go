package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
)

// Conn abstracts a streaming client transport.
type Conn interface {
	Send([]byte) error
	Close()
}

// SnapshotFunc produces the payload pushed on health subscriptions.
type SnapshotFunc func(ctx context.Context) any

// Session is one live client connection and its subscription state. All
// fields besides ID and remoteAddr are owned by the hub run loop.
type Session struct {
	ID         string
	remoteAddr string
	conn       Conn

	healthSubscribed bool
	stopTimer        chan struct{}
	rooms            map[string]struct{}
}

type controlAction int

const (
	actionSubscribeHealth controlAction = iota
	actionUnsubscribeHealth
	actionRequestHealth
	actionJoinRoom
	actionLeaveRoom
)

type control struct {
	session *Session
	action  controlAction
	room    string
}

type roomEvent struct {
	room    string
	payload []byte
}

type delivery struct {
	session *Session
	payload []byte
	// timer identifies the subscription generation the payload belongs to;
	// nil for one-shot pushes.
	timer chan struct{}
}

// Stats summarizes registry state.
type Stats struct {
	Sessions          int
	Rooms             int
	HealthSubscribers int
}

// Hub tracks sessions, their subscriptions and per-deployment rooms, and
// relays health snapshots and deployment events. A single run loop owns
// all mutable state; public methods hand work to it over channels.
type Hub struct {
	logger   *slog.Logger
	snapshot SnapshotFunc
	interval time.Duration

	sessions map[string]*Session
	rooms    map[string]map[*Session]struct{}

	register   chan *Session
	unregister chan *Session
	ctl        chan control
	relay      chan roomEvent
	deliver    chan delivery
	stats      chan chan Stats

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a Hub and starts its run loop.
func NewHub(snapshot SnapshotFunc, interval time.Duration, logger *slog.Logger) *Hub {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		logger:     logger,
		snapshot:   snapshot,
		interval:   interval,
		sessions:   make(map[string]*Session),
		rooms:      make(map[string]map[*Session]struct{}),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		ctl:        make(chan control),
		relay:      make(chan roomEvent),
		deliver:    make(chan delivery),
		stats:      make(chan chan Stats),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

// Register creates a session for the connection and adds it to the registry.
func (h *Hub) Register(conn Conn, remoteAddr string) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		remoteAddr: remoteAddr,
		conn:       conn,
		rooms:      make(map[string]struct{}),
	}
	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
	}
	return s
}

// Unregister tears the session down: its timer is cancelled, room
// memberships dropped and no further events are delivered to it.
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// SubscribeHealth starts periodic snapshot pushes for the session, with an
// immediate first snapshot. A second subscribe is a no-op.
func (h *Hub) SubscribeHealth(s *Session) {
	h.control(control{session: s, action: actionSubscribeHealth})
}

// UnsubscribeHealth cancels the session's snapshot timer.
func (h *Hub) UnsubscribeHealth(s *Session) {
	h.control(control{session: s, action: actionUnsubscribeHealth})
}

// RequestHealth pushes a single snapshot without touching subscription state.
func (h *Hub) RequestHealth(s *Session) {
	h.control(control{session: s, action: actionRequestHealth})
}

// JoinRoom subscribes the session to one deployment's event stream.
func (h *Hub) JoinRoom(s *Session, deploymentID string) {
	h.control(control{session: s, action: actionJoinRoom, room: deploymentID})
}

// LeaveRoom removes the session from a deployment room.
func (h *Hub) LeaveRoom(s *Session, deploymentID string) {
	h.control(control{session: s, action: actionLeaveRoom, room: deploymentID})
}

func (h *Hub) control(c control) {
	select {
	case h.ctl <- c:
	case <-h.done:
	}
}

// RelayDeploymentEvent fans data out to every session currently in the
// deployment's room. Delivery to a single session preserves call order.
func (h *Hub) RelayDeploymentEvent(deploymentID, eventType string, data any) {
	payload, err := json.Marshal(ServerMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		h.logger.Warn("failed to marshal deployment event", "deployment_id", deploymentID, "error", err)
		return
	}
	select {
	case h.relay <- roomEvent{room: deploymentID, payload: payload}:
	case <-h.done:
	}
}

// Stats reports registry counters, observed from the run loop.
func (h *Hub) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
		return <-reply
	case <-h.done:
		return Stats{}
	}
}

// Close stops the run loop and closes every session.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

func (h *Hub) run() {
	for {
		select {
		case s := <-h.register:
			h.sessions[s.ID] = s
			h.logger.Info("session connected", "session_id", s.ID, "remote_addr", s.remoteAddr)

		case s := <-h.unregister:
			h.removeSession(s)

		case c := <-h.ctl:
			h.handleControl(c)

		case evt := <-h.relay:
			h.fanOut(evt)

		case d := <-h.deliver:
			h.handleDelivery(d)

		case reply := <-h.stats:
			reply <- h.currentStats()

		case <-h.done:
			for _, s := range h.sessions {
				h.stopHealthTimer(s)
				s.conn.Close()
			}
			h.sessions = make(map[string]*Session)
			h.rooms = make(map[string]map[*Session]struct{})
			return
		}
	}
}

func (h *Hub) handleControl(c control) {
	s := c.session
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	switch c.action {
	case actionSubscribeHealth:
		if s.healthSubscribed {
			return
		}
		s.healthSubscribed = true
		stop := make(chan struct{})
		s.stopTimer = stop
		go h.healthLoop(s, stop)

	case actionUnsubscribeHealth:
		h.stopHealthTimer(s)

	case actionRequestHealth:
		go h.pushSnapshot(s, nil)

	case actionJoinRoom:
		s.rooms[c.room] = struct{}{}
		members, ok := h.rooms[c.room]
		if !ok {
			members = make(map[*Session]struct{})
			h.rooms[c.room] = members
		}
		members[s] = struct{}{}

	case actionLeaveRoom:
		delete(s.rooms, c.room)
		h.dropRoomMember(c.room, s)
	}
}

// healthLoop pushes an immediate snapshot, then one per tick, until the
// subscription or the hub stops. Runs outside the run loop so slow probes
// never stall event routing.
func (h *Hub) healthLoop(s *Session, stop chan struct{}) {
	h.pushSnapshot(s, stop)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.pushSnapshot(s, stop)
		case <-stop:
			return
		case <-h.done:
			return
		}
	}
}

func (h *Hub) pushSnapshot(s *Session, timer chan struct{}) {
	if h.snapshot == nil {
		return
	}
	payload, err := json.Marshal(ServerMessage{
		Type:      EventHealthData,
		Data:      h.snapshot(context.Background()),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		h.logger.Warn("failed to marshal health snapshot", "session_id", s.ID, "error", err)
		return
	}
	d := delivery{session: s, payload: payload, timer: timer}
	if timer == nil {
		select {
		case h.deliver <- d:
		case <-h.done:
		}
		return
	}
	select {
	case h.deliver <- d:
	case <-timer:
	case <-h.done:
	}
}

// handleDelivery applies cancellation atomically: a snapshot produced for a
// timer that has since been cancelled, or for a session that is gone, is
// discarded without a visible event.
func (h *Hub) handleDelivery(d delivery) {
	s := d.session
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	if d.timer != nil && (!s.healthSubscribed || s.stopTimer != d.timer) {
		return
	}
	h.send(s, d.payload)
}

func (h *Hub) fanOut(evt roomEvent) {
	for s := range h.rooms[evt.room] {
		h.send(s, evt.payload)
	}
}

// send writes to one session; a failed write tears that session down.
func (h *Hub) send(s *Session, payload []byte) {
	if err := s.conn.Send(payload); err != nil {
		h.logger.Warn("session send failed", "session_id", s.ID, "error", err)
		h.removeSession(s)
	}
}

func (h *Hub) removeSession(s *Session) {
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	h.stopHealthTimer(s)
	for room := range s.rooms {
		h.dropRoomMember(room, s)
	}
	s.rooms = make(map[string]struct{})
	delete(h.sessions, s.ID)
	s.conn.Close()
	h.logger.Info("session disconnected", "session_id", s.ID)
}

func (h *Hub) stopHealthTimer(s *Session) {
	if s.stopTimer != nil {
		close(s.stopTimer)
		s.stopTimer = nil
	}
	s.healthSubscribed = false
}

func (h *Hub) dropRoomMember(room string, s *Session) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) currentStats() Stats {
	st := Stats{Sessions: len(h.sessions), Rooms: len(h.rooms)}
	for _, s := range h.sessions {
		if s.healthSubscribed {
			st.HealthSubscribers++
		}
	}
	return st
}

package realtime

import (
	"context"
	"fmt"
	"sync"

	"live-auction/internal/metrics"
	"live-auction/internal/models"
	"live-auction/utils"
)

const defaultQueueSize = 64

// Conn is one subscriber connection, independent of transport
type Conn interface {
	ID() string
	Send(ctx context.Context, ev models.Event) error
}

// SnapshotSource loads the state sent to a subscriber when it joins a lot
type SnapshotSource func(ctx context.Context, lotID string) (*models.LotDetails, error)

// subscriber owns the outbound queue of one connection. A single writer
// goroutine drains it, so a slow connection only delays itself.
type subscriber struct {
	conn  Conn
	queue chan models.Event
	lots  map[string]struct{} // guarded by Hub.mu

	mu     sync.Mutex
	closed bool
}

func newSubscriber(conn Conn, size int) *subscriber {
	s := &subscriber{
		conn:  conn,
		queue: make(chan models.Event, size),
		lots:  make(map[string]struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *subscriber) writeLoop() {
	for ev := range s.queue {
		if err := s.conn.Send(context.Background(), ev); err != nil {
			metrics.BroadcastFailures.Inc()
			utils.Debug("Realtime send failed", map[string]any{
				"lot_id":  ev.LotID,
				"conn_id": s.conn.ID(),
				"error":   err.Error(),
			})
		}
	}
}

// enqueue never blocks. It reports true when the queue was full and the event dropped;
// events for a connection that already left are discarded silently.
func (s *subscriber) enqueue(ev models.Event) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.queue <- ev:
		return false
	default:
		metrics.BroadcastDropped.Inc()
		utils.Warn("Realtime queue full, event dropped", map[string]any{
			"lot_id":  ev.LotID,
			"type":    ev.Type,
			"conn_id": s.conn.ID(),
		})
		return true
	}
}

// close stops the writer once the queued events are sent
func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
}

// room is the set of subscribers of one lot.
// mu orders enqueues so every subscriber sees a lot's events in one order.
type room struct {
	mu          sync.Mutex
	subs        map[string]*subscriber
	lastVersion int64 // version of the last BID_PLACED delivered
}

// Hub keeps the lot -> subscribers registry and fans events out to them
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]*room
	subs      map[string]*subscriber
	queueSize int
}

// NewHub creates a hub buffering at most queueSize pending events per connection
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		rooms:     make(map[string]*room),
		subs:      make(map[string]*subscriber),
		queueSize: queueSize,
	}
}

// Join subscribes conn to a lot and queues a SNAPSHOT of the lot's current state.
// An unknown lot still subscribes and yields a snapshot with a null lot.
func (h *Hub) Join(ctx context.Context, lotID string, conn Conn, source SnapshotSource) error {
	h.mu.Lock()
	sub, ok := h.subs[conn.ID()]
	if !ok {
		sub = newSubscriber(conn, h.queueSize)
		h.subs[conn.ID()] = sub
	}
	sub.lots[lotID] = struct{}{}
	r, ok := h.rooms[lotID]
	if !ok {
		r = &room{subs: make(map[string]*subscriber)}
		h.rooms[lotID] = r
	}
	r.subs[conn.ID()] = sub
	h.mu.Unlock()

	// registered before the read, so no event committed after the snapshot is missed
	details, err := source(ctx, lotID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.enqueue(models.SnapshotEvent(lotID, details)) {
		return fmt.Errorf("realtime: snapshot of lot %s dropped for connection %s", lotID, conn.ID())
	}
	return nil
}

// Leave unsubscribes conn from one lot
func (h *Hub) Leave(lotID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(lotID, conn.ID())
}

// Disconnect removes conn from every lot it joined
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[conn.ID()]
	if !ok {
		return
	}
	for lotID := range sub.lots {
		h.removeLocked(lotID, conn.ID())
	}
}

func (h *Hub) removeLocked(lotID, connID string) {
	if r, ok := h.rooms[lotID]; ok {
		delete(r.subs, connID)
		if len(r.subs) == 0 {
			delete(h.rooms, lotID)
		}
	}
	if sub, ok := h.subs[connID]; ok {
		delete(sub.lots, lotID)
		if len(sub.lots) == 0 {
			sub.close()
			delete(h.subs, connID)
		}
	}
}

// Subscribers returns how many connections joined a lot
func (h *Hub) Subscribers(lotID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[lotID]; ok {
		return len(r.subs)
	}
	return 0
}

// Rooms returns how many lots have at least one subscriber
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Publish delivers an event to the lot's subscribers
func (h *Hub) Publish(ctx context.Context, ev models.Event) {
	h.Broadcast(ctx, ev)
}

// Broadcast queues ev for every subscriber of ev.LotID and returns without
// waiting for any write. A connection whose queue is full loses the event;
// the others are unaffected.
// A BID_PLACED whose version is not newer than the last delivered one for the
// lot is dropped, so a late publisher cannot rewind what subscribers saw.
func (h *Hub) Broadcast(_ context.Context, ev models.Event) {
	h.mu.RLock()
	r, ok := h.rooms[ev.LotID]
	var subs []*subscriber
	if ok {
		subs = make([]*subscriber, 0, len(r.subs))
		for _, s := range r.subs {
			subs = append(subs, s)
		}
	}
	h.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Type == models.EventBidPlaced && ev.Version > 0 {
		if ev.Version <= r.lastVersion {
			utils.Debug("Dropped stale bid event", map[string]any{
				"lot_id":       ev.LotID,
				"version":      ev.Version,
				"last_version": r.lastVersion,
			})
			return
		}
		r.lastVersion = ev.Version
	}

	for _, s := range subs {
		s.enqueue(ev)
	}
}

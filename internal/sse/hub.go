package sse

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dcard-ledger/internal/event"
	"dcard-ledger/internal/metrics"
)

const (
	defaultHeartbeat      = 30 * time.Second
	backpressureFullLimit = 5
)

// Hub fans voucher events out to the streams of the owning user.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}

	seq    atomic.Uint64
	replay *replayBuffer

	heartbeat time.Duration
	logger    *zap.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewHub(heartbeat time.Duration, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	hub := &Hub{
		clients:   make(map[int64]map[*Client]struct{}),
		replay:    newReplayBuffer(defaultReplaySize),
		heartbeat: heartbeat,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	go hub.runHeartbeat()

	return hub
}

// Attach forwards voucher.issued and voucher.burned from the bus to the
// owner's streams.
func (h *Hub) Attach(bus *event.Bus) {
	if h == nil || bus == nil {
		return
	}

	forward := func(eventType string) func(any) {
		return func(payload any) {
			p, ok := payload.(event.VoucherPayload)
			if !ok {
				return
			}
			h.Publish(p.OwnerUserID, eventType, p)
		}
	}
	bus.Subscribe(event.EventVoucherIssued, forward(EventVoucherIssued))
	bus.Subscribe(event.EventVoucherBurned, forward(EventVoucherBurned))
}

func (h *Hub) Register(client *Client) {
	if h == nil || client == nil {
		return
	}

	h.mu.Lock()
	set, ok := h.clients[client.OwnerUserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[client.OwnerUserID] = set
	}
	set[client] = struct{}{}
	count := h.countLocked()
	h.mu.Unlock()

	metrics.SetSSEClients(count)
}

func (h *Hub) Unregister(client *Client) {
	if h == nil || client == nil {
		return
	}

	h.mu.Lock()
	if set, ok := h.clients[client.OwnerUserID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, client.OwnerUserID)
		}
	}
	count := h.countLocked()
	h.mu.Unlock()

	client.Close()
	metrics.SetSSEClients(count)
}

// Publish records the event for replay and delivers it to every stream of
// owner.
func (h *Hub) Publish(owner int64, eventType string, payload any) Event {
	ev := newEvent(h.seq.Add(1), owner, eventType, payload)
	h.replay.push(ev)

	for _, client := range h.snapshot(owner) {
		h.dispatch(client, ev)
	}
	return ev
}

// Since returns the events owner missed after lastID.
func (h *Hub) Since(owner int64, lastID string) []Event {
	if h == nil {
		return nil
	}
	return h.replay.since(owner, lastID)
}

func (h *Hub) ConnectedCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

// Close stops the heartbeat and ends every open stream.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() {
		close(h.stopCh)
		for _, client := range h.snapshotAll() {
			h.Unregister(client)
		}
	})
}

func (h *Hub) countLocked() int {
	count := 0
	for _, set := range h.clients {
		count += len(set)
	}
	return count
}

func (h *Hub) snapshot(owner int64) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.clients[owner]
	out := make([]*Client, 0, len(set))
	for client := range set {
		out = append(out, client)
	}
	return out
}

func (h *Hub) snapshotAll() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, h.countLocked())
	for _, set := range h.clients {
		for client := range set {
			out = append(out, client)
		}
	}
	return out
}

func (h *Hub) dispatch(client *Client, ev Event) {
	select {
	case <-client.Done:
		return
	case client.Ch <- ev:
		client.fullStreak.Store(0)
		return
	default:
		streak := client.fullStreak.Add(1)
		h.logger.Warn("drop sse event due to full buffer",
			zap.Int64("owner_user_id", client.OwnerUserID),
			zap.String("type", ev.Type),
			zap.Int32("full_streak", streak),
		)
		if streak >= backpressureFullLimit {
			h.logger.Warn("disconnect slow sse client due to backpressure",
				zap.Int64("owner_user_id", client.OwnerUserID),
				zap.Int32("full_streak", streak),
			)
			h.Unregister(client)
		}
	}
}

func (h *Hub) runHeartbeat() {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case now := <-ticker.C:
			// Heartbeats are not replayed and do not advance the sequence.
			beat := Event{Type: EventHeartbeat, Data: `{"ts":"` + now.UTC().Format(time.RFC3339) + `"}`}
			for _, client := range h.snapshotAll() {
				h.dispatch(client, beat)
			}
		}
	}
}

package sse

import (
	"strconv"
	"sync"
)

const defaultReplaySize = 512

// replayBuffer keeps the most recent events so a reconnecting client can
// resume from Last-Event-ID.
type replayBuffer struct {
	mu    sync.RWMutex
	items []Event
	start int
	size  int
}

func newReplayBuffer(capacity int) *replayBuffer {
	if capacity <= 0 {
		capacity = defaultReplaySize
	}
	return &replayBuffer{items: make([]Event, capacity)}
}

func (rb *replayBuffer) push(event Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	capacity := len(rb.items)
	if rb.size < capacity {
		rb.items[(rb.start+rb.size)%capacity] = event
		rb.size++
		return
	}
	rb.items[rb.start] = event
	rb.start = (rb.start + 1) % capacity
}

// since returns the owner's events newer than lastID. An unparsable lastID
// replays nothing rather than everything.
func (rb *replayBuffer) since(owner int64, lastID string) []Event {
	if lastID == "" {
		return nil
	}
	lastSeq, err := strconv.ParseUint(lastID, 10, 64)
	if err != nil {
		return nil
	}

	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]Event, 0)
	capacity := len(rb.items)
	for i := 0; i < rb.size; i++ {
		event := rb.items[(rb.start+i)%capacity]
		if event.seq <= lastSeq {
			continue
		}
		if event.Owner != 0 && event.Owner != owner {
			continue
		}
		out = append(out, event)
	}
	return out
}

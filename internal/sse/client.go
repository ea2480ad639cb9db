package sse

import (
	"sync"
	"sync/atomic"
)

const defaultClientBuffer = 64

// Client is one open event stream. An owner may hold several (one per tab).
type Client struct {
	OwnerUserID int64
	Ch          chan Event
	Done        chan struct{}

	fullStreak atomic.Int32
	closeOnce  sync.Once
}

func NewClient(ownerUserID int64) *Client {
	return &Client{
		OwnerUserID: ownerUserID,
		Ch:          make(chan Event, defaultClientBuffer),
		Done:        make(chan struct{}),
	}
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.Done)
	})
}

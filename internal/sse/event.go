package sse

import (
	"encoding/json"
	"strconv"
)

const (
	EventHeartbeat     = "heartbeat"
	EventVoucherIssued = "voucher.issued"
	EventVoucherBurned = "voucher.burned"
)

// Event is one SSE frame. Owner routes it; zero means every client.
type Event struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Data  string `json:"data"`
	Owner int64  `json:"-"`
	seq   uint64
}

func newEvent(seq uint64, owner int64, eventType string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}

	return Event{
		ID:    strconv.FormatUint(seq, 10),
		Type:  eventType,
		Data:  string(data),
		Owner: owner,
		seq:   seq,
	}
}

package event

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	EventVoucherIssued = "voucher.issued"
	EventVoucherBurned = "voucher.burned"
)

// VoucherPayload describes a completed ledger write. Amount is in minor units.
type VoucherPayload struct {
	Kind        string    `json:"kind"`
	Code        string    `json:"code"`
	OwnerUserID int64     `json:"userId"`
	Beneficiary string    `json:"beneficiary"`
	Amount      int64     `json:"amount"`
	Handle      string    `json:"txHash"`
	BlockNumber *uint64   `json:"blockNumber,omitempty"`
	At          time.Time `json:"at"`
}

// Bus fans payloads out to subscribers, one goroutine per handler. A slow or
// panicking subscriber never reaches the publisher.
type Bus struct {
	handlers sync.Map
	mu       sync.Mutex
	inflight sync.WaitGroup
	logger   *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

func (b *Bus) Subscribe(event string, handler func(payload any)) {
	if b == nil || handler == nil {
		return
	}

	eventName := strings.TrimSpace(event)
	if eventName == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := make([]func(payload any), 0, 1)
	if current, ok := b.handlers.Load(eventName); ok {
		if casted, valid := current.([]func(payload any)); valid {
			handlers = append(handlers, casted...)
		}
	}
	handlers = append(handlers, handler)
	b.handlers.Store(eventName, handlers)
}

func (b *Bus) Publish(event string, payload any) {
	if b == nil {
		return
	}

	eventName := strings.TrimSpace(event)
	current, ok := b.handlers.Load(eventName)
	if !ok {
		return
	}
	handlers, ok := current.([]func(payload any))
	if !ok {
		return
	}

	for _, handler := range handlers {
		b.inflight.Add(1)
		go b.dispatch(eventName, handler, payload)
	}
}

// Wait blocks until every handler started so far has returned.
func (b *Bus) Wait() {
	if b == nil {
		return
	}
	b.inflight.Wait()
}

func (b *Bus) dispatch(eventName string, handler func(payload any), payload any) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event", eventName),
				zap.Any("panic", r),
			)
		}
	}()
	handler(payload)
}

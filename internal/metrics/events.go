package metrics

import "dcard-ledger/internal/event"

// Attach counts issued and burned vouchers as they are published on bus.
func Attach(bus *event.Bus) {
	if bus == nil {
		return
	}
	bus.Subscribe(event.EventVoucherIssued, func(payload any) {
		if p, ok := payload.(event.VoucherPayload); ok {
			IncIssued(p.Kind)
		}
	})
	bus.Subscribe(event.EventVoucherBurned, func(payload any) {
		if p, ok := payload.(event.VoucherPayload); ok {
			IncBurned(p.Kind)
		}
	})
}

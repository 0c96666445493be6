package shared

import (
	"context"

	"github.com/mklimuk/sharedbus"
)

var _ sharedbus.I2CBus = &Handle{}

type HandleOption func(*Handle)

// Named sets the client name used in logs, metrics and transaction tags.
func Named(name string) HandleOption {
	return func(h *Handle) {
		if name != "" {
			h.name = name
		}
	}
}

// Handle is a non-owning proxy to a Manager. It is safe for concurrent use.
type Handle struct {
	manager *Manager
	name    string
}

func (h *Handle) Name() string {
	return h.name
}

// Transaction runs ops back-to-back against address while holding the bus.
func (h *Handle) Transaction(ctx context.Context, address byte, ops ...sharedbus.Op) error {
	return h.manager.transaction(ctx, h.name, address, ops)
}

func (h *Handle) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	return h.Transaction(ctx, address, sharedbus.Write(buffer...))
}

func (h *Handle) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	return h.Transaction(ctx, address, sharedbus.Read(buffer))
}

func (h *Handle) WriteReadAddr(ctx context.Context, address byte, w, r []byte) error {
	return h.Transaction(ctx, address, sharedbus.WriteRead(w, r))
}

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"pulsehub/internal/bus"
)

// Dispatcher is the fan-out half of the engine (C6): it subscribes to every
// channel topic on the bus and, for each envelope, enqueues the matching
// wire frame onto every local connection the registry currently lists as
// subscribed. It holds no state of its own beyond the Registry reference.
type Dispatcher struct {
	bus      bus.Bus
	registry *Registry
}

func NewDispatcher(b bus.Bus, registry *Registry) *Dispatcher {
	return &Dispatcher{bus: b, registry: registry}
}

// Run subscribes to all channel topics and delivers until ctx is canceled.
// It is meant to run for the lifetime of the process, one instance per node.
func (d *Dispatcher) Run(ctx context.Context) error {
	messages, err := d.bus.Subscribe(ctx, "channel.*")
	if err != nil {
		return err
	}

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return ctx.Err()
			}
			d.deliver(msg.Payload)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) deliver(payload []byte) {
	var env bus.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Error("dispatcher: malformed envelope on bus", "error", err)
		return
	}

	subscribers := d.registry.Subscribers(env.Channel)
	if len(subscribers) == 0 {
		return
	}

	frame := mustMarshal(outboundFrame{
		Event:   env.Event,
		Channel: env.Channel,
		Data:    env.Data,
	})
	for _, conn := range subscribers {
		conn.enqueue(frame)
	}
}

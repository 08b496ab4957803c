package node

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/kaiser-edge/internal/faults"
	"github.com/nerrad567/kaiser-edge/internal/router"
)

// EventKind classifies the work posted to the loop.
type EventKind uint8

const (
	// EventMessage is an inbound bus message.
	EventMessage EventKind = iota
	// EventProvision carries settings submitted through the portal.
	EventProvision
	// EventBusResult reports the end of a broker connection attempt.
	EventBusResult
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventProvision:
		return "provision"
	case EventBusResult:
		return "bus_result"
	}
	return "unknown"
}

// Event is one unit of work for the loop.
type Event struct {
	Kind    EventKind
	Route   router.Route
	Topic   string
	Payload []byte

	Provision *Provisioning

	// Err and SubscribeErr describe a failed connection attempt or a
	// failed subscription after a successful one.
	Err          error
	SubscribeErr error

	reply chan error
}

func (e *Event) emergency() bool {
	return e.Kind == EventMessage && e.Route.Kind.IsEmergency()
}

// HandleMessage queues an inbound bus message. It has the signature of
// mqtt.MessageHandler and is safe to call from any goroutine. Topics that
// do not belong to this node are rejected here, off the loop.
func (n *Node) HandleMessage(topic string, payload []byte) error {
	route, err := router.ParseTopic(n.cfg.Topics, topic)
	if err != nil {
		return fmt.Errorf("routing %q: %w", topic, err)
	}
	return n.post(Event{Kind: EventMessage, Route: route, Topic: topic, Payload: payload})
}

// Provision validates p and hands it to the loop, waiting for the loop to
// accept or refuse it. It is safe to call from any goroutine.
func (n *Node) Provision(ctx context.Context, p Provisioning) error {
	if err := p.Validate(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	if err := n.post(Event{Kind: EventProvision, Provision: &p, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues ev. Ordinary events are dropped when the queue is full;
// emergency messages wait briefly for room.
func (n *Node) post(ev Event) error {
	if ev.emergency() {
		timer := time.NewTimer(emergencyPostTimeout)
		defer timer.Stop()
		select {
		case n.events <- ev:
			n.notify()
			return nil
		case <-timer.C:
			n.logger.Error("event queue full, emergency message dropped", "kind", ev.Route.Kind.String())
			return ErrQueueFull
		}
	}
	select {
	case n.events <- ev:
		n.notify()
		return nil
	default:
		n.logger.Warn("event queue full, message dropped", "event", ev.Kind.String(), "topic", ev.Topic)
		return ErrQueueFull
	}
}

// notify wakes the loop early so queued work does not wait for the tick.
func (n *Node) notify() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// drain handles what is queued right now, emergency messages first. Events
// posted while draining wait for the next tick.
func (n *Node) drain(ctx context.Context) {
	batch := n.batch[:0]
collect:
	for len(batch) < cap(n.batch) {
		select {
		case ev := <-n.events:
			batch = append(batch, ev)
		default:
			break collect
		}
	}
	if len(batch) == 0 {
		return
	}

	slices.SortStableFunc(batch, func(a, b Event) int {
		switch ae, be := a.emergency(), b.emergency(); {
		case ae == be:
			return 0
		case ae:
			return -1
		default:
			return 1
		}
	})

	for i := range batch {
		n.handle(ctx, &batch[i])
		batch[i] = Event{}
	}
	n.batch = batch[:0]
}

func (n *Node) handle(ctx context.Context, ev *Event) {
	switch ev.Kind {
	case EventMessage:
		n.Router.Handle(ctx, ev.Route, ev.Payload)
	case EventProvision:
		ev.reply <- n.applyProvisioning(ctx, *ev.Provision)
	case EventBusResult:
		n.busResult(ctx, ev)
	}
}

// applyProvisioning stores session settings and lets the lifecycle return
// to Boot. A changed broker endpoint needs a new transport, so it also
// schedules a restart.
func (n *Node) applyProvisioning(ctx context.Context, p Provisioning) error {
	now := n.clock.Millis()
	if st := n.Lifecycle.State(); !st.PortalActive() {
		return fmt.Errorf("%w in state %s", ErrNotProvisioning, st)
	}
	if err := SaveProvisioning(ctx, n.store, p); err != nil {
		n.Faults.Record(faults.ConfigSave, faults.SeverityError, err.Error(), now)
		n.logger.Error("persisting provisioning failed", "error", err)
		return err
	}
	n.provisioned = true
	n.Lifecycle.ConfigReceived()
	n.logger.Info("provisioning received", "ssid", p.SSID, "broker_host", p.BrokerHost, "broker_port", p.BrokerPort)

	if p.BrokerHost != n.cfg.BrokerHost || p.port() != n.cfg.BrokerPort ||
		(p.CoordinatorID != "" && p.CoordinatorID != n.cfg.Topics.Coordinator) {
		n.Reboot("provisioned broker changed")
	}
	return nil
}

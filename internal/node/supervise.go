package node

import (
	"context"
	"errors"

	"github.com/nerrad567/kaiser-edge/internal/clock"
	"github.com/nerrad567/kaiser-edge/internal/faults"
	"github.com/nerrad567/kaiser-edge/internal/lifecycle"
)

// loopComponent is the name the loop feeds the watchdog under.
const loopComponent = "control_loop"

// superviseLink polls the link at most every LinkCheckIntervalMs, and only
// when the network breaker allows an attempt. Only the loss of a working
// link is recorded as a fault; repeated failures are the breaker's job.
func (n *Node) superviseLink(ctx context.Context, now uint32) {
	if n.linkChecked && !clock.Expired(now, n.linkCheckedAt, n.cfg.LinkCheckIntervalMs) {
		return
	}
	if !n.Network.AllowAttempt(now) {
		return
	}
	n.linkChecked, n.linkCheckedAt = true, now

	up, err := n.link.Up()
	if err == nil && up {
		n.Network.RecordSuccess(now)
		if !n.linkUp {
			n.logger.Info("network link up")
		}
		n.linkUp = true
		if err := n.Lifecycle.LinkUp(ctx, now); err != nil {
			n.storageFault(err, now)
		}
		return
	}

	n.Network.RecordFailure(now)
	if n.linkUp {
		detail := "network link down"
		if err != nil {
			detail = err.Error()
		}
		n.Faults.Record(faults.LinkLost, faults.SeverityWarning, detail, now)
		n.logger.Warn("network link lost", "error", err)
	}
	n.linkUp = false

	// A link that cannot even be queried will not come up by waiting.
	if err != nil && n.Lifecycle.State() == lifecycle.Boot {
		n.Faults.Record(faults.LinkConnect, faults.SeverityError, err.Error(), now)
		if err := n.Lifecycle.LinkFailed(ctx, now); err != nil {
			n.storageFault(err, now)
		}
	}
}

// superviseBus notices a lost broker session and starts a new connection
// attempt when the link is up, the lifecycle has left the provisioning
// states, the retry spacing has passed and the bus breaker allows it. The
// attempt runs in its own goroutine and reports back with EventBusResult.
func (n *Node) superviseBus(ctx context.Context, now uint32) {
	connected := n.transport.IsConnected()
	if n.busUp && !connected {
		n.busUp = false
		n.Bus.RecordFailure(now)
		n.Faults.Record(faults.BusLost, faults.SeverityWarning, "broker session lost", now)
		n.logger.Warn("bus connection lost")
	}
	if connected || n.connecting || !n.linkUp {
		return
	}
	switch n.Lifecycle.State() {
	case lifecycle.Boot, lifecycle.WifiSetup, lifecycle.SafeModeProvisioning:
		return
	}
	if n.busAttempted && !clock.Expired(now, n.busAttemptAt, n.cfg.BusRetryMs) {
		return
	}
	if !n.Bus.AllowAttempt(now) {
		return
	}

	n.busAttempted, n.busAttemptAt, n.connecting = true, now, true
	if err := n.Lifecycle.BusConnecting(ctx, now); err != nil {
		n.storageFault(err, now)
	}
	n.logger.Debug("bus connect attempt", "failures", n.Bus.Failures())
	go n.connect(ctx)
}

// connect runs off the loop. The result is always delivered, waiting for
// room in the queue if needed, so the loop never stays in connecting.
func (n *Node) connect(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	ev := Event{Kind: EventBusResult}
	if err := n.transport.Reconnect(cctx); err != nil {
		ev.Err = err
	} else {
		for _, topic := range n.cfg.Topics.Inbound() {
			if err := n.transport.Subscribe(topic, subscribeQoS, n.HandleMessage); err != nil {
				ev.SubscribeErr = errors.Join(ev.SubscribeErr, err)
			}
		}
	}

	select {
	case n.events <- ev:
		n.notify()
	case <-ctx.Done():
	}
}

func (n *Node) busResult(ctx context.Context, ev *Event) {
	now := n.clock.Millis()
	n.connecting = false
	if ev.Err != nil {
		n.Bus.RecordFailure(now)
		n.logger.Warn("bus connect failed", "error", ev.Err, "failures", n.Bus.Failures())
		return
	}
	if ev.SubscribeErr != nil {
		n.Faults.Record(faults.BusSubscribe, faults.SeverityWarning, ev.SubscribeErr.Error(), now)
		n.logger.Warn("bus subscriptions incomplete", "error", ev.SubscribeErr)
	}

	n.Bus.RecordSuccess(now)
	n.busUp = true
	if err := n.Lifecycle.BusConnected(ctx, now); err != nil {
		n.storageFault(err, now)
	}
	n.logger.Info("bus connected", "state", n.Lifecycle.State().String())

	n.Router.PublishStatuses(now)
	if n.previousRun != nil && !n.previousReported {
		n.previousReported = true
		n.publish(n.cfg.Topics.Diagnostics(), previousRunReport{PreviousRun: n.previousRun, Timestamp: now})
		d := n.previousRun
		n.telemetry.WriteWatchdogTimeout(d.Mode.String(), d.Reason, d.LastFeedComponent, d.FeedCount)
	}
	n.sendHeartbeat(now)
}

// superviseWatchdog feeds on the feed interval and checks the deadline.
// Feeding is subject to the supervisor's health gates.
func (n *Node) superviseWatchdog(ctx context.Context, now uint32) {
	if n.Watchdog.Due(now) {
		n.Watchdog.Feed(loopComponent, now)
	}
	if !n.Watchdog.Check(ctx, now) {
		return
	}
	st := n.Watchdog.Status()
	detail := "feed deadline missed"
	if st.WithheldReason != "" {
		detail += ": " + st.WithheldReason
	}
	n.Faults.Record(faults.WatchdogTimeout, faults.SeverityError, detail, now)
	n.telemetry.WriteWatchdogTimeout(st.Mode.String(), "feed_timeout", st.LastFeedComponent, st.FeedCount)
}

// busPublisher sends through the transport while a session is up and
// drops silently otherwise; every retained status is republished on
// connect. Publish failures count against the bus breaker.
type busPublisher struct {
	n *Node
}

func (p busPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if !p.n.transport.IsConnected() {
		p.n.logger.Debug("bus down, publish dropped", "topic", topic)
		return nil
	}
	if err := p.n.transport.Publish(topic, payload, qos, retained); err != nil {
		p.n.Bus.RecordFailure(p.n.clock.Millis())
		return err
	}
	return nil
}

// Package node drives the control loop of an edge node.
//
// A Node owns every component of the safety layer and runs them from the
// single goroutine in Run. Other goroutines (bus callbacks, the portal,
// signal handling) only post events into a bounded queue. Each tick drains
// the queue with emergency messages first, then advances the lifecycle,
// supervises the network link and the bus through their breakers, enforces
// actuator runtime protection, steps the resume sequence, publishes
// heartbeat and telemetry, and feeds the watchdog. Nothing inside a tick
// waits on the network; slow work runs in a goroutine and reports back as
// an event.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/kaiser-edge/internal/actuator"
	"github.com/nerrad567/kaiser-edge/internal/breaker"
	"github.com/nerrad567/kaiser-edge/internal/clock"
	"github.com/nerrad567/kaiser-edge/internal/faults"
	"github.com/nerrad567/kaiser-edge/internal/gpio"
	"github.com/nerrad567/kaiser-edge/internal/hal"
	"github.com/nerrad567/kaiser-edge/internal/infrastructure/mqtt"
	"github.com/nerrad567/kaiser-edge/internal/lifecycle"
	"github.com/nerrad567/kaiser-edge/internal/router"
	"github.com/nerrad567/kaiser-edge/internal/safety"
	"github.com/nerrad567/kaiser-edge/internal/sensor"
	"github.com/nerrad567/kaiser-edge/internal/storage"
	"github.com/nerrad567/kaiser-edge/internal/watchdog"
)

var (
	// ErrReboot is returned by Run when a reboot was requested.
	ErrReboot = errors.New("node: reboot requested")

	// ErrQueueFull is returned when an event could not be queued.
	ErrQueueFull = errors.New("node: event queue full")

	// ErrNotProvisioning is returned by Provision outside the provisioning
	// states.
	ErrNotProvisioning = errors.New("node: not accepting provisioning")

	// ErrMissingDependency is returned by New when a required collaborator
	// is nil.
	ErrMissingDependency = errors.New("node: missing dependency")
)

// Loop defaults, used when the corresponding Config field is zero.
const (
	defaultTickMs              = 50
	defaultHeartbeatIntervalMs = 60_000
	defaultTelemetryIntervalMs = 30_000
	defaultLinkCheckIntervalMs = 1_000
	defaultBusRetryMs          = 5_000
	defaultQueueSize           = 64

	// connectTimeout bounds one broker connection attempt.
	connectTimeout = 10 * time.Second

	// emergencyPostTimeout is how long an emergency message waits for room
	// in a full queue.
	emergencyPostTimeout = 100 * time.Millisecond

	// subscribeQoS is used for every inbound subscription.
	subscribeQoS byte = 1
)

// Transport is the message bus. *mqtt.Client implements it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	// Reconnect makes one connection attempt and returns when it settles or
	// ctx ends.
	Reconnect(ctx context.Context) error
}

// Link reports the state of the network link. Up must not block for long;
// it is called from the loop.
type Link interface {
	Up() (bool, error)
}

// Logger defines the logging interface used by the Node and handed to the
// components it owns.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds everything the node needs besides its collaborators.
type Config struct {
	Topics  mqtt.Topics
	Version string

	// Provisioned tells whether network and broker settings exist. Without
	// them the lifecycle starts in WifiSetup.
	Provisioned bool

	// BrokerHost and BrokerPort are the endpoint the transport was built
	// for. Provisioning a different endpoint requests a restart.
	BrokerHost string
	BrokerPort int

	// EmergencyToken is used until a token has been stored.
	EmergencyToken string

	TickMs              uint32
	HeartbeatIntervalMs uint32
	TelemetryIntervalMs uint32
	LinkCheckIntervalMs uint32
	BusRetryMs          uint32
	QueueSize           int

	Pins      gpio.Config
	Safety    safety.Config
	Network   breaker.Config
	Bus       breaker.Config
	Watchdog  watchdog.Config
	Lifecycle lifecycle.Config
}

func (c *Config) applyDefaults() {
	if c.TickMs == 0 {
		c.TickMs = defaultTickMs
	}
	if c.HeartbeatIntervalMs == 0 {
		c.HeartbeatIntervalMs = defaultHeartbeatIntervalMs
	}
	if c.TelemetryIntervalMs == 0 {
		c.TelemetryIntervalMs = defaultTelemetryIntervalMs
	}
	if c.LinkCheckIntervalMs == 0 {
		c.LinkCheckIntervalMs = defaultLinkCheckIntervalMs
	}
	if c.BusRetryMs == 0 {
		c.BusRetryMs = defaultBusRetryMs
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
}

// Deps are the collaborators of a node. Store, Pins, Transport and Link are
// required.
type Deps struct {
	Store     storage.Store
	Pins      hal.PinController
	ADC       hal.AnalogReader
	Indicator hal.Indicator
	Watchdog  watchdog.Primitive
	Transport Transport
	Link      Link
	Telemetry Telemetry

	// Clock drives every timer of the loop. Defaults to a monotonic clock.
	Clock clock.Clock
	// WallClock stamps the boot for boot-loop detection across restarts.
	// Defaults to the system wall clock.
	WallClock clock.Clock
}

// Node is the node context. The exported components belong to the loop;
// read them only from inside it or before Run starts.
type Node struct {
	cfg       Config
	logger    Logger
	clock     clock.Clock
	wall      clock.Clock
	store     storage.Store
	transport Transport
	link      Link
	telemetry Telemetry
	indicator hal.Indicator

	events chan Event
	wake   chan struct{}
	batch  []Event

	Ledger    *gpio.Ledger
	Actuators *actuator.Registry
	Sensors   *sensor.Registry
	Safety    *safety.Controller
	Lifecycle *lifecycle.Machine
	Faults    *faults.Tracker
	Network   *breaker.Breaker
	Bus       *breaker.Breaker
	Watchdog  *watchdog.Supervisor
	Router    *router.Router

	provisioned bool
	startedAt   uint32

	linkUp        bool
	linkCheckedAt uint32
	linkChecked   bool

	busUp        bool
	connecting   bool
	busAttemptAt uint32
	busAttempted bool

	heartbeatAt uint32
	telemetryAt uint32

	// previousRun is the diagnostics snapshot of a run that ended in a
	// watchdog reset; it is published once the bus is up.
	previousRun      *watchdog.Diagnostics
	previousReported bool

	rebootReason  string
	configuredWDT watchdog.Mode
	snapshot      atomic.Pointer[Status]
}

// New builds a node and all of its components.
func New(cfg Config, deps Deps) (*Node, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	case deps.Pins == nil:
		return nil, fmt.Errorf("%w: pin controller", ErrMissingDependency)
	case deps.Transport == nil:
		return nil, fmt.Errorf("%w: transport", ErrMissingDependency)
	case deps.Link == nil:
		return nil, fmt.Errorf("%w: link", ErrMissingDependency)
	}
	cfg.applyDefaults()

	n := &Node{
		cfg:           cfg,
		logger:        noopLogger{},
		clock:         deps.Clock,
		wall:          deps.WallClock,
		store:         deps.Store,
		transport:     deps.Transport,
		link:          deps.Link,
		telemetry:     deps.Telemetry,
		indicator:     deps.Indicator,
		events:        make(chan Event, cfg.QueueSize),
		wake:          make(chan struct{}, 1),
		batch:         make([]Event, 0, cfg.QueueSize),
		provisioned:   cfg.Provisioned,
		configuredWDT: cfg.Watchdog.Mode,
	}
	if n.clock == nil {
		n.clock = clock.NewMonotonic()
	}
	if n.wall == nil {
		n.wall = clock.Wall{}
	}
	if n.telemetry == nil {
		n.telemetry = noopTelemetry{}
	}
	if n.indicator == nil {
		n.indicator = hal.NewLogIndicator(nil, nil, -1)
	}

	n.Ledger = gpio.New(cfg.Pins, deps.Pins)
	n.Actuators = actuator.NewRegistry(n.Ledger, deps.Pins, n.clock)
	n.Sensors = sensor.NewRegistry(n.Ledger, deps.Pins, deps.ADC)
	n.Safety = safety.New(n.Actuators, cfg.Safety)
	n.Lifecycle = lifecycle.New(cfg.Lifecycle, deps.Store)
	n.Faults = faults.NewTracker()
	n.Network = breaker.New(cfg.Network)
	n.Bus = breaker.New(cfg.Bus)
	n.Watchdog = watchdog.New(cfg.Watchdog, deps.Watchdog, watchdog.Deps{
		Network:   n.Network,
		Bus:       n.Bus,
		Faults:    n.Faults,
		InError:   func() bool { return n.Lifecycle.State() == lifecycle.Error },
		Store:     deps.Store,
		Indicator: n.indicator,
	})
	n.Router = router.New(router.Deps{
		Topics:    cfg.Topics,
		Publisher: busPublisher{n: n},
		Store:     deps.Store,
		Ledger:    n.Ledger,
		Actuators: n.Actuators,
		Sensors:   n.Sensors,
		Safety:    n.Safety,
		Lifecycle: n.Lifecycle,
		Faults:    n.Faults,
		Clock:     n.clock,
		System:    n,
		Recorder:  n,
	})

	n.Lifecycle.OnTransition(n.onLifecycleTransition)
	n.Network.OnTransition(n.onBreakerTransition)
	n.Bus.OnTransition(n.onBreakerTransition)
	return n, nil
}

// SetLogger sets the logger of the node and of every component it owns.
func (n *Node) SetLogger(logger Logger) {
	n.logger = logger
	n.Ledger.SetLogger(logger)
	n.Actuators.SetLogger(logger)
	n.Safety.SetLogger(logger)
	n.Lifecycle.SetLogger(logger)
	n.Watchdog.SetLogger(logger)
	n.Router.SetLogger(logger)
}

// Run boots the node and runs the loop until ctx ends or a reboot is
// requested, in which case it returns an error wrapping ErrReboot. On
// return every actuator has been driven off.
func (n *Node) Run(ctx context.Context) error {
	n.start(ctx)
	defer n.shutdown()

	ticker := time.NewTicker(time.Duration(n.cfg.TickMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		n.step(ctx)
		if n.rebootReason != "" {
			return fmt.Errorf("%w: %s", ErrReboot, n.rebootReason)
		}
		select {
		case <-ctx.Done():
			n.logger.Info("control loop stopping")
			return nil
		case <-ticker.C:
		case <-n.wake:
		}
	}
}

// start restores persisted state and boots the lifecycle. Failures are
// recorded as faults; the loop runs regardless so the node stays
// reachable.
func (n *Node) start(ctx context.Context) {
	now := n.clock.Millis()
	n.startedAt = now
	n.heartbeatAt = now
	n.telemetryAt = now

	if err := n.Watchdog.Start(now); err != nil {
		n.Faults.Record(faults.WatchdogInit, faults.SeverityError, err.Error(), now)
		n.logger.Error("watchdog init failed", "error", err)
	}
	if d, ok := n.Watchdog.LoadPreviousDiagnostics(ctx); ok {
		n.previousRun = &d
		n.Faults.Record(faults.WatchdogTimeout, faults.SeverityWarning, "previous run ended in a watchdog reset", now)
		n.logger.Warn("previous run ended in a watchdog reset",
			"last_feed_component", d.LastFeedComponent, "withheld_reason", d.WithheldReason)
	}

	if err := n.Lifecycle.Boot(ctx, now, n.wall.Millis(), n.provisioned); err != nil {
		n.storageFault(err, now)
	}
	if err := n.Router.Restore(ctx, n.cfg.EmergencyToken); err != nil {
		n.Faults.Record(faults.ConfigLoad, faults.SeverityError, err.Error(), now)
		n.logger.Error("restoring configuration failed", "error", err)
	}
	for _, pin := range n.Actuators.GPIOs() {
		n.Safety.Adopt(pin, now)
	}

	n.logger.Info("node started",
		"version", n.cfg.Version,
		"state", n.Lifecycle.State().String(),
		"boot_count", n.Lifecycle.BootDiagnostics().BootCount,
		"actuators", n.Actuators.Len(),
		"sensors", n.Sensors.Len(),
	)
	n.showIndicator()
	n.publishSnapshot(now)
}

// step runs one tick of the loop.
func (n *Node) step(ctx context.Context) {
	n.drain(ctx)
	now := n.clock.Millis()

	if err := n.Lifecycle.Tick(ctx, now); err != nil {
		n.storageFault(err, now)
	}
	n.superviseLink(ctx, now)
	n.superviseBus(ctx, now)

	if err := n.Lifecycle.Advance(ctx, n.progress(), now); err != nil {
		n.storageFault(err, now)
	}
	if n.Faults.HasCritical() && n.Lifecycle.State() != lifecycle.Error {
		if err := n.Lifecycle.EnterError(ctx, lifecycle.ReasonCriticalFault, now); err != nil {
			n.storageFault(err, now)
		}
	}

	n.Router.PublishAlerts(ctx, n.Actuators.Tick(now))
	n.Router.PublishOutcome(ctx, n.Safety.Tick(now), now)

	n.heartbeat(now)
	n.periodicTelemetry(now)
	n.superviseWatchdog(ctx, now)

	n.showIndicator()
	n.publishSnapshot(now)
}

func (n *Node) progress() lifecycle.Progress {
	return lifecycle.Progress{
		ZoneAssigned:         n.Router.Zone() != nil,
		ComponentsConfigured: n.Actuators.Len()+n.Sensors.Len() > 0,
	}
}

// shutdown drives every actuator off and releases the watchdog.
func (n *Node) shutdown() {
	now := n.clock.Millis()
	for _, pin := range n.Actuators.GPIOs() {
		if err := n.Actuators.ForceOff(pin, now); err != nil {
			n.logger.Error("driving actuator off at shutdown failed", "gpio", pin, "error", err)
		}
	}
	if err := n.Watchdog.Close(); err != nil {
		n.logger.Warn("closing watchdog failed", "error", err)
	}
	n.logger.Info("node stopped")
}

// onLifecycleTransition keeps the watchdog mode in line with the state and
// forces outputs off when the node falls into SafeMode or Error.
func (n *Node) onLifecycleTransition(t lifecycle.Transition) {
	mode := n.configuredWDT
	switch t.To {
	case lifecycle.WifiSetup, lifecycle.SafeModeProvisioning:
		mode = watchdog.ModeProvisioning
	case lifecycle.SafeMode:
		mode = watchdog.ModeSafeMode
	}
	if n.configuredWDT == watchdog.ModeDisabled {
		mode = watchdog.ModeDisabled
	}
	if err := n.Watchdog.SetMode(mode, t.At); err != nil {
		n.Faults.Record(faults.WatchdogInit, faults.SeverityError, err.Error(), t.At)
		n.logger.Error("switching watchdog mode failed", "mode", mode.String(), "error", err)
	}

	switch t.To {
	case lifecycle.SafeMode, lifecycle.Error:
		for _, pin := range n.Actuators.GPIOs() {
			if err := n.Actuators.ForceOff(pin, t.At); err != nil {
				n.logger.Error("driving actuator off failed", "gpio", pin, "error", err)
			}
		}
	}

	// A manual reset out of SafeMode or Error acknowledges the critical
	// faults that put the node there.
	if t.To == lifecycle.Boot && t.Reason == lifecycle.ReasonManual {
		for _, f := range n.Faults.ActiveCritical() {
			n.Faults.ClearCritical(f.Code)
		}
	}
}

func (n *Node) onBreakerTransition(t breaker.Transition) {
	n.logger.Info("breaker transition",
		"service", t.Name, "from", t.From.String(), "to", t.To.String(), "failures", t.Failures)
	n.telemetry.WriteBreakerTransition(t.Name, t.From.String(), t.To.String(), t.Failures)
}

// storageFault records a failed persistence step of the lifecycle.
func (n *Node) storageFault(err error, now uint32) {
	n.Faults.Record(faults.StorageWrite, faults.SeverityError, err.Error(), now)
	n.logger.Error("lifecycle persistence failed", "error", err)
}

func (n *Node) showIndicator() {
	switch {
	case n.Safety.Latched():
		n.indicator.Show(hal.PatternEmergency)
		return
	case n.Watchdog.Status().TimedOut:
		n.indicator.Show(hal.PatternWatchdogTimeout)
		return
	}
	n.indicator.Show(lifecycle.Pattern(n.Lifecycle.State(), n.Lifecycle.Reason()))
}

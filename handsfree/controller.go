package handsfree

import (
	"context"
	"errors"
	"fmt"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/config"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/bluetuith-org/handsfree/api/eventbus"
	sstore "github.com/bluetuith-org/handsfree/api/helpers/sessionstore"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// handlerFunc applies one indication to the session.
type handlerFunc func(ev bluetooth.Event)

// Controller is the hands-free session state machine.
//
// A single goroutine, the one calling Run, consumes indications from the event
// channel and owns the session. Commands issued while handling one indication
// complete before the next indication is consumed.
type Controller struct {
	stack      bluetooth.HandsFreeStack
	cfg        config.Configuration
	authorizer bluetooth.ConnectionAuthorizer

	log   *logrus.Entry
	bus   *eventbus.Bus
	store sstore.SessionStore

	channel  *Channel
	handlers map[bluetooth.EventKind]handlerFunc
	sink     commandSink

	started  atomic.Bool
	running  atomic.Bool
	snapshot atomic.Pointer[Session]

	// Owned by the Run goroutine.
	session Session
	outcome error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used by the controller.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithEventBus sets the bus that observability events are published to.
func WithEventBus(bus *eventbus.Bus) Option {
	return func(c *Controller) {
		c.bus = bus
	}
}

// WithAuthorizer sets the authorizer consulted when a peer connects.
func WithAuthorizer(authorizer bluetooth.ConnectionAuthorizer) Option {
	return func(c *Controller) {
		if authorizer != nil {
			c.authorizer = authorizer
		}
	}
}

// NewController returns a controller for the given stack.
func NewController(stack bluetooth.HandsFreeStack, cfg config.Configuration, opts ...Option) (*Controller, error) {
	if stack == nil {
		return nil, fmt.Errorf("stack is nil: %w", errorkinds.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		stack:      stack,
		cfg:        cfg,
		authorizer: bluetooth.DefaultAuthorizer{},
		log:        logrus.NewEntry(logrus.StandardLogger()).WithField("name", "session"),
		store:      sstore.NewSessionStore(),
		channel:    NewChannel(cfg.QueueCapacity),
	}
	for _, opt := range opts {
		opt(c)
	}

	relay, _ := stack.(bluetooth.DataRelay)
	c.sink = commandSink{stack: stack, relay: relay, log: c.log, bus: c.bus}

	c.handlers = map[bluetooth.EventKind]handlerFunc{
		bluetooth.EventStart:        c.handleStart,
		bluetooth.EventStop:         c.handleStop,
		bluetooth.EventConnect:      c.handleConnect,
		bluetooth.EventDisconnect:   c.handleDisconnect,
		bluetooth.EventCall:         c.handleCall,
		bluetooth.EventRing:         c.handleRing,
		bluetooth.EventDataReceived: c.handleData,
		bluetooth.EventCallSetup:    c.handleIndicator,
		bluetooth.EventCallHeld:     c.handleIndicator,
		bluetooth.EventNetwork:      c.handleIndicator,
		bluetooth.EventSignal:       c.handleIndicator,
		bluetooth.EventBattery:      c.handleIndicator,
		bluetooth.EventAudio:        c.handleIndicator,
		bluetooth.EventVolume:       c.handleIndicator,
		bluetooth.EventNetworkType:  c.handleIndicator,
		bluetooth.EventCodec:        c.handleIndicator,
	}

	initial := Session{}
	c.snapshot.Store(&initial)

	return c, nil
}

// Channel returns the event channel the controller consumes from.
func (c *Controller) Channel() *Channel {
	return c.channel
}

// Snapshot returns a copy of the last-known session state.
func (c *Controller) Snapshot() Session {
	return *c.snapshot.Load()
}

// Running reports whether the stack has started and not yet stopped.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Store returns the last-known indicator values.
func (c *Controller) Store() *sstore.SessionStore {
	return &c.store
}

// Run initializes and starts the stack, then processes indications until a
// stop indication or a fatal error. It releases the stack before returning.
//
// A nil error means the stack stopped cleanly. Cancelling ctx asks the stack
// to stop and waits up to the configured stop timeout for it to do so.
// A controller can only be run once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("controller was already run: %w", errorkinds.ErrSessionStart)
	}
	defer c.channel.Close()

	c.session = newSession()
	c.log = c.log.WithField("session", c.session.ID.String())
	c.sink.log = c.log
	c.publishSnapshot(bluetooth.Event{})

	if err := c.startStack(); err != nil {
		return err
	}
	defer c.releaseStack()

	c.loop(ctx)

	c.running.Store(false)
	c.publishSnapshot(bluetooth.Event{})

	return c.outcome
}

// startStack registers the event sink and powers up the stack.
func (c *Controller) startStack() error {
	if err := c.stack.Init(c.channel.Sink(c.log)); err != nil {
		return wrapStartup(err, "stack-init", "Cannot initialize the radio stack")
	}

	if err := c.stack.InitProfile(); err != nil {
		c.logRelease("stack", c.stack.Release())
		return wrapStartup(err, "profile-init", "Cannot initialize the hands-free profile")
	}

	if err := c.stack.Start(); err != nil {
		c.logRelease("profile", c.stack.ReleaseProfile())
		c.logRelease("stack", c.stack.Release())
		return wrapStartup(err, "stack-start", "Cannot start the radio stack")
	}

	c.log.Info("radio stack starting")

	return nil
}

func (c *Controller) releaseStack() {
	c.log.Info("releasing hands-free profile")
	c.logRelease("profile", c.stack.ReleaseProfile())
	c.logRelease("stack", c.stack.Release())
}

func (c *Controller) logRelease(what string, err error) {
	if err != nil {
		c.log.WithError(err).Warnf("%s release failed", what)
	}
}

// loop consumes indications until the session becomes terminal.
func (c *Controller) loop(ctx context.Context) {
	waitCtx := ctx
	cancelled := false

	for !c.session.Terminal {
		ev, err := c.channel.Consume(waitCtx)
		if err == nil {
			c.handle(ev)
			c.publishSnapshot(ev)
			continue
		}

		if !cancelled && ctx.Err() != nil {
			cancelled = true
			c.log.Info("run cancelled, stopping radio stack")
			c.requestStop()

			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(context.Background(), c.cfg.StopTimeout)
			defer cancel()

			continue
		}

		if errors.Is(err, context.DeadlineExceeded) {
			err = errorkinds.ErrMethodTimeout
		}
		c.fatal(fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "wait-stop"),
			ftag.With(ftag.Internal),
			fmsg.With("Radio stack did not report a stop"),
		))
	}
}

// handle applies one indication. It never returns an error: failures are
// resolved here into state changes and stop requests.
func (c *Controller) handle(ev bluetooth.Event) {
	entry := c.log.WithField("event", ev.String())
	entry.Debug("indication received")

	handler, ok := c.handlers[ev.Kind]
	if !ok {
		entry.Warn("ignoring indication of unknown kind")
		return
	}

	switch ev.Kind {
	case bluetooth.EventStart, bluetooth.EventStop, bluetooth.EventDisconnect:

	default:
		if ev.Failed() {
			c.fatal(fault.Wrap(fmt.Errorf("%s status %d: %w", ev.Kind, ev.Status, errorkinds.ErrIndicationFailure),
				fctx.With(context.Background(), "error_at", "indication-"+ev.Kind.String()),
				ftag.With(ftag.Internal),
				fmsg.With("Radio stack reported a failure"),
			))

			return
		}
	}

	handler(ev)
}

func (c *Controller) handleStart(ev bluetooth.Event) {
	if ev.Failed() {
		c.fatal(wrapStartup(
			fmt.Errorf("start status %d: %w", ev.Status, errorkinds.ErrIndicationFailure),
			"start-indication", "Radio stack failed to start",
		))

		return
	}

	c.session.Running = true
	c.running.Store(true)
	c.log.Info("radio stack started")

	if err := c.configureIdentity(); err != nil {
		c.fatal(err)
	}
}

// configureIdentity checks the stack, then sets and reads back the local
// name and visibility mode.
func (c *Controller) configureIdentity() error {
	status, err := c.stack.Status()
	if err != nil {
		return wrapStartup(err, "stack-status", "Cannot read the radio stack status")
	}
	if status != bluetooth.StackRunning {
		return wrapStartup(fmt.Errorf("status %d: %w", status, errorkinds.ErrStackStatus),
			"stack-status", "Radio stack status is abnormal",
		)
	}

	name, err := c.stack.LocalName()
	if err != nil {
		return wrapStartup(err, "get-name", "Cannot read the local name")
	}
	c.log.WithField("local_name", name).Debug("current local name")

	if err := c.stack.SetLocalName(c.cfg.NameEncoding, c.cfg.LocalName); err != nil {
		return wrapStartup(err, "set-name", "Cannot set the local name")
	}

	name, err = c.stack.LocalName()
	if err != nil {
		return wrapStartup(err, "get-name", "Cannot read back the local name")
	}
	if name != c.cfg.LocalName {
		return wrapStartup(fmt.Errorf("name %q: %w", name, errorkinds.ErrIdentityMismatch),
			"verify-name", "Local name was not applied",
		)
	}

	if err := c.stack.SetVisibleMode(c.cfg.VisibleMode); err != nil {
		return wrapStartup(err, "set-visible-mode", "Cannot set the visibility mode")
	}

	mode, err := c.stack.VisibleMode()
	if err != nil {
		return wrapStartup(err, "get-visible-mode", "Cannot read back the visibility mode")
	}
	if mode != c.cfg.VisibleMode {
		return wrapStartup(fmt.Errorf("mode %s: %w", mode, errorkinds.ErrIdentityMismatch),
			"verify-visible-mode", "Visibility mode was not applied",
		)
	}

	c.log.WithFields(logrus.Fields{
		"local_name":   name,
		"visible_mode": mode.String(),
	}).Info("local identity configured")

	return nil
}

func (c *Controller) handleStop(ev bluetooth.Event) {
	c.session.Running = false
	c.session.Terminal = true
	c.running.Store(false)

	if ev.Failed() {
		c.log.WithField("status", ev.Status).Error("radio stack failed to stop")
		c.setOutcome(fault.Wrap(fmt.Errorf("stop status %d: %w", ev.Status, errorkinds.ErrSessionStop),
			fctx.With(context.Background(), "error_at", "stop-indication"),
			ftag.With(ftag.Internal),
			fmsg.With("Radio stack failed to stop"),
		))

		return
	}

	c.log.Info("radio stack stopped")
}

func (c *Controller) handleConnect(ev bluetooth.Event) {
	p, ok := ev.Payload.(bluetooth.LinkPayload)
	if !ok {
		c.anomaly(ev, "connect indication without link payload")
		return
	}

	previous := c.session.Connection

	switch {
	case !c.session.HasPeer():
		c.session.Peer = p.Address

	case !p.Address.IsNil() && p.Address != c.session.Peer:
		c.anomaly(ev, "connect indication from a different peer, keeping "+c.session.Peer.String())
	}

	c.session.Connection = p.State
	if p.State == bluetooth.Disconnected {
		c.session.Peer = bluetooth.MacAddress{}
		c.session.Call = bluetooth.NoCall
	}

	c.log.WithFields(logrus.Fields{
		"peer":  c.session.Peer.String(),
		"state": p.State.String(),
	}).Info("profile connection updated")

	if p.State == bluetooth.Connected && previous != bluetooth.Connected && c.session.HasPeer() {
		c.authorize(c.session.Peer)
	}
}

// authorize consults the authorizer about a newly connected peer, and tears
// the link down if it is refused.
func (c *Controller) authorize(peer bluetooth.MacAddress) {
	timeout := bluetooth.NewAuthTimeout(c.cfg.AuthTimeout)
	defer timeout.Cancel()

	reply := make(chan error, 1)
	go func() {
		reply <- c.authorizer.AuthorizeConnection(timeout, peer)
	}()

	var err error
	select {
	case err = <-reply:
	case <-timeout.Done():
		err = errorkinds.ErrMethodTimeout
	}

	if err == nil {
		return
	}

	c.log.WithError(err).WithField("peer", peer.String()).Warn("connection refused")
	if c.issue(Command{Kind: CommandDisconnect, Peer: peer}) {
		c.session.Connection = bluetooth.Disconnecting
	}
}

func (c *Controller) handleDisconnect(ev bluetooth.Event) {
	if ev.Failed() {
		c.log.WithField("status", ev.Status).Warn("disconnect indication reported a failure")
	}

	if c.session.InCall() {
		c.log.Warn("link lost while a call was in progress")
	}

	c.session.Connection = bluetooth.Disconnected
	c.session.Call = bluetooth.NoCall
	c.session.Peer = bluetooth.MacAddress{}

	c.log.Info("profile disconnected")
	c.requestStop()
}

func (c *Controller) handleCall(ev bluetooth.Event) {
	p, ok := ev.Payload.(bluetooth.CallPayload)
	if !ok {
		c.anomaly(ev, "call indication without call payload")
		return
	}

	switch p.State {
	case bluetooth.NoCall:
		c.callEnded(ev)

	case bluetooth.CallInProgress:
		c.callStarted(ev)

	default:
		c.anomaly(ev, "call indication with unknown call state")
	}
}

// callEnded handles the only transition that proactively disconnects the link.
func (c *Controller) callEnded(ev bluetooth.Event) {
	if !c.session.InCall() {
		c.log.Debug("call end absorbed, no call in progress")
		return
	}

	if c.session.Connection != bluetooth.Connected {
		c.anomaly(ev, "call ended while link is "+c.session.Connection.String())
		return
	}

	peer, ok := c.peerFor(ev)
	if !ok {
		c.anomaly(ev, "call ended without a known peer")
		return
	}

	c.session.Call = bluetooth.NoCall
	c.log.Info("call ended")

	if c.issue(Command{Kind: CommandDisconnect, Peer: peer}) {
		c.session.Connection = bluetooth.Disconnecting
	}
}

func (c *Controller) callStarted(ev bluetooth.Event) {
	if c.session.InCall() {
		c.log.Debug("call start absorbed, call already in progress")
		return
	}

	if c.session.Connection != bluetooth.Connected {
		c.anomaly(ev, "call started while link is "+c.session.Connection.String())
		return
	}

	c.session.Call = bluetooth.CallInProgress
	c.log.Info("call in progress")

	c.issue(Command{Kind: CommandSetAudioChannel, Channel: c.cfg.AudioChannel})

	peer, ok := c.peerFor(ev)
	if !ok {
		c.anomaly(ev, "call started without a known peer, volume not set")
		return
	}

	c.issue(Command{Kind: CommandSetVolume, Peer: peer, Level: c.cfg.CallVolume})
}

func (c *Controller) handleRing(ev bluetooth.Event) {
	peer, ok := c.peerFor(ev)
	if !ok {
		c.anomaly(ev, "ring without a known peer")
		return
	}

	c.log.WithField("peer", peer.String()).Info("incoming call, answering")
	c.issue(Command{Kind: CommandAnswerCall, Peer: peer})
}

func (c *Controller) handleIndicator(ev bluetooth.Event) {
	p, ok := ev.Payload.(bluetooth.IndicatorPayload)
	if !ok {
		c.anomaly(ev, "indication without indicator payload")
		return
	}

	if ev.Kind == bluetooth.EventCallSetup {
		c.session.CallSetup = p.Value
	}

	peer, _ := c.peerFor(ev)
	if !peer.IsNil() {
		c.store.UpdateIndicator(peer, ev.Kind, p.Value)
	}

	c.log.WithFields(logrus.Fields{
		"indicator": ev.Kind.String(),
		"value":     p.Value,
	}).Debug("indicator updated")

	c.bus.Publish(TopicIndicator, IndicatorUpdate{Kind: ev.Kind, Peer: peer, Value: p.Value})
}

func (c *Controller) handleData(ev bluetooth.Event) {
	p, ok := ev.Payload.(bluetooth.DataPayload)
	if !ok {
		c.anomaly(ev, "data indication without data payload")
		return
	}

	c.log.WithField("bytes", p.Len()).Info("serial data received")

	if c.cfg.RelayReply == "" || c.sink.relay == nil {
		return
	}

	c.issue(Command{Kind: CommandSend, Data: []byte(c.cfg.RelayReply)})
}

// issue sends a command unless the session is winding down, and escalates
// failures of fatal command kinds. It reports whether the command succeeded.
func (c *Controller) issue(cmd Command) bool {
	if c.session.Terminal || c.session.StopRequested {
		c.log.WithField("command", cmd.String()).Debug("command suppressed, session is stopping")
		return false
	}

	if err := c.sink.issue(cmd); err != nil {
		if cmd.Kind.FailureIsFatal() {
			c.fatal(err)
		}

		return false
	}

	return true
}

// requestStop asks the stack to stop, at most once per session.
func (c *Controller) requestStop() {
	if c.session.StopRequested {
		return
	}

	c.session.StopRequested = true
	_ = c.sink.issue(Command{Kind: CommandStop})
}

// fatal records the error, requests a stop and ends event processing.
func (c *Controller) fatal(err error) {
	c.log.WithError(err).Error("fatal session error")
	c.setOutcome(err)
	c.bus.Publish(TopicError, ErrorReport{Errors: err})

	c.requestStop()

	c.session.Running = false
	c.session.Terminal = true
	c.running.Store(false)
}

func (c *Controller) setOutcome(err error) {
	if c.outcome == nil {
		c.outcome = err
	}
}

// anomaly records an indication that is inconsistent with the session state.
// It is absorbed without changing state.
func (c *Controller) anomaly(ev bluetooth.Event, reason string) {
	c.log.WithField("event", ev.String()).Warn("protocol anomaly: " + reason)
}

// peerFor returns the session peer, falling back to the address carried by
// the indication.
func (c *Controller) peerFor(ev bluetooth.Event) (bluetooth.MacAddress, bool) {
	if c.session.HasPeer() {
		return c.session.Peer, true
	}

	return ev.Address()
}

func (c *Controller) publishSnapshot(cause bluetooth.Event) {
	current := c.session
	previous := c.snapshot.Swap(&current)

	if previous != nil && *previous == current {
		return
	}

	c.bus.Publish(TopicState, StateChange{Cause: cause, Session: current})
}

func wrapStartup(err error, at, message string) error {
	return fault.Wrap(fmt.Errorf("%w: %w", errorkinds.ErrSessionStart, err),
		fctx.With(context.Background(), "error_at", at),
		ftag.With(ftag.Internal),
		fmsg.With(message),
	)
}

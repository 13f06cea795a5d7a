//go:build linux

package linux

import (
	"context"
	"sync"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	dbh "github.com/bluetuith-org/handsfree/linux/internal/dbushelper"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

// Options describes how to reach the hands-free DBus service.
type Options struct {
	// SessionBus selects the session bus instead of the system bus.
	SessionBus bool
}

// DbusStack is a hands-free radio stack reached through DBus.
// Method calls carry commands, and the service's indication signal carries events.
type DbusStack struct {
	opts Options
	log  *logrus.Entry

	conn    *dbus.Conn
	object  dbus.BusObject
	signals chan *dbus.Signal

	mu sync.Mutex
}

// NewDbusStack returns a stack that connects to the bus when initialized.
func NewDbusStack(opts Options, log *logrus.Entry) *DbusStack {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &DbusStack{
		opts: opts,
		log:  log.WithField("name", "dbus"),
	}
}

// Init connects to the bus, subscribes to indications and initializes the stack.
func (d *DbusStack) Init(sink bluetooth.EventSink) error {
	if sink == nil {
		return wrapError(errorkinds.ErrSessionStart, "dbus-init", "No event sink was provided")
	}

	connect := dbus.ConnectSystemBus
	if d.opts.SessionBus {
		connect = dbus.ConnectSessionBus
	}

	conn, err := connect()
	if err != nil {
		return wrapError(err, "start-bus", "Cannot initialize DBus")
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(dbh.HandsFreePath),
		dbus.WithMatchInterface(dbh.HandsFreeIface),
		dbus.WithMatchMember(dbh.IndicationMember),
	); err != nil {
		conn.Close()
		return wrapError(err, "add-match", "Cannot subscribe to hands-free indications")
	}

	signals := make(chan *dbus.Signal, 1)
	conn.Signal(signals)

	d.mu.Lock()
	d.conn = conn
	d.object = conn.Object(dbh.HandsFreeBusName, dbh.HandsFreePath)
	d.signals = signals
	d.mu.Unlock()

	go d.watchSignals(signals, sink)

	if err := d.call("Init", "stack-init", "Cannot initialize the radio stack"); err != nil {
		d.close()
		return err
	}

	return nil
}

// InitProfile registers the hands-free profile with the stack.
func (d *DbusStack) InitProfile() error {
	return d.call("InitProfile", "profile-init", "Cannot initialize the hands-free profile",
		bluetooth.HandsFreeProfileUUID.String(),
	)
}

// Start asks the stack to start. Completion is reported with a start indication.
func (d *DbusStack) Start() error {
	return d.call("Start", "stack-start", "Cannot start the radio stack")
}

// Stop asks the stack to stop. Completion is reported with a stop indication.
func (d *DbusStack) Stop() error {
	return d.call("Stop", "stack-stop", "Cannot stop the radio stack")
}

// ReleaseProfile unregisters the hands-free profile.
func (d *DbusStack) ReleaseProfile() error {
	return d.call("ReleaseProfile", "profile-release", "Cannot release the hands-free profile")
}

// Release releases the stack and closes the bus connection.
func (d *DbusStack) Release() error {
	err := d.call("Release", "stack-release", "Cannot release the radio stack")
	d.close()

	return err
}

// Status returns the stack status.
func (d *DbusStack) Status() (bluetooth.StackStatus, error) {
	var status int32
	if err := d.store(&status, "Status", "stack-status", "Cannot get the radio stack status"); err != nil {
		return bluetooth.StackStopped, err
	}

	return bluetooth.StackStatus(status), nil
}

// LocalName returns the name of the local device.
func (d *DbusStack) LocalName() (string, error) {
	var name string
	if err := d.store(&name, "GetLocalName", "get-name", "Cannot get the local name"); err != nil {
		return "", err
	}

	return name, nil
}

// SetLocalName sets the name of the local device.
func (d *DbusStack) SetLocalName(encoding bluetooth.NameEncoding, name string) error {
	return d.call("SetLocalName", "set-name", "Cannot set the local name", int32(encoding), name)
}

// VisibleMode returns the visibility mode of the local device.
func (d *DbusStack) VisibleMode() (bluetooth.VisibleMode, error) {
	var mode int32
	if err := d.store(&mode, "GetVisibleMode", "get-visible-mode", "Cannot get the visibility mode"); err != nil {
		return bluetooth.Hidden, err
	}

	return bluetooth.VisibleMode(mode), nil
}

// SetVisibleMode sets the visibility mode of the local device.
func (d *DbusStack) SetVisibleMode(mode bluetooth.VisibleMode) error {
	return d.call("SetVisibleMode", "set-visible-mode", "Cannot set the visibility mode", int32(mode))
}

// ConnectionStatus returns the hands-free link state.
func (d *DbusStack) ConnectionStatus() (bluetooth.ConnectionState, error) {
	var state int32
	if err := d.store(&state, "ConnectionStatus", "connection-status", "Cannot get the connection status"); err != nil {
		return bluetooth.Disconnected, err
	}

	return bluetooth.ConnectionState(state), nil
}

// PeerAddress returns the address of the connected peer.
func (d *DbusStack) PeerAddress() (bluetooth.MacAddress, error) {
	var raw []byte
	if err := d.store(&raw, "PeerAddress", "peer-address", "Cannot get the peer address"); err != nil {
		return bluetooth.MacAddress{}, err
	}

	peer, err := bluetooth.AddressFromWire(raw)
	if err != nil {
		return peer, wrapError(err, "peer-address", "Invalid peer address")
	}

	return peer, nil
}

// AnswerCall answers the incoming call on the peer.
func (d *DbusStack) AnswerCall(peer bluetooth.MacAddress) error {
	return d.call("AnswerCall", "answer-call", "Cannot answer the call", peer.Wire())
}

// SetVolume sets the call volume at the peer.
func (d *DbusStack) SetVolume(peer bluetooth.MacAddress, level int) error {
	if level < 0 || level > bluetooth.MaxVolume {
		return wrapError(errorkinds.ErrInvalidConfig, "set-volume", "Volume level is out of range")
	}

	return d.call("SetVolume", "set-volume", "Cannot set the call volume", peer.Wire(), int32(level))
}

// Disconnect tears down the hands-free link to the peer.
func (d *DbusStack) Disconnect(peer bluetooth.MacAddress) error {
	return d.call("Disconnect", "disconnect", "Cannot disconnect the peer", peer.Wire())
}

// SetAudioChannel routes call audio to the given output channel.
func (d *DbusStack) SetAudioChannel(channel int) error {
	return d.call("SetAudioChannel", "set-audio-channel", "Cannot set the audio channel", int32(channel))
}

// Send writes data to the serial port profile channel.
func (d *DbusStack) Send(data []byte) error {
	return d.call("Send", "spp-send", "Cannot send serial data", data)
}

// watchSignals delivers indication signals to the event sink until the
// connection is closed.
func (d *DbusStack) watchSignals(signals chan *dbus.Signal, sink bluetooth.EventSink) {
	for signal := range signals {
		if signal.Name != dbh.IndicationSignal {
			continue
		}

		ev, err := dbh.EventFromSignal(signal)
		if err != nil {
			d.log.WithError(err).Warn("dropping malformed indication")
			continue
		}

		sink(ev)
	}
}

func (d *DbusStack) busObject() (dbus.BusObject, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.object == nil {
		return nil, errorkinds.ErrSessionNotExist
	}

	return d.object, nil
}

func (d *DbusStack) call(method, at, message string, args ...any) error {
	object, err := d.busObject()
	if err != nil {
		return wrapError(err, at, message)
	}

	if err := object.Call(dbh.Method(method), 0, args...).Err; err != nil {
		return wrapError(err, at, message)
	}

	return nil
}

func (d *DbusStack) store(value any, method, at, message string) error {
	object, err := d.busObject()
	if err != nil {
		return wrapError(err, at, message)
	}

	if err := object.Call(dbh.Method(method), 0).Store(value); err != nil {
		return wrapError(err, at, message)
	}

	return nil
}

// close detaches from the bus, which ends the signal watcher.
func (d *DbusStack) close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return
	}

	d.conn.RemoveSignal(d.signals)
	close(d.signals)

	if err := d.conn.Close(); err != nil {
		d.log.WithError(err).Debug("error while closing the bus connection")
	}

	d.conn, d.object, d.signals = nil, nil, nil
}

func wrapError(err error, at, message string) error {
	return fault.Wrap(err,
		fctx.With(context.Background(), "error_at", at),
		ftag.With(ftag.Internal),
		fmsg.With(message),
	)
}

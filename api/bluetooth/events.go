package bluetooth

import "strconv"

// EventKind identifies an indication delivered by the radio stack.
// The numeric values are the identifiers the stack uses on the wire.
type EventKind uint8

// The closed set of indication kinds.
const (
	EventStart        EventKind = 0
	EventStop         EventKind = 1
	EventDataReceived EventKind = 14
	EventConnect      EventKind = 40
	EventDisconnect   EventKind = 41
	EventCall         EventKind = 42
	EventCallSetup    EventKind = 43
	EventNetwork      EventKind = 44
	EventSignal       EventKind = 45
	EventBattery      EventKind = 46
	EventCallHeld     EventKind = 47
	EventAudio        EventKind = 48
	EventVolume       EventKind = 49
	EventNetworkType  EventKind = 50
	EventRing         EventKind = 51
	EventCodec        EventKind = 52
)

var eventKindNames = map[EventKind]string{
	EventStart:        "start",
	EventStop:         "stop",
	EventDataReceived: "data-received",
	EventConnect:      "connect",
	EventDisconnect:   "disconnect",
	EventCall:         "call",
	EventCallSetup:    "call-setup",
	EventNetwork:      "network",
	EventSignal:       "signal",
	EventBattery:      "battery",
	EventCallHeld:     "call-held",
	EventAudio:        "audio",
	EventVolume:       "volume",
	EventNetworkType:  "network-type",
	EventRing:         "ring",
	EventCodec:        "codec",
}

// EventKinds returns every known indication kind.
func EventKinds() []EventKind {
	kinds := make([]EventKind, 0, len(eventKindNames))
	for kind := range eventKindNames {
		kinds = append(kinds, kind)
	}

	return kinds
}

// Known reports whether the kind belongs to the closed set.
func (k EventKind) Known() bool {
	_, ok := eventKindNames[k]
	return ok
}

// Informational reports whether the kind only carries status information
// and never drives a session transition.
func (k EventKind) Informational() bool {
	switch k {
	case EventCallSetup, EventCallHeld, EventNetwork, EventSignal, EventBattery,
		EventAudio, EventVolume, EventNetworkType, EventCodec:
		return true
	}

	return false
}

// String returns the name of the event kind.
func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}

	return "unknown(" + strconv.Itoa(int(k)) + ")"
}

// ConnectionState describes the profile link state.
type ConnectionState uint8

// The different connection states, as reported by the stack.
const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

// String returns the name of the connection state.
func (c ConnectionState) String() string {
	switch c {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	}

	return "unknown(" + strconv.Itoa(int(c)) + ")"
}

// CallState describes whether a call is active on the peer.
type CallState uint8

// The different call states.
const (
	NoCall CallState = iota
	CallInProgress
)

// String returns the name of the call state.
func (c CallState) String() string {
	switch c {
	case NoCall:
		return "no-call"
	case CallInProgress:
		return "call-in-progress"
	}

	return "unknown(" + strconv.Itoa(int(c)) + ")"
}

// Event is an immutable indication record delivered through the event channel.
// A zero Status means success; any other value is a stack-reported failure.
type Event struct {
	Kind    EventKind
	Status  int
	Payload Payload
}

// Payload is the kind-specific part of an Event.
// The set of implementations is closed to this package.
type Payload interface {
	payload()
}

// LinkPayload accompanies connect and disconnect indications.
type LinkPayload struct {
	State   ConnectionState
	Address MacAddress
}

// CallPayload accompanies call indications.
type CallPayload struct {
	State   CallState
	Address MacAddress
}

// IndicatorPayload accompanies informational indications, for example a
// battery level or a call-setup status.
type IndicatorPayload struct {
	Value   int
	Address MacAddress
}

// RingPayload accompanies ring indications.
type RingPayload struct {
	Address MacAddress
}

// DataPayload accompanies data-received indications of the serial relay variant.
type DataPayload struct {
	data string
}

func (LinkPayload) payload()      {}
func (CallPayload) payload()      {}
func (IndicatorPayload) payload() {}
func (RingPayload) payload()      {}
func (DataPayload) payload()      {}

// NewDataPayload copies the received bytes into a new payload.
func NewDataPayload(data []byte) DataPayload {
	return DataPayload{data: string(data)}
}

// Data returns a copy of the received bytes.
func (d DataPayload) Data() []byte {
	return []byte(d.data)
}

// Len returns the number of received bytes.
func (d DataPayload) Len() int {
	return len(d.data)
}

// Address returns the peer address carried by the event payload, if any.
func (e Event) Address() (MacAddress, bool) {
	var address MacAddress

	switch p := e.Payload.(type) {
	case LinkPayload:
		address = p.Address
	case CallPayload:
		address = p.Address
	case IndicatorPayload:
		address = p.Address
	case RingPayload:
		address = p.Address
	default:
		return address, false
	}

	return address, !address.IsNil()
}

// Failed reports whether the stack reported a failure for this indication.
func (e Event) Failed() bool {
	return e.Status != 0
}

// String returns a short description of the event.
func (e Event) String() string {
	s := e.Kind.String() + " status=" + strconv.Itoa(e.Status)

	switch p := e.Payload.(type) {
	case LinkPayload:
		s += " state=" + p.State.String()
	case CallPayload:
		s += " call=" + p.State.String()
	case IndicatorPayload:
		s += " value=" + strconv.Itoa(p.Value)
	case DataPayload:
		s += " bytes=" + strconv.Itoa(p.Len())
	}

	if address, ok := e.Address(); ok {
		s += " peer=" + address.String()
	}

	return s
}

// NewEvent builds an event from the raw fields the radio stack reports.
// The value is the connection state for connect indications, non-zero for
// an active call on call indications, and the indicator value otherwise.
// Unknown kinds carry no payload.
func NewEvent(kind EventKind, status, value int, address MacAddress, data []byte) Event {
	ev := Event{Kind: kind, Status: status}

	switch {
	case kind == EventConnect:
		ev.Payload = LinkPayload{State: ConnectionState(value), Address: address}

	case kind == EventDisconnect:
		ev.Payload = LinkPayload{State: Disconnected, Address: address}

	case kind == EventCall:
		state := NoCall
		if value != 0 {
			state = CallInProgress
		}
		ev.Payload = CallPayload{State: state, Address: address}

	case kind == EventRing:
		ev.Payload = RingPayload{Address: address}

	case kind == EventDataReceived:
		ev.Payload = NewDataPayload(data)

	case kind.Informational():
		ev.Payload = IndicatorPayload{Value: value, Address: address}
	}

	return ev
}

package bluetooth

import (
	"fmt"
	"strconv"

	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/google/uuid"
)

// HandsFreeProfileUUID is the service class UUID of the hands-free unit role.
var HandsFreeProfileUUID = uuid.MustParse("0000111e-0000-1000-8000-00805f9b34fb")

// EventSink receives indications from the radio stack.
// It is registered once with [Stack.Init] and may block the caller under back-pressure.
type EventSink func(Event)

// StackStatus describes the state reported by the radio stack itself.
type StackStatus int

// The different stack states.
const (
	StackStopped StackStatus = 0
	StackRunning StackStatus = 1
)

// VisibleMode describes how the local device can be seen by peers.
type VisibleMode int

// The different visibility modes.
const (
	Hidden                  VisibleMode = 0
	Discoverable            VisibleMode = 1
	Connectable             VisibleMode = 2
	DiscoverableConnectable VisibleMode = 3
)

// String returns the name of the visibility mode.
func (v VisibleMode) String() string {
	switch v {
	case Hidden:
		return "hidden"
	case Discoverable:
		return "discoverable"
	case Connectable:
		return "connectable"
	case DiscoverableConnectable:
		return "discoverable-connectable"
	}

	return "unknown(" + strconv.Itoa(int(v)) + ")"
}

// ParseVisibleMode parses the name of a visibility mode.
func ParseVisibleMode(name string) (VisibleMode, error) {
	for mode := Hidden; mode <= DiscoverableConnectable; mode++ {
		if mode.String() == name {
			return mode, nil
		}
	}

	return Hidden, fmt.Errorf("visibility mode %q: %w", name, errorkinds.ErrInvalidConfig)
}

// NameEncoding describes the encoding flag passed alongside a local name.
type NameEncoding int

// The different name encodings.
const (
	NameUTF8 NameEncoding = 0
	NameGBK  NameEncoding = 1
)

// Stack describes the lower-layer radio stack as seen by the session controller.
// Every call is synchronous; Stop and Release must tolerate being called twice.
type Stack interface {
	// Init registers the indication sink. Indications may be delivered from any
	// goroutine once Init returns.
	Init(sink EventSink) error

	// InitProfile prepares the hands-free profile.
	InitProfile() error

	// Start asks the stack to power up. Completion is reported with an [EventStart] indication.
	Start() error

	// Stop asks the stack to power down. Completion is reported with an [EventStop] indication.
	Stop() error

	// ReleaseProfile releases the hands-free profile resources.
	ReleaseProfile() error

	// Release releases the stack.
	Release() error

	// Status returns the state of the stack.
	Status() (StackStatus, error)

	// LocalName returns the advertised local name.
	LocalName() (string, error)

	// SetLocalName sets the advertised local name.
	SetLocalName(encoding NameEncoding, name string) error

	// VisibleMode returns the visibility mode.
	VisibleMode() (VisibleMode, error)

	// SetVisibleMode sets the visibility mode.
	SetVisibleMode(mode VisibleMode) error

	// ConnectionStatus returns the current profile link state.
	ConnectionStatus() (ConnectionState, error)

	// PeerAddress returns the address of the connected peer.
	PeerAddress() (MacAddress, error)
}

// HandsFree describes the profile commands that the session controller issues.
type HandsFree interface {
	// AnswerCall answers the incoming call at the peer.
	AnswerCall(peer MacAddress) error

	// SetVolume sets the call volume at the peer, in the range 0 to [MaxVolume].
	SetVolume(peer MacAddress, level int) error

	// Disconnect tears down the profile link to the peer.
	Disconnect(peer MacAddress) error

	// SetAudioChannel routes call audio to the given output channel.
	SetAudioChannel(channel int) error
}

// DataRelay is implemented by stacks that carry a serial data channel.
type DataRelay interface {
	Send(data []byte) error
}

// HandsFreeStack is a stack which also accepts profile commands.
type HandsFreeStack interface {
	Stack
	HandsFree
}

// MaxVolume is the highest volume level accepted by [HandsFree.SetVolume].
const MaxVolume = 11

package handsfree

import (
	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/google/uuid"
)

// Session is the state of one powered-on subsystem lifetime.
// It is owned by the controller loop; other goroutines only ever see copies.
type Session struct {
	// ID identifies this lifetime.
	ID uuid.UUID `json:"id"`

	// Connection holds the profile link state.
	Connection bluetooth.ConnectionState `json:"connection"`

	// Call holds the call state.
	Call bluetooth.CallState `json:"call"`

	// CallSetup holds the last reported call-setup status. It does not gate transitions.
	CallSetup int `json:"call_setup"`

	// Peer holds the address of the peer for the current connection episode.
	Peer bluetooth.MacAddress `json:"peer"`

	// Running reports whether the stack has started and not yet stopped.
	Running bool `json:"running"`

	// StopRequested reports whether the controller asked the stack to stop.
	StopRequested bool `json:"stop_requested"`

	// Terminal reports whether the controller has stopped processing events.
	Terminal bool `json:"terminal"`
}

func newSession() Session {
	return Session{ID: uuid.New()}
}

// HasPeer reports whether a peer address has been recorded.
func (s Session) HasPeer() bool {
	return !s.Peer.IsNil()
}

// InCall reports whether a call is in progress.
func (s Session) InCall() bool {
	return s.Call == bluetooth.CallInProgress
}

package handsfree

import (
	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/bluetuith-org/handsfree/api/eventbus"
)

// Topic identifies a stream of observability events published by the controller.
type Topic uint

// The different observability topics.
const (
	TopicNone Topic = iota
	TopicState
	TopicIndicator
	TopicCommand
	TopicError
)

var topicNames = map[Topic]string{
	TopicNone:      "",
	TopicState:     "session_state_event",
	TopicIndicator: "indicator_event",
	TopicCommand:   "command_event",
	TopicError:     "error_event",
}

// String returns the name of the topic.
func (t Topic) String() string {
	return topicNames[t]
}

// Value returns the topic ID.
func (t Topic) Value() uint {
	return uint(t)
}

var _ eventbus.EventID = Topic(0)

// StateChange is published on [TopicState] whenever an indication changes the session.
type StateChange struct {
	Cause   bluetooth.Event
	Session Session
}

// IndicatorUpdate is published on [TopicIndicator] for every informational indication.
type IndicatorUpdate struct {
	Kind  bluetooth.EventKind
	Peer  bluetooth.MacAddress
	Value int
}

// CommandResult is published on [TopicCommand] after every command is issued.
type CommandResult struct {
	Command Command
	Err     error
}

// ErrorReport is published on [TopicError] when the controller hits a fatal error.
type ErrorReport = errorkinds.GenericError

package handsfree

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/bluetuith-org/handsfree/api/eventbus"
	"github.com/sirupsen/logrus"
)

// CommandKind identifies a request issued to the radio stack.
type CommandKind uint8

// The different command kinds.
const (
	CommandAnswerCall CommandKind = iota + 1
	CommandSetVolume
	CommandDisconnect
	CommandSetAudioChannel
	CommandSend
	CommandStop
)

// String returns the name of the command kind.
func (k CommandKind) String() string {
	switch k {
	case CommandAnswerCall:
		return "answer-call"
	case CommandSetVolume:
		return "set-volume"
	case CommandDisconnect:
		return "disconnect"
	case CommandSetAudioChannel:
		return "set-audio-channel"
	case CommandSend:
		return "send"
	case CommandStop:
		return "stop"
	}

	return "unknown(" + strconv.Itoa(int(k)) + ")"
}

// FailureIsFatal reports whether a failure of this command stops the subsystem.
// Audio routing, volume and relay failures only degrade the session.
func (k CommandKind) FailureIsFatal() bool {
	switch k {
	case CommandAnswerCall, CommandDisconnect:
		return true
	}

	return false
}

// Command is a one-shot request to the radio stack.
type Command struct {
	Kind    CommandKind
	Peer    bluetooth.MacAddress
	Level   int
	Channel int
	Data    []byte
}

// String returns a short description of the command.
func (c Command) String() string {
	s := c.Kind.String()

	switch c.Kind {
	case CommandAnswerCall, CommandDisconnect:
		s += " peer=" + c.Peer.String()
	case CommandSetVolume:
		s += " peer=" + c.Peer.String() + " level=" + strconv.Itoa(c.Level)
	case CommandSetAudioChannel:
		s += " channel=" + strconv.Itoa(c.Channel)
	case CommandSend:
		s += " bytes=" + strconv.Itoa(len(c.Data))
	}

	return s
}

// commandSink issues commands synchronously and reports their outcome.
// It never retries.
type commandSink struct {
	stack bluetooth.HandsFreeStack
	relay bluetooth.DataRelay

	log *logrus.Entry
	bus *eventbus.Bus
}

func (s *commandSink) issue(cmd Command) error {
	var err error

	switch cmd.Kind {
	case CommandAnswerCall:
		err = s.stack.AnswerCall(cmd.Peer)

	case CommandSetVolume:
		err = s.stack.SetVolume(cmd.Peer, cmd.Level)

	case CommandDisconnect:
		err = s.stack.Disconnect(cmd.Peer)

	case CommandSetAudioChannel:
		err = s.stack.SetAudioChannel(cmd.Channel)

	case CommandSend:
		if s.relay == nil {
			err = errorkinds.ErrNotSupported
			break
		}
		err = s.relay.Send(cmd.Data)

	case CommandStop:
		err = s.stack.Stop()

	default:
		err = errorkinds.ErrMethodCall
	}

	if err != nil {
		err = fault.Wrap(fmt.Errorf("%w: %w", errorkinds.ErrCommandFailure, err),
			fctx.With(context.Background(), "error_at", "command-"+cmd.Kind.String(), "command", cmd.String()),
			ftag.With(ftag.Internal),
			fmsg.With("Command "+cmd.Kind.String()+" failed"),
		)
	}

	entry := s.log.WithField("command", cmd.String())
	if err != nil {
		entry.WithError(err).Warn("command failed")
	} else {
		entry.Info("command issued")
	}

	s.bus.Publish(TopicCommand, CommandResult{Command: cmd, Err: err})

	return err
}

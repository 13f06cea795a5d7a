package commands

import (
	"time"

	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/bluetuith-org/handsfree/shim/internal/serde"
	"github.com/google/uuid"
)

// Server commands.
// StartRpcServer returns the arguments that launch the server on a socket.
func StartRpcServer(socketPath string) *Command[NoResult] {
	return (&Command[NoResult]{cmd: "server"}).WithOption(SocketOption, socketPath)
}

// StopRpcServer invokes the "rpc stop" command.
func StopRpcServer() *Command[NoResult] {
	return &Command[NoResult]{cmd: "rpc stop"}
}

// Stack commands.
// StackInit invokes the "stack init" command.
func StackInit() *Command[NoResult] {
	return &Command[NoResult]{cmd: "stack init"}
}

// StackStart invokes the "stack start" command.
func StackStart() *Command[NoResult] {
	return &Command[NoResult]{cmd: "stack start"}
}

// StackStop invokes the "stack stop" command.
func StackStop() *Command[NoResult] {
	return &Command[NoResult]{cmd: "stack stop"}
}

// StackRelease invokes the "stack release" command.
func StackRelease() *Command[NoResult] {
	return &Command[NoResult]{cmd: "stack release"}
}

// StackStatus invokes the "stack status" command.
func StackStatus() *Command[int] {
	return &Command[int]{cmd: "stack status"}
}

// Adapter commands.
// GetLocalName invokes the "adapter get-name" command.
func GetLocalName() *Command[string] {
	return &Command[string]{cmd: "adapter get-name"}
}

// SetLocalName invokes the "adapter set-name" command.
func SetLocalName(encoding bluetooth.NameEncoding, name string) *Command[NoResult] {
	return (&Command[NoResult]{cmd: "adapter set-name"}).
		WithOption(EncodingOption, IntOptionValue(encoding)).
		WithOption(NameOption, name)
}

// GetVisibleMode invokes the "adapter get-visible-mode" command.
func GetVisibleMode() *Command[int] {
	return &Command[int]{cmd: "adapter get-visible-mode"}
}

// SetVisibleMode invokes the "adapter set-visible-mode" command.
func SetVisibleMode(mode bluetooth.VisibleMode) *Command[NoResult] {
	return (&Command[NoResult]{cmd: "adapter set-visible-mode"}).WithOption(ModeOption, IntOptionValue(mode))
}

// Hands-free profile commands.
// ProfileInit invokes the "hfp init" command.
func ProfileInit(profile uuid.UUID) *Command[NoResult] {
	return (&Command[NoResult]{cmd: "hfp init"}).WithOption(ProfileOption, profile.String())
}

// ProfileRelease invokes the "hfp release" command.
func ProfileRelease() *Command[NoResult] {
	return &Command[NoResult]{cmd: "hfp release"}
}

// ConnectionStatus invokes the "hfp connection-status" command.
func ConnectionStatus() *Command[int] {
	return &Command[int]{cmd: "hfp connection-status"}
}

// PeerAddress invokes the "hfp peer-address" command.
func PeerAddress() *Command[string] {
	return &Command[string]{cmd: "hfp peer-address"}
}

// AnswerCall invokes the "hfp answer-call" command.
func AnswerCall(address bluetooth.MacAddress) *Command[NoResult] {
	return (&Command[NoResult]{cmd: "hfp answer-call"}).WithOption(AddressOption, address.String())
}

// SetVolume invokes the "hfp set-volume" command.
func SetVolume(address bluetooth.MacAddress, level int) *Command[NoResult] {
	return (&Command[NoResult]{cmd: "hfp set-volume"}).
		WithOption(AddressOption, address.String()).
		WithOption(LevelOption, IntOptionValue(level))
}

// Disconnect invokes the "hfp disconnect" command.
func Disconnect(address bluetooth.MacAddress) *Command[NoResult] {
	return (&Command[NoResult]{cmd: "hfp disconnect"}).WithOption(AddressOption, address.String())
}

// Audio commands.
// SetAudioChannel invokes the "audio set-channel" command.
func SetAudioChannel(channel int) *Command[NoResult] {
	return (&Command[NoResult]{cmd: "audio set-channel"}).WithOption(ChannelOption, IntOptionValue(channel))
}

// Serial port commands.
// SendData invokes the "spp send" command.
func SendData(data []byte) *Command[NoResult] {
	return (&Command[NoResult]{cmd: "spp send"}).WithOption(DataOption, string(data))
}

// ExecuteWith invokes a command on the server, and waits for and returns the result of the command invocation.
func (c *Command[T]) ExecuteWith(fn ExecuteFunc, timeout ...time.Duration) (T, error) {
	var result T

	wait := CommandReplyTimeout
	if len(timeout) > 0 && timeout[0] > 0 {
		wait = timeout[0]
	}

	responseChan, commandErr := fn(c.Slice())
	if commandErr != nil {
		return result, commandErr
	}

	commandErr = errorkinds.ErrSessionStop

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case response, ok := <-responseChan:
		if !ok {
			break
		}

		if response.Status == "error" {
			return result, response.Error
		}

		if response.Status == "ok" {
			switch any(result).(type) {
			case NoResult:
				return result, nil
			}

			reply := make(map[string]T, 1)
			if err := serde.UnmarshalJson(response.Data, &reply); err != nil {
				return result, err
			}

			for _, mv := range reply {
				result = mv
			}

			commandErr = nil
		}

	case <-timer.C:
		commandErr = errorkinds.ErrMethodTimeout
	}

	return result, commandErr
}

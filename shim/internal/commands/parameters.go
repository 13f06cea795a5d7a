package commands

import "strconv"

// ApiVersion is the version of the frame protocol spoken with the server.
const ApiVersion = 1

// Option describes an option to a command.
type Option string

// The various types of options.
const (
	SocketOption   Option = "--socket-path"
	AddressOption  Option = "--address"
	ProfileOption  Option = "--uuid"
	NameOption     Option = "--name"
	EncodingOption Option = "--encoding"
	ModeOption     Option = "--mode"
	LevelOption    Option = "--level"
	ChannelOption  Option = "--channel"
	DataOption     Option = "--data"
)

// String returns a string representation of the option.
func (o Option) String() string {
	return string(o)
}

// IntOptionValue formats a numeric option value.
func IntOptionValue[T ~int | ~uint8](v T) string {
	return strconv.Itoa(int(v))
}

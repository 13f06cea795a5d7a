package commands

import (
	"strings"
	"time"

	"github.com/ugorji/go/codec"
)

// CommandReplyTimeout is the default timeout to stop waiting for a command's result.
const CommandReplyTimeout = 10 * time.Second

type (
	// ExecuteFunc describes an external function that is used to execute the command.
	ExecuteFunc func(params []string) (chan CommandResponse, error)

	// NoResult describes an empty result.
	NoResult = struct{}

	// OperationID describes an ID that is provided by the server
	// for the lifetime of the command invocation.
	OperationID uint32

	// RequestID describes a unique ID that is attached to the request by the client.
	RequestID int64
)

// option is a single option-value pair of a command.
type option struct {
	name  Option
	value string
}

// Command describes an entire command and its options.
// T is the return value type of the command.
// If T is of type NoResult, it means the command only returns errors, and no other values.
type Command[T any] struct {
	cmd     string
	options []option
}

// CommandResponse is the raw response for an invoked command sent from the server.
type CommandResponse struct {
	Status string `json:"status"`

	OperationId OperationID  `json:"operation_id,omitempty"`
	RequestId   RequestID    `json:"request_id,omitempty"`
	Error       CommandError `json:"error"`
	Data        codec.Raw    `json:"data"`
}

// CommandError describes an error that occurred while invoking the command,
// which is sent from the server.
type CommandError struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

// Error returns a string representation of the underlying error.
func (c CommandError) Error() string {
	sb := strings.Builder{}

	sb.WriteString(c.Name)
	sb.WriteString(": ")
	if c.Description == "" {
		sb.WriteString("No information is provided for this error")
	} else {
		sb.WriteString(c.Description)
	}

	if len(c.Metadata) == 0 {
		return sb.String()
	}

	sb.WriteString(" (")
	count := 0
	for k, v := range c.Metadata {
		if count > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(v)
		count++
	}
	sb.WriteString(")")

	return sb.String()
}

// String returns a string representation of a command and its options.
func (c *Command[T]) String() string {
	return strings.Join(c.Slice(), " ")
}

// Slice returns the command words followed by each option and its value.
// Option values are kept whole, even if they contain spaces.
func (c *Command[T]) Slice() []string {
	params := strings.Fields(c.cmd)
	for _, opt := range c.options {
		params = append(params, opt.name.String(), opt.value)
	}

	return params
}

// WithOption appends a single option type and value to the command.
func (c *Command[T]) WithOption(opt Option, value string) *Command[T] {
	c.options = append(c.options, option{opt, value})

	return c
}

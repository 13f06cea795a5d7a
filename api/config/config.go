package config

import (
	"fmt"
	"time"

	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
)

const (
	// DefaultLocalName is the name advertised by the local device.
	DefaultLocalName = "handsfree"

	// DefaultAudioChannel is the output channel that call audio is routed to.
	DefaultAudioChannel = 2

	// DefaultCallVolume is the volume set at the peer when a call begins.
	DefaultCallVolume = 7

	// DefaultQueueCapacity is the capacity of the event channel.
	DefaultQueueCapacity = 30

	// DefaultAuthTimeout is the timeout for connection authorization requests.
	DefaultAuthTimeout = 10 * time.Second

	// DefaultStopTimeout bounds the wait for a stop indication after a
	// cancelled run has requested the stack to stop.
	DefaultStopTimeout = 5 * time.Second
)

// Configuration describes the session controller configuration.
type Configuration struct {
	// LocalName holds the name the device advertises once started.
	LocalName string

	// NameEncoding holds the encoding flag passed with LocalName.
	NameEncoding bluetooth.NameEncoding

	// VisibleMode holds the visibility mode set once started.
	VisibleMode bluetooth.VisibleMode

	// AudioChannel holds the output channel for call audio.
	AudioChannel int

	// CallVolume holds the volume set at the peer when a call begins.
	CallVolume int

	// QueueCapacity holds the capacity of the event channel.
	QueueCapacity int

	// AuthTimeout holds the timeout for connection authorization requests.
	AuthTimeout time.Duration

	// StopTimeout holds the time to wait for a stop indication after cancellation.
	StopTimeout time.Duration

	// RelayReply, if set, is sent back whenever serial data is received.
	RelayReply string
}

// New returns a new configuration with default values.
func New() Configuration {
	return Configuration{
		LocalName:     DefaultLocalName,
		NameEncoding:  bluetooth.NameUTF8,
		VisibleMode:   bluetooth.DiscoverableConnectable,
		AudioChannel:  DefaultAudioChannel,
		CallVolume:    DefaultCallVolume,
		QueueCapacity: DefaultQueueCapacity,
		AuthTimeout:   DefaultAuthTimeout,
		StopTimeout:   DefaultStopTimeout,
	}
}

// Validate checks that all values are within range.
func (c Configuration) Validate() error {
	switch {
	case c.LocalName == "":
		return fmt.Errorf("local name is empty: %w", errorkinds.ErrInvalidConfig)

	case c.CallVolume < 0 || c.CallVolume > bluetooth.MaxVolume:
		return fmt.Errorf("call volume %d is not within 0-%d: %w", c.CallVolume, bluetooth.MaxVolume, errorkinds.ErrInvalidConfig)

	case c.QueueCapacity <= 0:
		return fmt.Errorf("queue capacity %d must be positive: %w", c.QueueCapacity, errorkinds.ErrInvalidConfig)

	case c.VisibleMode < bluetooth.Hidden || c.VisibleMode > bluetooth.DiscoverableConnectable:
		return fmt.Errorf("visible mode %d is unknown: %w", c.VisibleMode, errorkinds.ErrInvalidConfig)

	case c.AuthTimeout <= 0 || c.StopTimeout <= 0:
		return fmt.Errorf("timeouts must be positive: %w", errorkinds.ErrInvalidConfig)
	}

	return nil
}

package platform

import (
	"fmt"
	"runtime"

	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/bluetuith-org/handsfree/shim"
	"github.com/sirupsen/logrus"
)

// BluetoothStack describes the kind of radio stack adapter in use.
type BluetoothStack string

const (
	DbusStack BluetoothStack = "DBus"
	ShimStack BluetoothStack = "Shim (RPC socket)"
)

// The adapter names accepted by [Options].
const (
	AdapterAuto = "auto"
	AdapterDbus = "dbus"
	AdapterShim = "shim"
)

// PlatformInfo describes platform-specific information.
type PlatformInfo struct {
	OS    string         `json:"os,omitempty"`
	Stack BluetoothStack `json:"bluetooth_stack,omitempty"`
}

// Options selects and configures the radio stack adapter.
type Options struct {
	// Adapter is one of "auto", "dbus" or "shim". An empty value means "auto".
	Adapter string

	// Shim configures the shim adapter.
	Shim shim.Options

	// SessionBus selects the DBus session bus for the dbus adapter.
	SessionBus bool
}

// NewPlatformInfo returns a new PlatformInfo.
func NewPlatformInfo(stack BluetoothStack) PlatformInfo {
	return PlatformInfo{
		OS:    runtime.GOOS + " (" + runtime.GOARCH + ")",
		Stack: stack,
	}
}

// String converts a BluetoothStack to a string.
func (b BluetoothStack) String() string {
	return string(b)
}

// Stack returns the radio stack adapter selected by the options.
func Stack(opts Options, log *logrus.Entry) (bluetooth.HandsFreeStack, PlatformInfo, error) {
	adapter := opts.Adapter
	if adapter == "" || adapter == AdapterAuto {
		adapter = defaultAdapter
	}

	switch adapter {
	case AdapterShim:
		return shim.NewShimStack(opts.Shim, log), NewPlatformInfo(ShimStack), nil

	case AdapterDbus:
		stack, err := dbusStack(opts, log)
		if err != nil {
			return nil, NewPlatformInfo(DbusStack), err
		}

		return stack, NewPlatformInfo(DbusStack), nil
	}

	return nil, NewPlatformInfo(""), fmt.Errorf("unknown adapter %q: %w", opts.Adapter, errorkinds.ErrInvalidConfig)
}

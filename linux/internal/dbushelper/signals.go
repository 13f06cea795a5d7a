//go:build linux

package dbushelper

import (
	"context"
	"fmt"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/godbus/dbus/v5"
)

// IndicationSignal is the full name of the indication signal.
const IndicationSignal = HandsFreeIface + "." + IndicationMember

// EventFromSignal decodes an indication signal.
//
// The signal body is (kind int32, status int32, value int32, address []byte, data []byte),
// with the address in the stack's transmission order. An empty address is allowed.
func EventFromSignal(signal *dbus.Signal) (bluetooth.Event, error) {
	if signal == nil || signal.Name != IndicationSignal {
		return bluetooth.Event{}, errorkinds.ErrEventDataParse
	}

	if len(signal.Body) < 5 {
		return bluetooth.Event{}, wrapSignalError(
			fmt.Errorf("body has %d fields: %w", len(signal.Body), errorkinds.ErrEventDataParse),
			signal, "signal-body",
		)
	}

	var fields [3]int32
	for i := range fields {
		v, ok := signal.Body[i].(int32)
		if !ok {
			return bluetooth.Event{}, wrapSignalError(
				fmt.Errorf("field %d is %T: %w", i, signal.Body[i], errorkinds.ErrEventDataParse),
				signal, "signal-field",
			)
		}
		fields[i] = v
	}

	if fields[0] < 0 || fields[0] > 0xff {
		return bluetooth.Event{}, wrapSignalError(
			fmt.Errorf("kind %d: %w", fields[0], errorkinds.ErrEventDataParse),
			signal, "signal-kind",
		)
	}

	rawAddress, ok := signal.Body[3].([]byte)
	if !ok {
		return bluetooth.Event{}, wrapSignalError(errorkinds.ErrInvalidAddress, signal, "signal-address")
	}

	var address bluetooth.MacAddress
	if len(rawAddress) > 0 {
		var err error

		address, err = bluetooth.AddressFromWire(rawAddress)
		if err != nil {
			return bluetooth.Event{}, wrapSignalError(err, signal, "signal-address")
		}
	}

	data, ok := signal.Body[4].([]byte)
	if !ok {
		return bluetooth.Event{}, wrapSignalError(errorkinds.ErrEventDataParse, signal, "signal-data")
	}

	return bluetooth.NewEvent(
		bluetooth.EventKind(fields[0]), int(fields[1]), int(fields[2]),
		address, data,
	), nil
}

// wrapSignalError wraps the provided error with DBus signal related data.
func wrapSignalError(err error, signal *dbus.Signal, at string) error {
	return fault.Wrap(err,
		fctx.With(context.Background(),
			"signal-name", signal.Name,
			"signal-path", string(signal.Path),
			"error_at", at,
		),
		ftag.With(ftag.Internal),
		fmsg.With("Hands-free signal handler error"),
	)
}

package events

import (
	"fmt"

	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/bluetuith-org/handsfree/shim/internal/serde"
)

// Indication describes a raw indication that was sent from the server.
//
// On the wire it is a JSON array: [kind, status, value, address, data].
// Trailing elements may be omitted when the kind does not use them.
// The address is an array of six bytes in the stack's transmission order.
type Indication struct {
	Kind    int
	Status  int
	Value   int
	Address []int
	Data    string
}

// Decode decodes an indication body.
func Decode(body []byte) (Indication, error) {
	var ind Indication

	n, err := serde.UnmarshalTuple(body, &ind.Kind, &ind.Status, &ind.Value, &ind.Address, &ind.Data)
	if err != nil {
		return ind, fmt.Errorf("%w: %w", errorkinds.ErrEventDataParse, err)
	}
	if n < 2 {
		return ind, fmt.Errorf("indication has %d fields: %w", n, errorkinds.ErrEventDataParse)
	}

	return ind, nil
}

// Event converts the indication into a typed event.
// Kinds that are not known are returned without a payload.
func (i Indication) Event() (bluetooth.Event, error) {
	if i.Kind < 0 || i.Kind > 0xff {
		return bluetooth.Event{}, fmt.Errorf("indication kind %d: %w", i.Kind, errorkinds.ErrEventDataParse)
	}

	address, err := i.address()
	if err != nil {
		return bluetooth.Event{Kind: bluetooth.EventKind(i.Kind), Status: i.Status}, err
	}

	return bluetooth.NewEvent(bluetooth.EventKind(i.Kind), i.Status, i.Value, address, []byte(i.Data)), nil
}

func (i Indication) address() (bluetooth.MacAddress, error) {
	if len(i.Address) == 0 {
		return bluetooth.MacAddress{}, nil
	}

	raw := make([]byte, 0, len(i.Address))
	for _, b := range i.Address {
		if b < 0 || b > 0xff {
			return bluetooth.MacAddress{}, fmt.Errorf("address byte %d: %w", b, errorkinds.ErrInvalidAddress)
		}
		raw = append(raw, byte(b))
	}

	return bluetooth.AddressFromWire(raw)
}

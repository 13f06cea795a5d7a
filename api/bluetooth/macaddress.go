package bluetooth

import (
	"strings"

	"github.com/bluetuith-org/handsfree/api/errorkinds"
)

// NumAddressBytes is the total number of bytes in a MacAddress.
const NumAddressBytes = 6

// addressStringLength is the length of a formatted address, for example "AA:BB:CC:DD:EE:FF".
const addressStringLength = NumAddressBytes*3 - 1

const hexDigits = "0123456789ABCDEF"

// MacAddress represents a Bluetooth hardware address.
//
// The bytes are held in the order the radio stack transmits them, which is the
// reverse of the display order: index 0 holds the last displayed octet.
type MacAddress [NumAddressBytes]byte

// ParseMAC parses an address in the 11:22:33:AA:BB:CC display format.
func ParseMAC(s string) (MacAddress, error) {
	var mac MacAddress

	if len(s) != addressStringLength {
		return mac, errorkinds.ErrInvalidAddress
	}

	for i := range NumAddressBytes {
		pos := i * 3
		if i > 0 && s[pos-1] != ':' {
			return mac, errorkinds.ErrInvalidAddress
		}

		hi, ok := fromHex(s[pos])
		if !ok {
			return mac, errorkinds.ErrInvalidAddress
		}
		lo, ok := fromHex(s[pos+1])
		if !ok {
			return mac, errorkinds.ErrInvalidAddress
		}

		mac[NumAddressBytes-1-i] = hi<<4 | lo
	}

	return mac, nil
}

// AddressFromWire converts the raw address bytes delivered by the radio stack
// into a MacAddress. The slice must hold exactly six bytes.
func AddressFromWire(raw []byte) (MacAddress, error) {
	var mac MacAddress

	if len(raw) != NumAddressBytes {
		return mac, errorkinds.ErrInvalidAddress
	}
	copy(mac[:], raw)

	return mac, nil
}

// Wire returns the address bytes in the order the radio stack expects them.
func (m MacAddress) Wire() []byte {
	raw := make([]byte, NumAddressBytes)
	copy(raw, m[:])

	return raw
}

// String returns the display form of the address, such as 11:22:33:AA:BB:CC.
func (m MacAddress) String() string {
	var sb strings.Builder
	sb.Grow(addressStringLength)

	for i := NumAddressBytes - 1; i >= 0; i-- {
		if i != NumAddressBytes-1 {
			sb.WriteByte(':')
		}

		sb.WriteByte(hexDigits[m[i]>>4])
		sb.WriteByte(hexDigits[m[i]&0x0f])
	}

	return sb.String()
}

// IsNil checks if the address is all zeros.
func (m MacAddress) IsNil() bool {
	return m == MacAddress{}
}

// MarshalText implements encoding.TextMarshaler.
func (m MacAddress) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so that configuration
// and codec layers can decode a display-form address directly.
func (m *MacAddress) UnmarshalText(data []byte) error {
	mac, err := ParseMAC(string(data))
	if err != nil {
		return err
	}

	*m = mac

	return nil
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}

	return 0, false
}

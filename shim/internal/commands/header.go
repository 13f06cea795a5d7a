package commands

import (
	"encoding/binary"

	"github.com/bluetuith-org/handsfree/api/errorkinds"
)

// RawFrameHeaderSize is the size of the header that precedes every frame
// sent by the server.
const RawFrameHeaderSize = 18

// RawFrameHeaderBuffer holds an undecoded frame header.
type RawFrameHeaderBuffer = [RawFrameHeaderSize]byte

// FrameKind is the kind of a frame, held in the low nibble of the info header.
type FrameKind byte

// The different frame kinds.
const (
	FrameReply      FrameKind = 0
	FrameIndication FrameKind = 1
)

// RawFrameHeader is the header as it is laid out on the wire, in big-endian order.
type RawFrameHeader struct {
	ApiVersion  byte
	InfoHeader  byte
	RequestId   int64
	OperationId uint32
	ContentSize uint32
}

// FrameHeader is a decoded frame header.
type FrameHeader struct {
	RawFrameHeader

	// Parsed from InfoHeader.
	IsOperationComplete bool
	Kind                FrameKind
}

// UnpackFrameHeader decodes a frame header.
func UnpackFrameHeader(rawheader RawFrameHeaderBuffer) (FrameHeader, error) {
	var unpacked FrameHeader

	var header RawFrameHeader
	if _, err := binary.Decode(rawheader[:], binary.BigEndian, &header); err != nil {
		return unpacked, err
	}

	unpacked.RawFrameHeader = header

	flags := (header.InfoHeader >> 4) & 0x0f
	unpacked.IsOperationComplete = flags&0x01 > 0
	unpacked.Kind = FrameKind(header.InfoHeader & 0x0f)

	switch unpacked.Kind {
	case FrameReply, FrameIndication:
	default:
		return unpacked, errorkinds.ErrEventDataParse
	}

	return unpacked, nil
}

// PackFrameHeader encodes a frame header for a body of the given size.
func PackFrameHeader(kind FrameKind, complete bool, requestId int64, size int) (RawFrameHeaderBuffer, error) {
	var buf RawFrameHeaderBuffer

	info := byte(kind) & 0x0f
	if complete {
		info |= 0x01 << 4
	}

	header := RawFrameHeader{
		ApiVersion:  ApiVersion,
		InfoHeader:  info,
		RequestId:   requestId,
		ContentSize: uint32(size),
	}

	_, err := binary.Encode(buf[:], binary.BigEndian, header)

	return buf, err
}

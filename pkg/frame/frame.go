// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package frame implements the fixed 14 byte transport header together
// with its Internet Checksum, the protocol data unit exchanged between
// two transport endpoints over a carrier.
package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Version is the only accepted protocol version of a Frame.
const Version uint8 = 0x01

// HeaderLen is the length of a marshalled header in bytes.
const HeaderLen = 14

// MaxPayloadLen bounds the payload so that header plus payload still fit
// into a single datagram every carrier can deliver intact.
const MaxPayloadLen = 1400

// Flags is the bitfield of a Frame's second header byte. Multiple Flags
// may be combined, e.g., FlagSyn|FlagAck.
type Flags uint8

const (
	// FlagData marks a Frame carrying an application payload.
	FlagData Flags = 0x01

	// FlagAck marks a Frame acknowledging a previously received one.
	FlagAck Flags = 0x02

	// FlagSyn marks a connection setup Frame.
	FlagSyn Flags = 0x04

	// FlagFin marks a connection teardown Frame.
	FlagFin Flags = 0x08
)

// Has checks if all bits of flag are set.
func (flags Flags) Has(flag Flags) bool {
	return flags&flag == flag
}

func (flags Flags) String() string {
	var parts []string
	for _, f := range []struct {
		flag Flags
		name string
	}{
		{FlagData, "DATA"},
		{FlagAck, "ACK"},
		{FlagSyn, "SYN"},
		{FlagFin, "FIN"},
	} {
		if flags.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}

	return fmt.Sprintf("%v", parts)
}

// Frame is one transport protocol data unit: version, flags, sequence
// and acknowledgment number, payload length, checksum and the payload
// itself. All header fields are encoded big-endian.
type Frame struct {
	Version  uint8
	Flags    Flags
	Seq      uint32
	Ack      uint32
	Checksum uint16

	Payload []byte
}

// New creates a Frame for the given flags, sequence and acknowledgment
// numbers and payload. The Checksum is populated by MarshalBinary.
func New(flags Flags, seq, ack uint32, payload []byte) Frame {
	return Frame{
		Version: Version,
		Flags:   flags,
		Seq:     seq,
		Ack:     ack,
		Payload: payload,
	}
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame(flags=%v, seq=%d, ack=%d, len=%d)",
		f.Flags, f.Seq, f.Ack, len(f.Payload))
}

// marshalHeader writes the header with the given checksum field.
func (f Frame) marshalHeader(buf *bytes.Buffer, checksum uint16) error {
	var fields = []interface{}{
		f.Version,
		uint8(f.Flags),
		f.Seq,
		f.Ack,
		uint16(len(f.Payload)),
		checksum,
	}

	for _, field := range fields {
		if err := binary.Write(buf, binary.BigEndian, field); err != nil {
			return err
		}
	}

	return nil
}

// MarshalBinary encodes this Frame into its binary form. The checksum
// field is computed over the header with a zeroed checksum slot,
// concatenated with the payload.
func (f Frame) MarshalBinary() (data []byte, err error) {
	if len(f.Payload) > MaxPayloadLen {
		err = fmt.Errorf("frame: payload of %d bytes exceeds maximum of %d",
			len(f.Payload), MaxPayloadLen)
		return
	}

	var buf = new(bytes.Buffer)
	if err = f.marshalHeader(buf, 0); err != nil {
		return
	}
	if _, err = buf.Write(f.Payload); err != nil {
		return
	}

	data = buf.Bytes()
	checksum := Checksum(data)
	binary.BigEndian.PutUint16(data[12:14], checksum)

	return
}

// UnmarshalBinary decodes a Frame from its binary form. Any structural
// violation, a wrong version, empty flags, a payload length mismatch or
// a failed checksum results in ErrInvalid. The transport treats such a
// Frame like a dropped one.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderLen {
		return ErrInvalid
	}

	f.Version = data[0]
	f.Flags = Flags(data[1])
	f.Seq = binary.BigEndian.Uint32(data[2:6])
	f.Ack = binary.BigEndian.Uint32(data[6:10])
	payloadLen := binary.BigEndian.Uint16(data[10:12])
	f.Checksum = binary.BigEndian.Uint16(data[12:14])

	if f.Version != Version {
		return ErrInvalid
	}
	if f.Flags == 0 {
		return ErrInvalid
	}
	if int(payloadLen) != len(data)-HeaderLen {
		return ErrInvalid
	}

	var scratch = make([]byte, len(data))
	copy(scratch, data)
	scratch[12], scratch[13] = 0, 0

	if !VerifyChecksum(scratch, f.Checksum) {
		return ErrInvalid
	}

	f.Payload = make([]byte, payloadLen)
	copy(f.Payload, data[HeaderLen:])

	return nil
}

// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frame

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestFrameMarshalBinary(t *testing.T) {
	tests := []struct {
		frame Frame
		data  []byte
	}{
		{
			New(FlagData, 1, 0, []byte("Hi")),
			[]byte{
				// Version:
				0x01,
				// Flags (DATA):
				0x01,
				// Seq (u32):
				0x00, 0x00, 0x00, 0x01,
				// Ack (u32):
				0x00, 0x00, 0x00, 0x00,
				// Payload Length (u16):
				0x00, 0x02,
				// Checksum (u16):
				0xB6, 0x92,
				// Payload:
				0x48, 0x69,
			},
		},
		{
			New(FlagSyn|FlagAck, 0x01020304, 0x05060708, nil),
			[]byte{
				// Version:
				0x01,
				// Flags (SYN|ACK):
				0x06,
				// Seq (u32):
				0x01, 0x02, 0x03, 0x04,
				// Ack (u32):
				0x05, 0x06, 0x07, 0x08,
				// Payload Length (u16):
				0x00, 0x00,
				// Checksum (u16):
				0xEE, 0xE5,
			},
		},
	}

	for _, test := range tests {
		data, err := test.frame.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}

		if !bytes.Equal(data, test.data) {
			t.Fatalf("expected %x, got %x", test.data, data)
		}

		var f Frame
		if err := f.UnmarshalBinary(data); err != nil {
			t.Fatal(err)
		}

		if f.Flags != test.frame.Flags || f.Seq != test.frame.Seq ||
			f.Ack != test.frame.Ack || !bytes.Equal(f.Payload, test.frame.Payload) {
			t.Fatalf("round trip changed frame: sent %v, got %v", test.frame, f)
		}
	}
}

func TestFrameRoundTripRandom(t *testing.T) {
	random := rand.New(rand.NewSource(23))

	for i := 0; i < 100; i++ {
		payload := make([]byte, random.Intn(MaxPayloadLen))
		random.Read(payload)

		f0 := New(FlagData, random.Uint32(), random.Uint32(), payload)
		data, err := f0.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}

		var f1 Frame
		if err := f1.UnmarshalBinary(data); err != nil {
			t.Fatal(err)
		}

		if f1.Seq != f0.Seq || f1.Ack != f0.Ack || !bytes.Equal(f1.Payload, f0.Payload) {
			t.Fatalf("round trip changed frame: sent %v, got %v", f0, f1)
		}
	}
}

func TestFrameUnmarshalInvalid(t *testing.T) {
	valid, err := New(FlagData, 1, 2, []byte("payload")).MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	mutate := func(f func(data []byte) []byte) []byte {
		data := make([]byte, len(valid))
		copy(data, valid)
		return f(data)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"short buffer", valid[:HeaderLen-1]},
		{"wrong version", mutate(func(data []byte) []byte {
			data[0] = 0x02
			return data
		})},
		{"empty flags", mutate(func(data []byte) []byte {
			data[1] = 0x00
			return data
		})},
		{"length mismatch", mutate(func(data []byte) []byte {
			return append(data, 0x23)
		})},
		{"zeroed checksum", mutate(func(data []byte) []byte {
			data[12], data[13] = 0x00, 0x00
			return data
		})},
		{"flipped payload bit", mutate(func(data []byte) []byte {
			data[HeaderLen] ^= 0x01
			return data
		})},
	}

	for _, test := range tests {
		var f Frame
		if err := f.UnmarshalBinary(test.data); err != ErrInvalid {
			t.Fatalf("%s: expected ErrInvalid, got %v", test.name, err)
		}
	}
}

// TestFrameChecksumDetection flips every single bit of some encoded
// frames and checks that each corruption is caught.
func TestFrameChecksumDetection(t *testing.T) {
	random := rand.New(rand.NewSource(42))

	for i := 0; i < 10; i++ {
		payload := make([]byte, 1+random.Intn(64))
		random.Read(payload)

		data, err := New(FlagData, random.Uint32(), random.Uint32(), payload).MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}

		for pos := 0; pos < len(data); pos++ {
			for bit := 0; bit < 8; bit++ {
				corrupted := make([]byte, len(data))
				copy(corrupted, data)
				corrupted[pos] ^= 1 << bit

				var f Frame
				if err := f.UnmarshalBinary(corrupted); err == nil {
					t.Fatalf("flipping bit %d of byte %d went undetected", bit, pos)
				}
			}
		}
	}
}

// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package frame

import "testing"

func TestChecksumRfc1071(t *testing.T) {
	// Example from RFC 1071, section 3: the words 0x0001, 0xf203,
	// 0xf4f5, 0xf6f7 sum to 0xddf2 with carry folding; the checksum is
	// its one's complement.
	data := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}

	if sum := Checksum(data); sum != ^uint16(0xddf2) {
		t.Fatalf("expected %#04x, got %#04x", ^uint16(0xddf2), sum)
	}
}

func TestChecksumOddLength(t *testing.T) {
	// An odd-length buffer is padded with a virtual zero byte.
	odd := []byte{0xab, 0xcd, 0xef}
	padded := []byte{0xab, 0xcd, 0xef, 0x00}

	if Checksum(odd) != Checksum(padded) {
		t.Fatalf("odd-length checksum %#04x differs from padded %#04x",
			Checksum(odd), Checksum(padded))
	}
}

func TestChecksumEmpty(t *testing.T) {
	if sum := Checksum(nil); sum != 0xFFFF {
		t.Fatalf("checksum of empty buffer should be 0xFFFF, got %#04x", sum)
	}
}

func TestVerifyChecksum(t *testing.T) {
	data := []byte("Hello, World!")
	sum := Checksum(data)

	if !VerifyChecksum(data, sum) {
		t.Fatal("checksum does not verify against itself")
	}

	corrupted := []byte("Hello, Wrld!!")
	if VerifyChecksum(corrupted, sum) {
		t.Fatal("checksum verified corrupted data")
	}
}

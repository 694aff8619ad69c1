// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import "fmt"

// Mode is the negotiated session mode, selecting encryption and
// carrier obfuscation.
type Mode string

const (
	// ModeDefault uses cleartext messages over the direct carrier.
	ModeDefault Mode = "default"

	// ModeSecure encrypts messages, direct carrier.
	ModeSecure Mode = "secure"

	// ModeObfs uses cleartext messages over the HTTP tunnel.
	ModeObfs Mode = "obfs"

	// ModeSecureObfs encrypts messages over the HTTP tunnel.
	ModeSecureObfs Mode = "secure_obfs"
)

// ParseMode checks a mode's wire name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDefault, ModeSecure, ModeObfs, ModeSecureObfs:
		return m, nil
	default:
		return "", fmt.Errorf("session: unknown mode %q", s)
	}
}

// Secure checks if this Mode encrypts application messages.
func (m Mode) Secure() bool {
	return m == ModeSecure || m == ModeSecureObfs
}

// Obfuscated checks if this Mode tunnels its frames through HTTP(S).
func (m Mode) Obfuscated() bool {
	return m == ModeObfs || m == ModeSecureObfs
}

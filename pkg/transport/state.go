// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

// State describes the connection state of an Endpoint. An Endpoint
// starts in Closed, passes through SynSent or SynRcvd depending on the
// side that initiated the connection and exchanges data in Established.
type State int

const (
	// Closed is both the initial state and the final one after a FIN
	// exchange or an exhausted handshake.
	Closed State = iota

	// SynSent is the initiator's state after sending its SYN.
	SynSent

	// SynRcvd is the responder's state after answering a SYN with its
	// SYN|ACK, awaiting the concluding ACK.
	SynRcvd

	// Established allows data exchange in both directions.
	Established

	// FinSent is the state after sending a FIN, awaiting its ACK.
	FinSent
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case SynSent:
		return "syn-sent"
	case SynRcvd:
		return "syn-rcvd"
	case Established:
		return "established"
	case FinSent:
		return "fin-sent"
	default:
		return "INVALID"
	}
}

// IsEstablished checks if data exchange is currently possible.
func (s State) IsEstablished() bool {
	return s == Established
}

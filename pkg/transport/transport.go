// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package transport implements reliable, in-order delivery of payloads
// over an unreliable carrier through Stop-and-Wait ARQ: at most one
// unacknowledged DATA frame is in flight, lost frames are retransmitted
// on a timeout, duplicates are suppressed by sequence numbers and
// corruption is caught by the frame checksum.
package transport

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hashicorp/go-multierror"

	"github.com/veilnet/veil-go/pkg/carrier"
	"github.com/veilnet/veil-go/pkg/frame"
)

// ErrUnreliable is returned after all configured transmission attempts
// passed without an acknowledgment.
var ErrUnreliable = errors.New("transport: retries exhausted")

// ErrCancelled is returned when Cancel aborted an in-flight operation.
var ErrCancelled = errors.New("transport: cancelled")

// ErrClosed is returned for operations on an Endpoint that is not
// Established, including a connection the peer tore down with its FIN.
var ErrClosed = errors.New("transport: connection closed")

// Config holds an Endpoint's ARQ parameters.
type Config struct {
	// Timeout is the retransmission timeout T.
	Timeout time.Duration

	// MaxRetries is the total amount of transmission attempts R per
	// frame before giving up.
	MaxRetries int

	// RandomISN selects a random initial sequence number instead of
	// zero. Either is legal on the wire; a receiver learns the peer's
	// ISN from its SYN and never assumes zero.
	RandomISN bool
}

// DefaultConfig returns the protocol's defaults: two seconds timeout,
// five attempts, deterministic initial sequence number.
func DefaultConfig() Config {
	return Config{
		Timeout:    2 * time.Second,
		MaxRetries: 5,
	}
}

// Stats is a snapshot of an Endpoint's frame counters.
type Stats struct {
	FramesSent      uint64
	FramesReceived  uint64
	Retransmissions uint64
	Delivered       uint64
}

// Endpoint is one side of a Stop-and-Wait connection. An Endpoint owns
// its Carrier and is driven by a single goroutine; Cancel is the only
// method safe to call concurrently.
type Endpoint struct {
	config Config
	cr     carrier.Carrier
	peer   net.Addr

	state   State
	sendSeq uint32 // next outgoing DATA sequence number
	recvSeq uint32 // next inbound DATA sequence number to accept
	isn     uint32
	peerIsn uint32

	// delivered buffers payloads that arrived while waiting for an ACK.
	delivered [][]byte

	cancelled atomic.Bool

	framesSent      uint64
	framesReceived  uint64
	retransmissions uint64
	deliveredCount  uint64
}

// NewEndpoint creates an Endpoint on top of the given Carrier. The peer
// address may be nil for a responder; it is learned from the first SYN.
func NewEndpoint(cr carrier.Carrier, peer net.Addr, config Config) *Endpoint {
	e := &Endpoint{
		config: config,
		cr:     cr,
		peer:   peer,
		state:  Closed,
	}

	if config.RandomISN {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err == nil {
			e.isn = binary.BigEndian.Uint32(buf[:])
		}
	}

	return e
}

// State returns the current connection state.
func (e *Endpoint) State() State {
	return e.state
}

// Peer returns the peer's carrier address, nil before the first
// contact.
func (e *Endpoint) Peer() net.Addr {
	return e.peer
}

// Stats returns a snapshot of this Endpoint's counters.
func (e *Endpoint) Stats() Stats {
	return Stats{
		FramesSent:      e.framesSent,
		FramesReceived:  e.framesReceived,
		Retransmissions: e.retransmissions,
		Delivered:       e.deliveredCount,
	}
}

// Cancel aborts an in-flight send or receive loop at its next timeout
// boundary. A frame in transit is allowed to complete or time out.
func (e *Endpoint) Cancel() {
	e.cancelled.Store(true)
}

// transmit marshals and sends one frame to the current peer.
func (e *Endpoint) transmit(f frame.Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return err
	}

	e.framesSent++

	if err := e.cr.Send(data, e.peer); err != nil {
		if err == carrier.ErrUnavailable {
			// Transient substrate failure; the frame counts as lost and
			// the retransmission loop covers it.
			log.WithField("frame", f).Debug("Carrier unavailable, frame counts as lost")
			return nil
		}
		return err
	}

	return nil
}

// receive reads and decodes one frame, bounded by timeout. A frame
// failing validation is reported like a lost one.
func (e *Endpoint) receive(timeout time.Duration) (f frame.Frame, peer net.Addr, err error) {
	data, peer, err := e.cr.Recv(timeout)
	if err != nil {
		return
	}

	if err = f.UnmarshalBinary(data); err != nil {
		log.WithField("peer", peer).Debug("Dropping invalid frame")

		err = carrier.ErrTimeout
		return
	}

	e.framesReceived++
	return
}

// ackFrame builds an ACK for the current receive progress.
func (e *Endpoint) ackFrame() frame.Frame {
	return frame.New(frame.FlagAck, e.sendSeq, e.recvSeq, nil)
}

// handleData processes an inbound DATA frame: deliver and acknowledge
// fresh data, re-acknowledge the duplicate of the last delivered frame,
// drop everything else.
func (e *Endpoint) handleData(f frame.Frame) (payload []byte, deliver bool) {
	switch f.Seq {
	case e.recvSeq:
		e.recvSeq++
		e.deliveredCount++
		payload, deliver = f.Payload, true

		if err := e.transmit(e.ackFrame()); err != nil {
			log.WithError(err).Warn("Sending ACK errored")
		}

	case e.recvSeq - 1:
		log.WithField("seq", f.Seq).Debug("Re-acknowledging duplicate DATA frame")

		if err := e.transmit(e.ackFrame()); err != nil {
			log.WithError(err).Warn("Re-sending ACK errored")
		}

	default:
		log.WithFields(log.Fields{
			"seq":      f.Seq,
			"expected": e.recvSeq,
		}).Debug("Dropping out-of-order DATA frame")
	}

	return
}

// SendData transmits one payload reliably. It blocks until the matching
// ACK arrived, retrying up to the configured maximum, and returns
// ErrUnreliable when all attempts passed unacknowledged. Inbound DATA
// frames arriving while waiting are acknowledged and buffered for the
// next Recv call.
func (e *Endpoint) SendData(payload []byte) error {
	if !e.state.IsEstablished() {
		return ErrClosed
	}

	f := frame.New(frame.FlagData, e.sendSeq, e.recvSeq, payload)

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if e.cancelled.Load() {
			return ErrCancelled
		}

		if attempt > 0 {
			e.retransmissions++
			log.WithFields(log.Fields{
				"seq":     e.sendSeq,
				"attempt": attempt + 1,
				"retries": e.config.MaxRetries,
			}).Debug("Retransmitting DATA frame")
		}

		// The ack field mirrors the current receive progress.
		f.Ack = e.recvSeq
		if err := e.transmit(f); err != nil {
			return err
		}

		deadline := time.Now().Add(e.config.Timeout)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}

			in, _, err := e.receive(remaining)
			if err == carrier.ErrTimeout {
				break
			} else if err != nil {
				return err
			}

			if in.Flags.Has(frame.FlagFin) {
				return e.handleFin()
			}

			if in.Flags.Has(frame.FlagData) {
				if data, deliver := e.handleData(in); deliver {
					e.delivered = append(e.delivered, data)
				}

				// The ack field of an inbound DATA frame is not
				// consulted; only a frame carrying the ACK flag
				// acknowledges our frame.
			}

			if in.Flags.Has(frame.FlagAck) && in.Ack == e.sendSeq+1 {
				e.sendSeq++
				return nil
			}
		}
	}

	log.WithFields(log.Fields{
		"seq":     e.sendSeq,
		"retries": e.config.MaxRetries,
	}).Warn("DATA frame passed unacknowledged, giving up")

	return ErrUnreliable
}

// Recv blocks until one payload was delivered, bounded by timeout.
// Duplicates and out-of-order frames are handled internally and do not
// surface. A FIN from the peer is acknowledged and reported as
// ErrClosed.
func (e *Endpoint) Recv(timeout time.Duration) ([]byte, error) {
	if len(e.delivered) > 0 {
		payload := e.delivered[0]
		e.delivered = e.delivered[1:]
		return payload, nil
	}

	if e.state == Closed {
		return nil, ErrClosed
	}

	deadline := time.Now().Add(timeout)
	for {
		if e.cancelled.Load() {
			return nil, ErrCancelled
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, carrier.ErrTimeout
		}

		in, peer, err := e.receive(remaining)
		if err == carrier.ErrTimeout {
			continue
		} else if err != nil {
			return nil, err
		}

		switch {
		case in.Flags.Has(frame.FlagFin):
			return nil, e.handleFin()

		case in.Flags.Has(frame.FlagSyn) && in.Flags.Has(frame.FlagAck):
			// A repeated SYN|ACK means our concluding handshake ACK was
			// lost; repeat it.
			if e.state.IsEstablished() && in.Ack == e.isn+1 {
				if err := e.transmit(frame.New(frame.FlagAck, e.sendSeq, e.recvSeq, nil)); err != nil {
					return nil, err
				}
			}

		case in.Flags.Has(frame.FlagSyn):
			// A repeated SYN means our SYN|ACK was lost; Accept's answer
			// is repeated here.
			if e.state.IsEstablished() && peerEqual(peer, e.peer) && in.Seq == e.peerIsn {
				if err := e.transmit(frame.New(frame.FlagSyn|frame.FlagAck, e.isn, e.recvSeq, nil)); err != nil {
					return nil, err
				}
			}

		case in.Flags.Has(frame.FlagData):
			if payload, deliver := e.handleData(in); deliver {
				return payload, nil
			}
		}
	}
}

// peerEqual compares two carrier addresses.
func peerEqual(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Network() == b.Network() && a.String() == b.String()
}

// handleFin acknowledges a peer's FIN and closes this Endpoint.
func (e *Endpoint) handleFin() error {
	log.WithField("peer", e.peer).Debug("Received FIN, closing down")

	if err := e.transmit(frame.New(frame.FlagAck, e.sendSeq, e.recvSeq, nil)); err != nil {
		log.WithError(err).Warn("Acknowledging FIN errored")
	}

	e.state = Closed
	return ErrClosed
}

// Close tears the connection down: an Established Endpoint sends its
// FIN and awaits the ACK, afterwards the Carrier is closed. All errors
// on the way are collected.
func (e *Endpoint) Close() error {
	var errs *multierror.Error

	if e.state.IsEstablished() {
		e.state = FinSent

		if err := e.finExchange(); err != nil && err != ErrClosed {
			errs = multierror.Append(errs, err)
		}
	}

	e.state = Closed

	if err := e.cr.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}

// finExchange sends this side's FIN and awaits its ACK, following the
// same retransmission rules as DATA.
func (e *Endpoint) finExchange() error {
	f := frame.New(frame.FlagFin, e.sendSeq, e.recvSeq, nil)

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if err := e.transmit(f); err != nil {
			return err
		}

		deadline := time.Now().Add(e.config.Timeout)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}

			in, _, err := e.receive(remaining)
			if err == carrier.ErrTimeout {
				break
			} else if err != nil {
				return err
			}

			if in.Flags.Has(frame.FlagFin) {
				// Simultaneous close; acknowledge and be done.
				_ = e.transmit(frame.New(frame.FlagAck, e.sendSeq, e.recvSeq, nil))
				return nil
			}

			if in.Flags.Has(frame.FlagAck) {
				return nil
			}
		}
	}

	return ErrUnreliable
}

// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/veilnet/veil-go/pkg/carrier"
	"github.com/veilnet/veil-go/pkg/frame"
)

// Connect performs the initiator's side of the three-way handshake:
// SYN, awaiting SYN|ACK, concluding ACK. SYN follows the same
// retransmission rules as DATA. On success the Endpoint is Established.
func (e *Endpoint) Connect() error {
	if e.state != Closed {
		return ErrClosed
	}

	e.state = SynSent
	syn := frame.New(frame.FlagSyn, e.isn, 0, nil)

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if e.cancelled.Load() {
			e.state = Closed
			return ErrCancelled
		}

		if attempt > 0 {
			e.retransmissions++
		}

		if err := e.transmit(syn); err != nil {
			e.state = Closed
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
				e.state = Closed
				return err
			}

			if in.Flags.Has(frame.FlagSyn) && in.Flags.Has(frame.FlagAck) && in.Ack == e.isn+1 {
				e.peerIsn = in.Seq
				e.recvSeq = in.Seq + 1
				e.sendSeq = e.isn + 1
				e.state = Established

				if err := e.transmit(frame.New(frame.FlagAck, e.sendSeq, e.recvSeq, nil)); err != nil {
					e.state = Closed
					return err
				}

				log.WithFields(log.Fields{
					"peer": e.peer,
					"isn":  e.isn,
				}).Debug("Handshake completed, connection is established")

				return nil
			}
		}
	}

	e.state = Closed
	return ErrUnreliable
}

// Accept performs the responder's side of the handshake: awaiting a
// SYN, bounded by timeout, then answering SYN|ACK until the concluding
// ACK arrives. A DATA frame with the expected sequence number also
// concludes the handshake, as it proves the peer considers the
// connection established.
func (e *Endpoint) Accept(timeout time.Duration) error {
	if e.state != Closed {
		return ErrClosed
	}

	deadline := time.Now().Add(timeout)
	for e.state != SynRcvd {
		if e.cancelled.Load() {
			return ErrCancelled
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return carrier.ErrTimeout
		}

		in, peer, err := e.receive(remaining)
		if err == carrier.ErrTimeout {
			continue
		} else if err != nil {
			return err
		}

		if in.Flags.Has(frame.FlagSyn) && !in.Flags.Has(frame.FlagAck) {
			if e.peer == nil {
				e.peer = peer
			}

			e.peerIsn = in.Seq
			e.recvSeq = in.Seq + 1
			e.state = SynRcvd

			log.WithFields(log.Fields{
				"peer": e.peer,
				"isn":  in.Seq,
			}).Debug("Received SYN")
		}
	}

	synAck := frame.New(frame.FlagSyn|frame.FlagAck, e.isn, e.recvSeq, nil)

	for attempt := 0; attempt < e.config.MaxRetries; attempt++ {
		if e.cancelled.Load() {
			e.state = Closed
			return ErrCancelled
		}

		if attempt > 0 {
			e.retransmissions++
		}

		if err := e.transmit(synAck); err != nil {
			e.state = Closed
			return err
		}

		waitDeadline := time.Now().Add(e.config.Timeout)
		for {
			remaining := time.Until(waitDeadline)
			if remaining <= 0 {
				break
			}

			in, _, err := e.receive(remaining)
			if err == carrier.ErrTimeout {
				break
			} else if err != nil {
				e.state = Closed
				return err
			}

			if in.Flags.Has(frame.FlagAck) && !in.Flags.Has(frame.FlagSyn) && in.Ack == e.isn+1 {
				e.sendSeq = e.isn + 1
				e.state = Established

				log.WithField("peer", e.peer).Debug("Handshake completed, connection is established")
				return nil
			}

			// The concluding ACK was lost, but the peer already sends
			// data; the handshake is complete nevertheless.
			if in.Flags.Has(frame.FlagData) && in.Seq == e.recvSeq {
				e.sendSeq = e.isn + 1
				e.state = Established

				if payload, deliver := e.handleData(in); deliver {
					e.delivered = append(e.delivered, payload)
				}

				log.WithField("peer", e.peer).Debug("Handshake concluded by a DATA frame")
				return nil
			}
		}
	}

	e.state = Closed
	return ErrUnreliable
}

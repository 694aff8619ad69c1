// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package session implements the application protocol on top of a
// transport endpoint: the Hello exchange, mode negotiation, the in-band
// key exchange of the secure modes, the chat data phase and the Bye
// teardown. ClientSession drives the handshake, ServerSession answers
// it; both share the Session plumbing which applies encryption and the
// optional obfuscation around the message codec.
package session

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hashicorp/go-multierror"

	"github.com/veilnet/veil-go/pkg/aescbc"
	"github.com/veilnet/veil-go/pkg/carrier"
	"github.com/veilnet/veil-go/pkg/msg"
	"github.com/veilnet/veil-go/pkg/transport"
)

// ErrClosed is returned for operations on a Session that left its Ready
// phase, including a session the peer ended with its Bye.
var ErrClosed = errors.New("session: closed")

// ErrModeMismatch is returned by the server's handshake when the
// client requested a mode differing from the configured one.
var ErrModeMismatch = errors.New("session: peers disagree on mode")

// PeerError is an Error message received from the peer.
type PeerError struct {
	Code   string
	Detail string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("session: peer reported %s: %s", e.Code, e.Detail)
}

// Config holds a Session's parameters.
type Config struct {
	// LocalId identifies this side in Hello and Text messages.
	LocalId string

	// Mode is this side's session mode. The server refuses clients
	// requesting a different one.
	Mode Mode

	// XorKey enables the keyed-XOR obfuscator outside the encryption
	// layer when non-empty. Both sides must configure the same key.
	XorKey []byte

	// RecvTimeout bounds one blocking receive during handshake and
	// teardown.
	RecvTimeout time.Duration
}

// DefaultRecvTimeout is used when Config.RecvTimeout is unset.
const DefaultRecvTimeout = 10 * time.Second

// Session is the state shared by both sides: the owned transport
// endpoint, the current phase, the peer's identity and, in secure
// modes, the AES key.
type Session struct {
	config Config
	tp     *transport.Endpoint

	phase  Phase
	closed bool
	peerId string

	key    aescbc.Key
	hasKey bool
	xor    *aescbc.Xor
}

func newSession(tp *transport.Endpoint, config Config) Session {
	if config.RecvTimeout <= 0 {
		config.RecvTimeout = DefaultRecvTimeout
	}

	s := Session{
		config: config,
		tp:     tp,
		phase:  Init,
	}

	if len(config.XorKey) > 0 {
		s.xor = aescbc.NewXor(config.XorKey)
	}

	return s
}

// Phase returns the Session's current phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// PeerId returns the peer's identity from its Hello, empty beforehand.
func (s *Session) PeerId() string {
	return s.peerId
}

// Transport returns the underlying endpoint, e.g., for its Stats.
func (s *Session) Transport() *transport.Endpoint {
	return s.tp
}

// installKey stores the session key; every message from here on is
// encrypted.
func (s *Session) installKey(key aescbc.Key) {
	s.key = key
	s.hasKey = true
}

// send serializes m, applies encryption and obfuscation as negotiated
// and hands the payload to the transport.
func (s *Session) send(m msg.Message) error {
	data, err := msg.Marshal(m)
	if err != nil {
		return err
	}

	if s.hasKey {
		if data, err = aescbc.Encrypt(s.key, data); err != nil {
			return err
		}
	}

	if s.xor != nil {
		data = s.xor.Apply(data)
	}

	log.WithFields(log.Fields{
		"session": s.config.LocalId,
		"type":    m.Type(),
	}).Debug("Sending application message")

	return s.tp.SendData(data)
}

// recv receives one payload and reverses obfuscation, encryption and
// serialization. A transport-level closure surfaces as ErrClosed.
func (s *Session) recv(timeout time.Duration) (msg.Message, error) {
	data, err := s.tp.Recv(timeout)
	if err == transport.ErrClosed {
		s.phase = ClosedPhase
		return nil, ErrClosed
	} else if err != nil {
		return nil, err
	}

	if s.xor != nil {
		data = s.xor.Apply(data)
	}

	if s.hasKey {
		if data, err = aescbc.Decrypt(s.key, data); err != nil {
			return nil, err
		}
	}

	m, err := msg.Unmarshal(data)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"session": s.config.LocalId,
		"type":    m.Type(),
	}).Debug("Received application message")

	return m, nil
}

// fail answers a protocol violation with an Error message and enters
// the Closing phase. The returned error wraps cause.
func (s *Session) fail(code string, cause error) error {
	s.phase = Closing

	if err := s.send(msg.Error{Code: code, Detail: cause.Error()}); err != nil {
		log.WithError(err).Warn("Sending Error message errored")
	}

	return fmt.Errorf("session: %s: %w", code, cause)
}

// SendText transmits one chat message. The peer's advisory AckMsg is
// consumed by a later Next call.
func (s *Session) SendText(text string) error {
	if s.phase != Ready {
		return ErrClosed
	}

	return s.send(msg.Text{Text: text, Sender: s.config.LocalId})
}

// Next blocks until the peer sent a chat message, bounded by timeout.
// Advisory AckMsg messages are skipped, a Text is acknowledged and
// returned, a Bye is confirmed and ends the session with ErrClosed, an
// Error from the peer surfaces as *PeerError. Undecodable or
// out-of-phase messages are answered with an Error and close the
// session.
func (s *Session) Next(timeout time.Duration) (*msg.Text, error) {
	if s.phase != Ready {
		return nil, ErrClosed
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, carrier.ErrTimeout
		}

		m, err := s.recv(remaining)
		switch {
		case err == ErrClosed:
			return nil, ErrClosed

		case errors.Is(err, aescbc.ErrPadding):
			return nil, s.fail(msg.CodeCrypto, err)

		case errors.Is(err, msg.ErrInvalid):
			return nil, s.fail(msg.CodeProtocol, err)

		case err != nil:
			return nil, err
		}

		switch m := m.(type) {
		case msg.Text:
			if err := s.send(msg.AckMsg{}); err != nil {
				log.WithError(err).Warn("Sending AckMsg errored")
			}
			return &m, nil

		case msg.AckMsg:
			log.WithField("session", s.config.LocalId).Debug("Peer acknowledged a message")

		case msg.Bye:
			return nil, s.handlePeerBye(m)

		case msg.Error:
			s.phase = Closing
			return nil, &PeerError{Code: m.Code, Detail: m.Detail}

		default:
			return nil, s.fail(msg.CodeProtocol,
				fmt.Errorf("unexpected %s message", m.Type()))
		}
	}
}

// handlePeerBye confirms a peer's Bye and reports the closed session.
func (s *Session) handlePeerBye(m msg.Bye) error {
	log.WithFields(log.Fields{
		"session": s.config.LocalId,
		"reason":  m.Reason,
	}).Info("Peer said goodbye")

	s.phase = Closing
	if err := s.send(msg.Bye{}); err != nil {
		log.WithError(err).Warn("Confirming Bye errored")
	}

	return ErrClosed
}

// Bye initiates the teardown: send Bye, await the peer's confirming
// Bye, tear the transport down.
func (s *Session) Bye(reason string) error {
	if s.phase != Ready {
		return s.Close()
	}

	s.phase = Closing

	var errs *multierror.Error

	if err := s.send(msg.Bye{Reason: reason}); err != nil {
		errs = multierror.Append(errs, err)
	} else {
		// Drain until the confirming Bye, the peer's FIN or a timeout.
		deadline := time.Now().Add(s.config.RecvTimeout)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}

			m, err := s.recv(remaining)
			if err != nil {
				break
			}
			if _, isBye := m.(msg.Bye); isBye {
				break
			}
		}
	}

	if err := s.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}

// Close tears the transport down without a Bye exchange.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.phase = ClosedPhase

	return s.tp.Close()
}

// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/veilnet/veil-go/pkg/aescbc"
	"github.com/veilnet/veil-go/pkg/msg"
	"github.com/veilnet/veil-go/pkg/transport"
)

// DefaultServerId names the server side when no identifier is
// configured.
const DefaultServerId = "server_main"

// ServerSession is the answering side of a session.
type ServerSession struct {
	Session
}

// NewServer creates a ServerSession on an Established transport
// endpoint. The endpoint's ownership passes to the session.
func NewServer(tp *transport.Endpoint, config Config) *ServerSession {
	if config.LocalId == "" {
		config.LocalId = DefaultServerId
	}

	return &ServerSession{Session: newSession(tp, config)}
}

// Handshake answers the client's application handshake. A client
// requesting a mode differing from the configured one is answered with
// an Error carrying the MODE_MISMATCH code; the session closes and
// ErrModeMismatch is returned. In secure modes a fresh key is generated
// and handed to the client; all messages after that are encrypted.
func (s *ServerSession) Handshake() error {
	if s.phase != Init {
		return ErrClosed
	}

	// Hello exchange.
	m, err := s.recv(s.config.RecvTimeout)
	if err != nil {
		return err
	}
	hello, ok := m.(msg.Hello)
	if !ok {
		return s.fail(msg.CodeProtocol, fmt.Errorf("expected HELLO, got %s", m.Type()))
	}
	s.peerId = hello.ClientId

	log.WithFields(log.Fields{
		"client":  s.peerId,
		"version": hello.Version,
	}).Info("Client said hello")

	if err := s.send(msg.Hello{ClientId: s.config.LocalId, Version: msg.Version}); err != nil {
		return err
	}
	s.phase = HelloSent

	// Mode negotiation.
	m, err = s.recv(s.config.RecvTimeout)
	if err != nil {
		return err
	}
	modeSelect, ok := m.(msg.ModeSelect)
	if !ok {
		return s.fail(msg.CodeProtocol, fmt.Errorf("expected MODE_SELECT, got %s", m.Type()))
	}

	if requested, err := ParseMode(modeSelect.Mode); err != nil || requested != s.config.Mode {
		s.phase = Closing

		if sendErr := s.send(msg.Error{
			Code:   msg.CodeModeMismatch,
			Detail: fmt.Sprintf("server runs mode %q", s.config.Mode),
		}); sendErr != nil {
			log.WithError(sendErr).Warn("Sending MODE_MISMATCH errored")
		}

		log.WithFields(log.Fields{
			"client":    s.peerId,
			"requested": modeSelect.Mode,
			"mode":      s.config.Mode,
		}).Warn("Refusing client due to a mode mismatch")

		return ErrModeMismatch
	}

	if err := s.send(msg.ModeSelect{Mode: string(s.config.Mode)}); err != nil {
		return err
	}
	s.phase = ModeSelected

	// Key exchange, secure modes only.
	if s.config.Mode.Secure() {
		key, err := aescbc.NewKey()
		if err != nil {
			return err
		}

		// The KeyExchange message itself travels in cleartext.
		if err := s.send(msg.KeyExchange{Key: key.Base64()}); err != nil {
			return err
		}

		s.installKey(key)
		s.phase = KeyExchanged
	}

	s.phase = Ready

	log.WithFields(log.Fields{
		"server": s.config.LocalId,
		"client": s.peerId,
		"mode":   s.config.Mode,
	}).Info("Session is ready")

	return nil
}

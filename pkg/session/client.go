// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/veilnet/veil-go/pkg/aescbc"
	"github.com/veilnet/veil-go/pkg/msg"
	"github.com/veilnet/veil-go/pkg/transport"
)

// ClientSession is the initiating side of a session.
type ClientSession struct {
	Session
}

// NewClient creates a ClientSession on an Established transport
// endpoint. The endpoint's ownership passes to the session.
func NewClient(tp *transport.Endpoint, config Config) *ClientSession {
	return &ClientSession{Session: newSession(tp, config)}
}

// RandomClientId derives an identifier of the form
// "client_<unix>_<rand>" for clients without a configured one.
func RandomClientId() string {
	var buf [3]byte
	_, _ = rand.Read(buf[:])

	return fmt.Sprintf("client_%d_%s", time.Now().Unix(), hex.EncodeToString(buf[:]))
}

// Handshake drives the client's side of the application handshake:
// Hello, mode negotiation and, in secure modes, receiving the server's
// key. Afterwards the session is Ready. A server refusing the mode
// surfaces as *PeerError with the MODE_MISMATCH code.
func (c *ClientSession) Handshake() error {
	if c.phase != Init {
		return ErrClosed
	}

	// Hello exchange.
	if err := c.send(msg.Hello{ClientId: c.config.LocalId, Version: msg.Version}); err != nil {
		return err
	}
	c.phase = HelloSent

	m, err := c.recv(c.config.RecvTimeout)
	if err != nil {
		return err
	}
	hello, ok := m.(msg.Hello)
	if !ok {
		return c.fail(msg.CodeProtocol, fmt.Errorf("expected HELLO, got %s", m.Type()))
	}
	c.peerId = hello.ClientId

	// Mode negotiation.
	if err := c.send(msg.ModeSelect{Mode: string(c.config.Mode)}); err != nil {
		return err
	}

	m, err = c.recv(c.config.RecvTimeout)
	if err != nil {
		return err
	}

	switch m := m.(type) {
	case msg.ModeSelect:
		if m.Mode != string(c.config.Mode) {
			return c.fail(msg.CodeProtocol,
				fmt.Errorf("server echoed mode %q instead of %q", m.Mode, c.config.Mode))
		}

	case msg.Error:
		c.phase = Closing
		return &PeerError{Code: m.Code, Detail: m.Detail}

	default:
		return c.fail(msg.CodeProtocol, fmt.Errorf("expected MODE_SELECT, got %s", m.Type()))
	}
	c.phase = ModeSelected

	// Key exchange, secure modes only. The key itself arrives in
	// cleartext; see the protocol's documented limitations.
	if c.config.Mode.Secure() {
		m, err = c.recv(c.config.RecvTimeout)
		if err != nil {
			return err
		}

		keyExchange, ok := m.(msg.KeyExchange)
		if !ok {
			return c.fail(msg.CodeProtocol, fmt.Errorf("expected KEY_EXCHANGE, got %s", m.Type()))
		}

		key, err := aescbc.KeyFromBase64(keyExchange.Key)
		if err != nil {
			return c.fail(msg.CodeProtocol, err)
		}

		c.installKey(key)
		c.phase = KeyExchanged
	}

	c.phase = Ready

	log.WithFields(log.Fields{
		"client": c.config.LocalId,
		"server": c.peerId,
		"mode":   c.config.Mode,
	}).Info("Session is ready")

	return nil
}

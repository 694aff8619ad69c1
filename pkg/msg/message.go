// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package msg defines the typed application messages exchanged within a
// session. On the wire a message is a UTF-8 JSON object of the form
// {"type": ..., "payload": {...}}; in code each type is its own struct
// implementing the Message interface.
package msg

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the protocol version announced in a Hello.
const Version = "1.0"

// Wire names of the message types. Both keys and types are
// case-sensitive.
const (
	TypeHello       = "HELLO"
	TypeModeSelect  = "MODE_SELECT"
	TypeKeyExchange = "KEY_EXCHANGE"
	TypeMsg         = "MSG"
	TypeAckMsg      = "ACK_MSG"
	TypeError       = "ERROR"
	TypeBye         = "BYE"
)

// Error codes carried within an Error message.
const (
	CodeModeMismatch = "MODE_MISMATCH"
	CodeCrypto       = "CRYPTO"
	CodeProtocol     = "PROTOCOL"
)

// ErrInvalid is returned for a buffer that is no well-formed message,
// including an unknown type. The session answers such a message with an
// Error and closes down.
var ErrInvalid = errors.New("msg: invalid message")

// Message is implemented by all application message types below.
type Message interface {
	// Type returns the message's wire name.
	Type() string
}

// Hello opens a session and introduces the sending side.
type Hello struct {
	ClientId string `json:"client_id"`
	Version  string `json:"version"`
}

func (Hello) Type() string { return TypeHello }

// ModeSelect requests respectively confirms the session mode.
type ModeSelect struct {
	Mode string `json:"mode"`
}

func (ModeSelect) Type() string { return TypeModeSelect }

// KeyExchange transfers the server-generated AES key, base64-encoded.
// It is sent in cleartext; a passive eavesdropper learns the key. This
// is a documented limitation of the protocol, not an oversight.
type KeyExchange struct {
	Key string `json:"key"`
}

func (KeyExchange) Type() string { return TypeKeyExchange }

// Text is one chat message. Its wire name is MSG.
type Text struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

func (Text) Type() string { return TypeMsg }

// AckMsg acknowledges a Text on the application level. It is advisory;
// reliable delivery is the transport's responsibility.
type AckMsg struct {
	MsgId string `json:"msg_id,omitempty"`
}

func (AckMsg) Type() string { return TypeAckMsg }

// Error reports a protocol violation. The sending side transitions to
// its closing state afterwards.
type Error struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func (Error) Type() string { return TypeError }

// Bye initiates respectively confirms the session teardown.
type Bye struct {
	Reason string `json:"reason,omitempty"`
}

func (Bye) Type() string { return TypeBye }

// envelope is the outer JSON object.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal encodes a Message into its wire form.
func Marshal(m Message) (data []byte, err error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return
	}

	return json.Marshal(envelope{
		Type:    m.Type(),
		Payload: payload,
	})
}

// Unmarshal decodes a Message from its wire form. Unknown types and
// malformed buffers are reported as ErrInvalid.
func Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var (
		m       Message
		decoded interface{}
	)

	switch env.Type {
	case TypeHello:
		decoded = &Hello{}
	case TypeModeSelect:
		decoded = &ModeSelect{}
	case TypeKeyExchange:
		decoded = &KeyExchange{}
	case TypeMsg:
		decoded = &Text{}
	case TypeAckMsg:
		decoded = &AckMsg{}
	case TypeError:
		decoded = &Error{}
	case TypeBye:
		decoded = &Bye{}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalid, env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	switch variant := decoded.(type) {
	case *Hello:
		m = *variant
	case *ModeSelect:
		m = *variant
	case *KeyExchange:
		m = *variant
	case *Text:
		m = *variant
	case *AckMsg:
		m = *variant
	case *Error:
		m = *variant
	case *Bye:
		m = *variant
	}

	return m, nil
}

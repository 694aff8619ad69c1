// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/veilnet/veil-go/pkg/carrier"
	"github.com/veilnet/veil-go/pkg/frame"
)

// lossyCarrier drops outgoing frames with a fixed probability, or all
// of them once blackhole is set.
type lossyCarrier struct {
	carrier.Carrier

	random    *rand.Rand
	rate      float64
	blackhole bool
}

func (l *lossyCarrier) Send(data []byte, peer net.Addr) error {
	if l.blackhole || l.random.Float64() < l.rate {
		return nil
	}
	return l.Carrier.Send(data, peer)
}

func testConfig() Config {
	return Config{
		Timeout:    50 * time.Millisecond,
		MaxRetries: 5,
	}
}

// connectedPair runs a handshake between two Endpoints over the given
// carriers and returns both in their Established state.
func connectedPair(t *testing.T, ca, cb carrier.Carrier, addrB net.Addr, config Config) (initiator, responder *Endpoint) {
	initiator = NewEndpoint(ca, addrB, config)
	responder = NewEndpoint(cb, nil, config)

	errChan := make(chan error)
	go func() { errChan <- responder.Accept(5 * time.Second) }()

	if err := initiator.Connect(); err != nil {
		t.Fatal(err)
	}
	if err := <-errChan; err != nil {
		t.Fatal(err)
	}

	if !initiator.State().IsEstablished() || !responder.State().IsEstablished() {
		t.Fatalf("handshake left states %v and %v", initiator.State(), responder.State())
	}

	return
}

func TestHandshake(t *testing.T) {
	ca, cb := carrier.NewMemoryPair()
	connectedPair(t, ca, cb, cb.Addr(), testConfig())
}

func TestHandshakeRandomIsn(t *testing.T) {
	ca, cb := carrier.NewMemoryPair()

	config := testConfig()
	config.RandomISN = true

	a, b := connectedPair(t, ca, cb, cb.Addr(), config)

	sendErr := make(chan error, 1)
	go func() { sendErr <- a.SendData([]byte("isn check")) }()

	if payload, err := b.Recv(time.Second); err != nil {
		t.Fatal(err)
	} else if string(payload) != "isn check" {
		t.Fatalf("got %q", payload)
	}
	if err := <-sendErr; err != nil {
		t.Fatal(err)
	}
}

func TestSendRecvInOrder(t *testing.T) {
	ca, cb := carrier.NewMemoryPair()
	a, b := connectedPair(t, ca, cb, cb.Addr(), testConfig())

	const n = 20

	go func() {
		for i := 0; i < n; i++ {
			if err := a.SendData([]byte(fmt.Sprintf("message %d", i))); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		payload, err := b.Recv(time.Second)
		if err != nil {
			t.Fatal(err)
		}

		if expected := fmt.Sprintf("message %d", i); string(payload) != expected {
			t.Fatalf("expected %q, got %q", expected, payload)
		}
	}
}

func TestSendRecvLossy(t *testing.T) {
	ca, cb := carrier.NewMemoryPair()

	la := &lossyCarrier{Carrier: ca, random: rand.New(rand.NewSource(23)), rate: 0.3}
	lb := &lossyCarrier{Carrier: cb, random: rand.New(rand.NewSource(42)), rate: 0.3}

	config := Config{
		Timeout:    25 * time.Millisecond,
		MaxRetries: 50,
	}

	a, b := connectedPair(t, la, lb, cb.Addr(), config)

	const n = 50

	go func() {
		for i := 0; i < n; i++ {
			if err := a.SendData([]byte(fmt.Sprintf("lossy %d", i))); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for i := 0; i < n; i++ {
		payload, err := b.Recv(5 * time.Second)
		if err != nil {
			t.Fatal(err)
		}

		if expected := fmt.Sprintf("lossy %d", i); string(payload) != expected {
			t.Fatalf("expected %q, got %q", expected, payload)
		}
	}
}

// TestDuplicateSuppression drives the responder with raw frames: the
// same DATA frame twice must result in one delivery and two ACKs.
func TestDuplicateSuppression(t *testing.T) {
	ca, cb := carrier.NewMemoryPair()

	responder := NewEndpoint(cb, nil, testConfig())

	acceptChan := make(chan error)
	go func() { acceptChan <- responder.Accept(5 * time.Second) }()

	send := func(f frame.Frame) {
		data, err := f.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}
		if err := ca.Send(data, cb.Addr()); err != nil {
			t.Fatal(err)
		}
	}

	recv := func() frame.Frame {
		data, _, err := ca.Recv(time.Second)
		if err != nil {
			t.Fatal(err)
		}

		var f frame.Frame
		if err := f.UnmarshalBinary(data); err != nil {
			t.Fatal(err)
		}
		return f
	}

	// Handshake with an initial sequence number of 100.
	send(frame.New(frame.FlagSyn, 100, 0, nil))

	synAck := recv()
	if !synAck.Flags.Has(frame.FlagSyn) || !synAck.Flags.Has(frame.FlagAck) || synAck.Ack != 101 {
		t.Fatalf("unexpected handshake answer: %v", synAck)
	}
	send(frame.New(frame.FlagAck, 101, synAck.Seq+1, nil))

	if err := <-acceptChan; err != nil {
		t.Fatal(err)
	}

	recvChan := make(chan []byte, 2)
	recvErrChan := make(chan error, 2)
	go func() {
		for i := 0; i < 2; i++ {
			payload, err := responder.Recv(300 * time.Millisecond)
			recvChan <- payload
			recvErrChan <- err
		}
	}()

	// The same DATA frame twice.
	data := frame.New(frame.FlagData, 101, synAck.Seq+1, []byte("once"))
	send(data)

	ack1 := recv()
	if !ack1.Flags.Has(frame.FlagAck) || ack1.Ack != 102 {
		t.Fatalf("unexpected first ACK: %v", ack1)
	}

	send(data)

	ack2 := recv()
	if !ack2.Flags.Has(frame.FlagAck) || ack2.Ack != 102 {
		t.Fatalf("unexpected second ACK: %v", ack2)
	}

	// Exactly one delivery; the second Recv runs into its timeout.
	if payload, err := <-recvChan, <-recvErrChan; err != nil {
		t.Fatal(err)
	} else if string(payload) != "once" {
		t.Fatalf("expected %q, got %q", "once", payload)
	}

	if _, err := <-recvChan, <-recvErrChan; err != carrier.ErrTimeout {
		t.Fatalf("duplicate was delivered; expected timeout, got %v", err)
	}
}

func TestSendDataExhaustedRetries(t *testing.T) {
	ca, cb := carrier.NewMemoryPair()

	la := &lossyCarrier{Carrier: ca, random: rand.New(rand.NewSource(1))}

	config := Config{
		Timeout:    20 * time.Millisecond,
		MaxRetries: 5,
	}

	a, _ := connectedPair(t, la, cb, cb.Addr(), config)

	// Every frame after the handshake disappears.
	la.blackhole = true

	start := time.Now()
	err := a.SendData([]byte("into the void"))
	elapsed := time.Since(start)

	if err != ErrUnreliable {
		t.Fatalf("expected ErrUnreliable, got %v", err)
	}

	expected := time.Duration(config.MaxRetries) * config.Timeout
	if elapsed < expected || elapsed > expected+500*time.Millisecond {
		t.Fatalf("expected roughly %v of retries, took %v", expected, elapsed)
	}

	if stats := a.Stats(); stats.Retransmissions != uint64(config.MaxRetries-1) {
		t.Fatalf("expected %d retransmissions, got %d",
			config.MaxRetries-1, stats.Retransmissions)
	}
}

func TestCloseFinExchange(t *testing.T) {
	ca, cb := carrier.NewMemoryPair()
	a, b := connectedPair(t, ca, cb, cb.Addr(), testConfig())

	recvErr := make(chan error)
	go func() {
		_, err := b.Recv(time.Second)
		recvErr <- err
	}()

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	if err := <-recvErr; err != ErrClosed {
		t.Fatalf("expected ErrClosed on the peer, got %v", err)
	}

	if a.State() != Closed || b.State() != Closed {
		t.Fatalf("close left states %v and %v", a.State(), b.State())
	}
}

func TestCancel(t *testing.T) {
	ca, cb := carrier.NewMemoryPair()

	la := &lossyCarrier{Carrier: ca, random: rand.New(rand.NewSource(2))}

	config := Config{
		Timeout:    50 * time.Millisecond,
		MaxRetries: 1000,
	}

	a, _ := connectedPair(t, la, cb, cb.Addr(), config)
	la.blackhole = true

	go func() {
		time.Sleep(120 * time.Millisecond)
		a.Cancel()
	}()

	if err := a.SendData([]byte("never")); err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

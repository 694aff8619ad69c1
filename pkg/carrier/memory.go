// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package carrier

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// MemAddr is the address of one end of a MemoryCarrier pair.
type MemAddr string

// Network returns "mem" for a MemAddr.
func (a MemAddr) Network() string { return "mem" }

func (a MemAddr) String() string { return string(a) }

// MemoryCarrier is an in-process Carrier. NewMemoryPair wires two of
// them together, frames sent on one end surface on the other. It backs
// tests and loopback sessions without touching the network.
type MemoryCarrier struct {
	addr MemAddr
	peer *MemoryCarrier

	incoming chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

var memPairCounter struct {
	sync.Mutex
	n int
}

// NewMemoryPair creates two connected MemoryCarriers.
func NewMemoryPair() (a, b *MemoryCarrier) {
	memPairCounter.Lock()
	memPairCounter.n++
	pair := memPairCounter.n
	memPairCounter.Unlock()

	a = &MemoryCarrier{
		addr:     MemAddr(fmt.Sprintf("mem-%d-a", pair)),
		incoming: make(chan []byte, 1024),
		closed:   make(chan struct{}),
	}
	b = &MemoryCarrier{
		addr:     MemAddr(fmt.Sprintf("mem-%d-b", pair)),
		incoming: make(chan []byte, 1024),
		closed:   make(chan struct{}),
	}

	a.peer, b.peer = b, a
	return
}

// Addr returns this end's MemAddr, to be passed as the peer of the
// other end's Send calls.
func (c *MemoryCarrier) Addr() MemAddr {
	return c.addr
}

// Send hands one frame to the connected peer. The peer argument is
// ignored; a MemoryCarrier has exactly one peer.
func (c *MemoryCarrier) Send(data []byte, _ net.Addr) error {
	select {
	case <-c.closed:
		return ErrClosed
	case <-c.peer.closed:
		return ErrUnavailable
	default:
	}

	frame := make([]byte, len(data))
	copy(frame, data)

	select {
	case c.peer.incoming <- frame:
		return nil
	default:
		// Full queue behaves like a lossy wire.
		return nil
	}
}

// Recv blocks until the peer sent a frame or the timeout expired.
func (c *MemoryCarrier) Recv(timeout time.Duration) (data []byte, peer net.Addr, err error) {
	select {
	case data = <-c.incoming:
		peer = c.peer.addr
	case <-time.After(timeout):
		err = ErrTimeout
	case <-c.closed:
		err = ErrClosed
	}
	return
}

// Close this end. The peer's Send calls start failing with
// ErrUnavailable.
func (c *MemoryCarrier) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *MemoryCarrier) String() string {
	return fmt.Sprintf("mem://%s", c.addr)
}

// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package carrier

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

// bufferLen bounds a single received datagram.
const bufferLen = 4096

// UDPCarrier is the direct substrate: one UDP socket, one datagram per
// frame. The peer is the datagram's source respectively destination
// address.
type UDPCarrier struct {
	conn *net.UDPConn
}

// ListenUDP creates a UDPCarrier bound to the given local address,
// e.g., ":5000" for a server.
func ListenUDP(address string) (c *UDPCarrier, err error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return
	}

	c = &UDPCarrier{conn: conn}

	log.WithField("carrier", c).Debug("UDPCarrier bound")
	return
}

// DialUDP creates a UDPCarrier with an ephemeral local port, to be used
// by a client. The remote address is resolved once and returned for
// subsequent Send calls.
func DialUDP(address string) (c *UDPCarrier, peer net.Addr, err error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return
	}

	c = &UDPCarrier{conn: conn}
	peer = udpAddr

	log.WithFields(log.Fields{
		"carrier": c,
		"peer":    peer,
	}).Debug("UDPCarrier dialed")
	return
}

// Send transmits one frame as a single datagram to peer.
func (c *UDPCarrier) Send(data []byte, peer net.Addr) error {
	udpAddr, ok := peer.(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("udp carrier: peer %v is no UDP address", peer)
	}

	if _, err := c.conn.WriteToUDP(data, udpAddr); err != nil {
		if netErr, isNetErr := err.(net.Error); isNetErr && netErr.Timeout() {
			return ErrUnavailable
		}
		return err
	}

	return nil
}

// Recv blocks for one datagram, bounded by timeout.
func (c *UDPCarrier) Recv(timeout time.Duration) (data []byte, peer net.Addr, err error) {
	if err = c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return
	}

	var buf [bufferLen]byte
	n, udpAddr, readErr := c.conn.ReadFromUDP(buf[:])
	if readErr != nil {
		if netErr, isNetErr := readErr.(net.Error); isNetErr && netErr.Timeout() {
			err = ErrTimeout
		} else {
			err = ErrClosed
		}
		return
	}

	data = make([]byte, n)
	copy(data, buf[:n])
	peer = udpAddr

	return
}

// Close the underlying socket.
func (c *UDPCarrier) Close() error {
	return c.conn.Close()
}

func (c *UDPCarrier) String() string {
	return fmt.Sprintf("udp://%v", c.conn.LocalAddr())
}

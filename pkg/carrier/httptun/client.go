// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package httptun

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/veilnet/veil-go/pkg/carrier"
	"github.com/veilnet/veil-go/pkg/frame"
)

// Client is the tunnel's client-side Carrier. Frames are uploaded
// through POST requests against the server's "/data" route; a
// background poller drains the server's queue through "/poll" whenever
// no send is pending.
type Client struct {
	config    Config
	serverUrl string
	clientId  string

	httpClient *http.Client
	incoming   chan []byte

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewClient creates a Client for the server's base URL, e.g.,
// "https://example.org:5443", identified by clientId. The insecure flag
// disables TLS certificate verification, as self-signed certificates
// are common for this kind of tunnel.
func NewClient(serverUrl, clientId string, config Config, insecure bool) *Client {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	c := &Client{
		config:    config,
		serverUrl: serverUrl,
		clientId:  clientId,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   5 * time.Second,
		},
		incoming: make(chan []byte, 64),
		stopSyn:  make(chan struct{}),
		stopAck:  make(chan struct{}),
	}

	go c.poller()

	return c
}

// poller drains the server's queue on the configured interval.
func (c *Client) poller() {
	var ticker = time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSyn:
			close(c.stopAck)
			return

		case <-ticker.C:
			if err := c.request(PollPath, nil); err != nil {
				log.WithFields(log.Fields{
					"client": c.clientId,
					"error":  err,
				}).Debug("HTTP tunnel poll errored")
			}
		}
	}
}

// request performs one POST round trip and enqueues a non-empty
// response body as an inbound frame.
func (c *Client) request(path string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, c.serverUrl+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set(ClientIdHeader, c.clientId)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return carrier.ErrUnavailable
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:

	case http.StatusServiceUnavailable:
		return carrier.ErrUnavailable

	default:
		return fmt.Errorf("httptun: server answered status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, frame.HeaderLen+frame.MaxPayloadLen))
	if err != nil {
		return err
	}

	if len(data) > 0 {
		select {
		case c.incoming <- data:
		default:
			log.WithField("client", c.clientId).Warn("HTTP tunnel receive queue is full, dropping frame")
		}
	}

	return nil
}

// Send uploads one frame. The peer argument is ignored; a Client talks
// to exactly one server.
func (c *Client) Send(data []byte, _ net.Addr) error {
	select {
	case <-c.stopSyn:
		return carrier.ErrClosed
	default:
	}

	return c.request(DataPath, data)
}

// Recv blocks until the poller or a Send round trip yielded a frame, or
// the timeout expired.
func (c *Client) Recv(timeout time.Duration) (data []byte, peer net.Addr, err error) {
	select {
	case data = <-c.incoming:
		peer = Addr(c.serverUrl)
	case <-time.After(timeout):
		err = carrier.ErrTimeout
	case <-c.stopSyn:
		err = carrier.ErrClosed
	}
	return
}

// Close stops the poller.
func (c *Client) Close() error {
	close(c.stopSyn)
	<-c.stopAck

	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) String() string {
	return fmt.Sprintf("httptun-client(%s)", c.serverUrl)
}

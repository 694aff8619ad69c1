// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package httptun

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/veilnet/veil-go/pkg/carrier"
)

func startTestServer(t *testing.T, config Config) (*Server, *httptest.Server) {
	router := mux.NewRouter()
	server := NewServer(router, config)
	httpServer := httptest.NewServer(router)

	t.Cleanup(func() {
		_ = server.Close()
		httpServer.Close()
	})

	return server, httpServer
}

func TestHttpTunnelRoundTrip(t *testing.T) {
	server, httpServer := startTestServer(t, DefaultConfig())

	config := DefaultConfig()
	config.PollInterval = 10 * time.Millisecond

	client := NewClient(httpServer.URL, "client-23", config, false)
	defer func() { _ = client.Close() }()

	// Client upload surfaces on the server side.
	if err := client.Send([]byte("uplink"), nil); err != nil {
		t.Fatal(err)
	}

	data, peer, err := server.Recv(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("uplink")) {
		t.Fatalf("expected uplink frame, got %x", data)
	}
	if peer != Addr("client-23") {
		t.Fatalf("expected client address, got %v", peer)
	}

	// Server answer is drained by the client's poller.
	if err := server.Send([]byte("downlink"), peer); err != nil {
		t.Fatal(err)
	}

	data, _, err = client.Recv(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("downlink")) {
		t.Fatalf("expected downlink frame, got %x", data)
	}
}

func TestHttpTunnelFifoOrder(t *testing.T) {
	server, httpServer := startTestServer(t, DefaultConfig())

	config := DefaultConfig()
	config.PollInterval = 5 * time.Millisecond

	client := NewClient(httpServer.URL, "client-42", config, false)
	defer func() { _ = client.Close() }()

	for i := 0; i < 5; i++ {
		if err := client.Send([]byte{byte(i)}, nil); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 5; i++ {
		data, _, err := server.Recv(time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) != 1 || data[0] != byte(i) {
			t.Fatalf("frame %d arrived out of order: %x", i, data)
		}
	}

	for i := 0; i < 5; i++ {
		if err := server.Send([]byte{byte(i)}, Addr("client-42")); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 5; i++ {
		data, _, err := client.Recv(time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) != 1 || data[0] != byte(i) {
			t.Fatalf("downlink frame %d arrived out of order: %x", i, data)
		}
	}
}

func TestHttpTunnelInboxFull(t *testing.T) {
	config := DefaultConfig()
	config.QueueLimit = 2

	_, httpServer := startTestServer(t, config)

	post := func(payload []byte) *http.Response {
		req, err := http.NewRequest(
			http.MethodPost, httpServer.URL+DataPath, bytes.NewReader(payload))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set(ClientIdHeader, "flooder")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()

		return resp
	}

	for i := 0; i < config.QueueLimit; i++ {
		if resp := post([]byte(fmt.Sprintf("frame-%d", i))); resp.StatusCode != http.StatusOK {
			t.Fatalf("upload %d was rejected with status %d", i, resp.StatusCode)
		}
	}

	if resp := post([]byte("overflow")); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on full inbox, got %d", resp.StatusCode)
	}
}

func TestHttpTunnelMissingClientId(t *testing.T) {
	_, httpServer := startTestServer(t, DefaultConfig())

	resp, err := http.Post(httpServer.URL+PollPath, "application/octet-stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without client id, got %d", resp.StatusCode)
	}
}

// The server carrier must satisfy the Carrier interface next to its
// HTTP handlers.
var _ carrier.Carrier = (*Server)(nil)
var _ carrier.Carrier = (*Client)(nil)

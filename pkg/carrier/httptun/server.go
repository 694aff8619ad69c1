// SPDX-FileCopyrightText: 2026 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package httptun

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"

	"github.com/veilnet/veil-go/pkg/carrier"
	"github.com/veilnet/veil-go/pkg/frame"
)

// clientBox holds one client's queues. Both are FIFO and bounded by the
// Config's QueueLimit.
type clientBox struct {
	mutex  sync.Mutex
	inbox  [][]byte
	outbox [][]byte
}

// Server is the tunnel's server-side Carrier. It registers the "/data"
// and "/poll" routes on a gorilla router; the surrounding program binds
// that router to its HTTP or HTTPS server.
type Server struct {
	config Config

	clientsMutex sync.Mutex
	clients      map[string]*clientBox

	// avail signals Recv that some client's inbox became non-empty.
	avail chan string

	closeOnce sync.Once
	closed    chan struct{}
}

// NewServer creates a Server and registers its routes on router.
func NewServer(router *mux.Router, config Config) (s *Server) {
	s = &Server{
		config:  config,
		clients: make(map[string]*clientBox),
		avail:   make(chan string, 1024),
		closed:  make(chan struct{}),
	}

	router.HandleFunc(DataPath, s.handleData).Methods(http.MethodPost)
	router.HandleFunc(PollPath, s.handlePoll).Methods(http.MethodPost)

	return
}

// box returns the clientBox for id, creating it on first contact.
func (s *Server) box(id string) *clientBox {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()

	b, ok := s.clients[id]
	if !ok {
		b = new(clientBox)
		s.clients[id] = b

		log.WithField("client", id).Info("HTTP tunnel got a new client")
	}
	return b
}

// handleData processes "/data": enqueue the request body into the
// client's inbox, answer with at most one outbox frame.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(ClientIdHeader)
	if id == "" {
		http.Error(w, "missing client id", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, frame.HeaderLen+frame.MaxPayloadLen))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	b := s.box(id)

	b.mutex.Lock()
	if len(b.inbox) >= s.config.QueueLimit {
		b.mutex.Unlock()

		log.WithField("client", id).Warn("HTTP tunnel inbox is full, rejecting frame")
		http.Error(w, "inbox full", http.StatusServiceUnavailable)
		return
	}
	b.inbox = append(b.inbox, data)
	b.mutex.Unlock()

	select {
	case s.avail <- id:
	default:
	}

	s.answerOutbox(w, id, b)
}

// handlePoll processes "/poll": like "/data" without an upload.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(ClientIdHeader)
	if id == "" {
		http.Error(w, "missing client id", http.StatusBadRequest)
		return
	}

	s.answerOutbox(w, id, s.box(id))
}

// answerOutbox writes the oldest queued outbox frame into the response
// body, or an empty body if the outbox is drained.
func (s *Server) answerOutbox(w http.ResponseWriter, id string, b *clientBox) {
	b.mutex.Lock()
	var data []byte
	if len(b.outbox) > 0 {
		data = b.outbox[0]
		b.outbox = b.outbox[1:]
	}
	b.mutex.Unlock()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)

	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			log.WithFields(log.Fields{
				"client": id,
				"error":  err,
			}).Warn("HTTP tunnel failed to write response frame")
		}
	}
}

// Send enqueues one frame into the outbox of the client addressed by
// peer. A full outbox drops its oldest frame.
func (s *Server) Send(data []byte, peer net.Addr) error {
	select {
	case <-s.closed:
		return carrier.ErrClosed
	default:
	}

	addr, ok := peer.(Addr)
	if !ok {
		return fmt.Errorf("httptun: peer %v is no tunnel address", peer)
	}

	frameCopy := make([]byte, len(data))
	copy(frameCopy, data)

	b := s.box(string(addr))

	b.mutex.Lock()
	if len(b.outbox) >= s.config.QueueLimit {
		b.outbox = b.outbox[1:]

		log.WithField("client", addr).Debug("HTTP tunnel outbox is full, dropping oldest frame")
	}
	b.outbox = append(b.outbox, frameCopy)
	b.mutex.Unlock()

	return nil
}

// Recv blocks until some client uploaded a frame or the timeout
// expired.
func (s *Server) Recv(timeout time.Duration) (data []byte, peer net.Addr, err error) {
	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			err = carrier.ErrTimeout
			return
		}

		select {
		case id := <-s.avail:
			b := s.box(id)

			b.mutex.Lock()
			if len(b.inbox) == 0 {
				b.mutex.Unlock()
				continue
			}
			data = b.inbox[0]
			b.inbox = b.inbox[1:]
			if len(b.inbox) > 0 {
				// Keep the signal alive for the remaining frames.
				select {
				case s.avail <- id:
				default:
				}
			}
			b.mutex.Unlock()

			peer = Addr(id)
			return

		case <-time.After(remaining):
			err = carrier.ErrTimeout
			return

		case <-s.closed:
			err = carrier.ErrClosed
			return
		}
	}
}

// Close marks this Server as closed. The HTTP server owning the router
// is closed by its owner.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *Server) String() string {
	return fmt.Sprintf("httptun-server(%s, %s)", DataPath, PollPath)
}

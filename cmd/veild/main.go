package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/gorilla/mux"

	"github.com/veilnet/veil-go/pkg/carrier"
	"github.com/veilnet/veil-go/pkg/carrier/httptun"
	"github.com/veilnet/veil-go/pkg/session"
	"github.com/veilnet/veil-go/pkg/transport"
)

// sharedCarrier keeps a daemon-owned Carrier open across sequential
// sessions; the per-session transport endpoint must not close it.
type sharedCarrier struct {
	carrier.Carrier
}

func (s sharedCarrier) Close() error { return nil }

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

// serveSession accepts one transport connection on cr and runs a full
// session on it: handshake, chat phase, teardown.
func serveSession(cr carrier.Carrier, config serverConfig) {
	endpoint := transport.NewEndpoint(sharedCarrier{cr}, nil, config.transport)

	if err := endpoint.Accept(time.Hour); err != nil {
		if err != carrier.ErrTimeout {
			log.WithError(err).Warn("Accepting a connection errored")
		}
		return
	}

	sess := session.NewServer(endpoint, session.Config{
		LocalId: config.id,
		Mode:    config.mode,
	})
	defer func() {
		stats := endpoint.Stats()

		if err := sess.Close(); err != nil {
			log.WithError(err).Warn("Closing the session errored")
		}

		log.WithFields(log.Fields{
			"frames-sent":     stats.FramesSent,
			"frames-received": stats.FramesReceived,
			"retransmissions": stats.Retransmissions,
			"delivered":       stats.Delivered,
		}).Info("Session finished")
	}()

	if err := sess.Handshake(); err != nil {
		log.WithError(err).Warn("Session handshake failed")
		return
	}

	for {
		text, err := sess.Next(time.Hour)
		if err == session.ErrClosed {
			return
		} else if err != nil {
			log.WithError(err).Warn("Session errored")
			return
		}

		fmt.Printf("%s> %s\n", text.Sender, text.Text)
	}
}

// serveUdp runs sequential sessions over the direct carrier.
func serveUdp(config serverConfig, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		cr, err := carrier.ListenUDP(config.endpoint)
		if err != nil {
			log.WithError(err).Fatal("Binding the UDP carrier errored")
		}

		serveSession(cr, config)

		if err := cr.Close(); err != nil {
			log.WithError(err).Warn("Closing the UDP carrier errored")
		}
	}
}

// serveHttp runs sequential sessions over the HTTP(S) tunnel.
func serveHttp(config serverConfig, stop <-chan struct{}) {
	router := mux.NewRouter()
	tunnel := httptun.NewServer(router, config.tunnel)
	defer func() { _ = tunnel.Close() }()

	httpServer := &http.Server{
		Addr:    config.endpoint,
		Handler: router,
	}

	go func() {
		var err error
		if config.certFile != "" && config.keyFile != "" {
			err = httpServer.ListenAndServeTLS(config.certFile, config.keyFile)
		} else {
			log.Warn("No certificate configured, tunnel falls back to plain HTTP")
			err = httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server errored")
		}
	}()
	defer func() { _ = httpServer.Close() }()

	for {
		select {
		case <-stop:
			return
		default:
		}

		serveSession(tunnel, config)
	}
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	config, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse config")
	}

	log.WithFields(log.Fields{
		"endpoint": config.endpoint,
		"mode":     config.mode,
	}).Info("Starting veild")

	stop := make(chan struct{})
	if config.mode.Obfuscated() {
		go serveHttp(config, stop)
	} else {
		go serveUdp(config, stop)
	}

	waitSigint()
	log.Info("Shutting down..")

	close(stop)
}

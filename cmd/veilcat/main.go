package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/veilnet/veil-go/pkg/carrier"
	"github.com/veilnet/veil-go/pkg/carrier/httptun"
	"github.com/veilnet/veil-go/pkg/session"
	"github.com/veilnet/veil-go/pkg/transport"
)

var (
	modeFlag     = flag.String("mode", "default", "session mode: default, secure, obfs, secure_obfs")
	idFlag       = flag.String("id", "", "client identifier, random if empty")
	insecureFlag = flag.Bool("insecure", false, "skip TLS certificate verification (obfs modes)")
	timeoutFlag  = flag.Duration("timeout", 2*time.Second, "retransmission timeout")
	retriesFlag  = flag.Int("retries", 5, "transmission attempts per frame")
	verboseFlag  = flag.Bool("verbose", false, "debug logging")
)

func printUsage() {
	fmt.Printf("Usage: %s [flags] address\n\n", os.Args[0])
	fmt.Printf("  address is host:port for the default and secure modes\n")
	fmt.Printf("  and the server's base URL, e.g. https://host:5443, for\n")
	fmt.Printf("  the obfs modes.\n\n")
	flag.PrintDefaults()

	os.Exit(1)
}

// dial creates the carrier matching the mode and connects the
// transport endpoint.
func dial(address, clientId string, mode session.Mode, config transport.Config) (*transport.Endpoint, error) {
	var (
		cr   carrier.Carrier
		peer net.Addr
		err  error
	)

	if mode.Obfuscated() {
		tunnelConfig := httptun.DefaultConfig()
		if tunnelConfig.PollInterval > config.Timeout/4 {
			tunnelConfig.PollInterval = config.Timeout / 4
		}

		cr = httptun.NewClient(address, clientId, tunnelConfig, *insecureFlag)
		peer = httptun.Addr(address)
	} else {
		if cr, peer, err = carrier.DialUDP(address); err != nil {
			return nil, err
		}
	}

	endpoint := transport.NewEndpoint(cr, peer, config)
	if err := endpoint.Connect(); err != nil {
		_ = cr.Close()
		return nil, err
	}

	return endpoint, nil
}

// chat bridges stdin lines into the session and prints inbound
// messages, until EOF, "/quit" or the peer's goodbye.
func chat(sess *session.ClientSession) {
	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				if err := sess.Bye("user quit"); err != nil {
					log.WithError(err).Warn("Goodbye errored")
				}
				return
			}

			if line == "" {
				continue
			}

			if err := sess.SendText(line); err != nil {
				log.WithError(err).Error("Sending errored")
				_ = sess.Close()
				return
			}

		default:
			text, err := sess.Next(250 * time.Millisecond)
			if err == carrier.ErrTimeout {
				continue
			} else if err == session.ErrClosed {
				fmt.Println("Peer closed the session")
				_ = sess.Close()
				return
			} else if err != nil {
				log.WithError(err).Error("Session errored")
				_ = sess.Close()
				return
			}

			fmt.Printf("%s> %s\n", text.Sender, text.Text)
		}
	}
}

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		printUsage()
	}

	if *verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	mode, err := session.ParseMode(*modeFlag)
	if err != nil {
		log.WithError(err).Fatal("Unknown mode")
	}

	clientId := *idFlag
	if clientId == "" {
		clientId = session.RandomClientId()
	}

	transportConfig := transport.DefaultConfig()
	transportConfig.Timeout = *timeoutFlag
	transportConfig.MaxRetries = *retriesFlag

	endpoint, err := dial(flag.Arg(0), clientId, mode, transportConfig)
	if err != nil {
		log.WithError(err).Fatal("Connecting errored")
	}

	sess := session.NewClient(endpoint, session.Config{
		LocalId: clientId,
		Mode:    mode,
	})

	if err := sess.Handshake(); err != nil {
		log.WithError(err).Error("Handshake failed")
		_ = sess.Close()
		os.Exit(1)
	}

	fmt.Printf("Connected to %s in mode %s. /quit to leave.\n", sess.PeerId(), mode)

	chat(sess)
}

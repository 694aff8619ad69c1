package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"

	"github.com/veilnet/veil-go/pkg/carrier/httptun"
	"github.com/veilnet/veil-go/pkg/session"
	"github.com/veilnet/veil-go/pkg/transport"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core      coreConf
	Logging   logConf
	Transport transportConf
	Listen    listenConf
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	Id   string
	Mode string
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level  string
	Format string
}

// transportConf describes the Transport-configuration block.
type transportConf struct {
	Timeout    string
	MaxRetries int    `toml:"max-retries"`
	InitialSeq string `toml:"initial-seq"`
}

// listenConf describes the Listen-configuration block. The HTTPS
// fields only apply to the obfuscated modes.
type listenConf struct {
	Endpoint     string
	CertFile     string `toml:"cert-file"`
	KeyFile      string `toml:"key-file"`
	PollInterval string `toml:"poll-interval"`
	QueueLimit   int    `toml:"queue-limit"`
}

// serverConfig is the parsed configuration handed to the daemon.
type serverConfig struct {
	id   string
	mode session.Mode

	endpoint string
	certFile string
	keyFile  string

	transport transport.Config
	tunnel    httptun.Config
}

// parseLogging configures logrus from the Logging block.
func parseLogging(conf logConf) error {
	if conf.Level != "" {
		level, err := log.ParseLevel(conf.Level)
		if err != nil {
			return err
		}
		log.SetLevel(level)
	}

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown logging.format %q", conf.Format)
	}

	return nil
}

// parseTransport builds a transport.Config from the Transport block.
func parseTransport(conf transportConf) (c transport.Config, err error) {
	c = transport.DefaultConfig()

	if conf.Timeout != "" {
		if c.Timeout, err = time.ParseDuration(conf.Timeout); err != nil {
			return
		}
	}
	if conf.MaxRetries > 0 {
		c.MaxRetries = conf.MaxRetries
	}

	switch conf.InitialSeq {
	case "", "zero":
	case "random":
		c.RandomISN = true
	default:
		err = fmt.Errorf("unknown transport.initial-seq %q", conf.InitialSeq)
	}

	return
}

// parseConfig reads the daemon's configuration from filename.
func parseConfig(filename string) (c serverConfig, err error) {
	var conf tomlConfig
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	if err = parseLogging(conf.Logging); err != nil {
		return
	}

	if c.mode, err = session.ParseMode(conf.Core.Mode); err != nil {
		return
	}
	c.id = conf.Core.Id

	if conf.Listen.Endpoint == "" {
		err = fmt.Errorf("listen.endpoint is empty")
		return
	}
	c.endpoint = conf.Listen.Endpoint
	c.certFile = conf.Listen.CertFile
	c.keyFile = conf.Listen.KeyFile

	if c.transport, err = parseTransport(conf.Transport); err != nil {
		return
	}

	c.tunnel = httptun.DefaultConfig()
	if conf.Listen.PollInterval != "" {
		if c.tunnel.PollInterval, err = time.ParseDuration(conf.Listen.PollInterval); err != nil {
			return
		}
	}
	if conf.Listen.QueueLimit > 0 {
		c.tunnel.QueueLimit = conf.Listen.QueueLimit
	}

	// The client's polling must outpace the retransmission timeout.
	if c.mode.Obfuscated() && c.tunnel.PollInterval > c.transport.Timeout/4 {
		err = fmt.Errorf("listen.poll-interval %v exceeds a quarter of transport.timeout %v",
			c.tunnel.PollInterval, c.transport.Timeout)
		return
	}

	return
}

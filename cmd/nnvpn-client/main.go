// Command nnvpn-client is the dialer side of the tunnel: it connects once
// and forwards until a fault occurs, then exits for an external mechanism
// to restart it.
package main

import (
	"flag"
	"fmt"
	"os"

	"nnvpn/internal/logging"
	"nnvpn/internal/tun"
	"nnvpn/pkg/forwarder"
	"nnvpn/pkg/tlsconn"
)

func main() {
	var (
		configPath string
		debug      int
		help       bool
	)
	flag.StringVar(&configPath, "f", "./nnvpn.yaml", "configuration file path")
	flag.IntVar(&debug, "d", 1, "debug verbosity: 0=error-only 1=standard 2=verbose")
	flag.BoolVar(&help, "h", false, "print usage and exit")
	flag.Parse()

	if help {
		fmt.Fprintln(os.Stderr, "usage: nnvpn-client [-f config] [-d 0|1|2]")
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config: %v\n", err)
		os.Exit(1)
	}

	level := cfg.LogLevel
	switch debug {
	case 0:
		level = "error"
	case 2:
		level = "debug"
	}
	log, err := logging.New(level, cfg.LogJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config: %v\n", err)
		os.Exit(1)
	}

	tunDevice, err := tun.Open(cfg.Device, cfg.TunAddress, cfg.TunNetmask)
	if err != nil {
		log.Error("tun open failed", "tag", "Tun", "err", err)
		os.Exit(3)
	}
	defer tunDevice.Close()
	log.Info("tun device bound", "tag", "Tun", "name", tunDevice.EffectiveName())

	session, err := tlsconn.Dial(cfg.Address, cfg.Port, cfg.Cert, cfg.Key)
	if err != nil {
		log.Error("dial failed", "tag", "TLS", "err", err)
		os.Exit(3)
	}
	log.Info("session established", "tag", "TLS")

	fwd := forwarder.New(cfg.PSize)
	fwd.SetLogger(log)
	err = fwd.Run(tunDevice, session)
	log.Error("session aborted", "tag", "Forwarder", "err", err)

	if shutdownErr := session.Shutdown(); shutdownErr != nil {
		log.Warn("shutdown failed", "tag", "TLS", "err", shutdownErr)
	}
	os.Exit(3)
}

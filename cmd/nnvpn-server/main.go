// Command nnvpn-server is the listener side of the tunnel: it binds once,
// then accepts, forwards, and recycles one client session at a time.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

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
		fmt.Fprintln(os.Stderr, "usage: nnvpn-server [-f config] [-d 0|1|2]")
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

	if err := ensureCredentials(&cfg); err != nil {
		log.Error("credential provisioning failed", "tag", "TLS", "err", err)
		os.Exit(1)
	}

	tunDevice, err := tun.Open(cfg.Device, cfg.TunAddress, cfg.TunNetmask)
	if err != nil {
		log.Error("tun open failed", "tag", "Tun", "err", err)
		os.Exit(3)
	}
	defer tunDevice.Close()
	log.Info("tun device bound", "tag", "Tun", "name", tunDevice.EffectiveName())

	listener, err := tlsconn.Listen(cfg.Address, cfg.Port, cfg.Cert, cfg.Key, cfg.AcceptTimeout, cfg.Backlog)
	if err != nil {
		log.Error("listen failed", "tag", "TLS", "err", err)
		os.Exit(1)
	}
	defer listener.Close()
	log.Info("listening", "tag", "TLS", "addr", listener.Addr())

	metrics := NewMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Warn("metrics server stopped", "tag", "Forwarder", "err", err)
		}
	}()

	fwd := forwarder.New(cfg.PSize)
	fwd.SetLogger(log)
	fwd.OnTunToTLS = metrics.onTunToTLS
	fwd.OnTLSToTun = metrics.onTLSToTun

	sup := NewSupervisor(log, listener, tunDevice, fwd)
	sup.OnSessionStart = func() { metrics.sessions.Set(1) }
	sup.OnSessionEnd = func() { metrics.sessions.Set(0) }
	sup.OnHandshake = metrics.onHandshake
	sup.OnDrop = metrics.onDrop
	sup.Run()
}

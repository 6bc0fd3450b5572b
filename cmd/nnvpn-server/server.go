package main

import (
	"log/slog"

	"nnvpn/internal/tun"
	"nnvpn/pkg/forwarder"
	"nnvpn/pkg/tlsconn"
)

// Supervisor implements SessionSupervisor: bind/listen once, then loop
// accept/serve/recycle. Any ForwardFault or accept-time handshake failure
// is logged and swallowed; only listener-setup failures (already handled
// by the caller before Run is invoked) propagate.
type Supervisor struct {
	log       *slog.Logger
	listener  *tlsconn.Listener
	tunDevice *tun.Device
	forwarder *forwarder.Forwarder

	// OnSessionStart and OnSessionEnd, when non-nil, bracket one accepted
	// session (wired to the sessions-active gauge in main.go).
	OnSessionStart func()
	OnSessionEnd   func()

	// OnHandshake, when non-nil, is called with "success" or "failure"
	// after every Accept attempt (wired to the handshakes-total counter).
	OnHandshake func(result string)

	// OnDrop, when non-nil, is called once with the fault kind that ended a
	// session (wired to the drops-total counter).
	OnDrop func(reason string)
}

func NewSupervisor(log *slog.Logger, listener *tlsconn.Listener, tunDevice *tun.Device, fwd *forwarder.Forwarder) *Supervisor {
	return &Supervisor{log: log, listener: listener, tunDevice: tunDevice, forwarder: fwd}
}

// Run accepts and forwards sessions forever, mirroring spec.md §4.4's
// loop/try/catch/finally shape.
func (s *Supervisor) Run() {
	for {
		session, err := s.listener.Accept()
		if err != nil {
			s.log.Warn("session aborted", "tag", "TLS", "err", err)
			if s.OnHandshake != nil {
				s.OnHandshake("failure")
			}
			continue
		}
		if s.OnHandshake != nil {
			s.OnHandshake("success")
		}

		s.log.Info("session established", "tag", "TLS")
		if s.OnSessionStart != nil {
			s.OnSessionStart()
		}

		err = s.forwarder.Run(s.tunDevice, session)
		s.log.Warn("session aborted", "tag", "Forwarder", "err", err)
		if s.OnDrop != nil {
			reason := "unknown"
			if fe, ok := err.(*forwarder.ForwardError); ok {
				reason = fe.Kind.String()
			}
			s.OnDrop(reason)
		}

		if shutdownErr := session.Shutdown(); shutdownErr != nil {
			s.log.Warn("shutdown failed", "tag", "TLS", "err", shutdownErr)
		}
		if s.OnSessionEnd != nil {
			s.OnSessionEnd()
		}
	}
}

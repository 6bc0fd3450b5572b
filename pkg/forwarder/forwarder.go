//go:build linux

// Package forwarder implements Forwarder: a single-threaded,
// select(2)-driven loop that shuttles bytes between a TUN device and a
// TLS session, one direction fully flushed before the readiness wait is
// re-armed.
package forwarder

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// Kind identifies which step of the forward loop produced a ForwardError.
type Kind int

const (
	KindSelect Kind = iota
	KindTLSFd
	KindTunClosed
	KindTunRead
	KindTunWrite
	KindTLSRead
	KindTLSWrite
)

func (k Kind) String() string {
	switch k {
	case KindSelect:
		return "select"
	case KindTLSFd:
		return "tls_fd"
	case KindTunClosed:
		return "tun_closed"
	case KindTunRead:
		return "tun_read"
	case KindTunWrite:
		return "tun_write"
	case KindTLSRead:
		return "tls_read"
	case KindTLSWrite:
		return "tls_write"
	default:
		return "unknown"
	}
}

// ForwardError reports the fatal fault that ended one forwarding session.
// Run always returns a non-nil *ForwardError (never a bare error or nil on
// a session that stopped), so SessionSupervisor can always log it and move
// on.
type ForwardError struct {
	Kind Kind
	Err  error
}

func (e *ForwardError) Error() string { return fmt.Sprintf("forward: %s: %v", e.Kind, e.Err) }
func (e *ForwardError) Unwrap() error { return e.Err }

// TunSide is the subset of TunDevice the forwarder needs.
type TunSide interface {
	Fd() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// TLSSide is the subset of TlsEndpoint the forwarder needs. Read and Write
// return (n, retry, err): err is always fatal, retry means "call again
// without treating this as progress or failure."
type TLSSide interface {
	Fd() (int, error)
	Read(p []byte) (int, bool, error)
	Write(p []byte) (int, bool, error)
}

// Forwarder owns the ForwardingBuffer shared by both directions of one
// session. One Forwarder is reused across sessions by SessionSupervisor.
type Forwarder struct {
	buf []byte
	log *slog.Logger

	// OnTunToTLS and OnTLSToTun, when non-nil, are invoked with the byte
	// count forwarded in that direction after each full flush. Used to
	// drive packet/byte counters without coupling this package to any
	// particular metrics library.
	OnTunToTLS func(n int)
	OnTLSToTun func(n int)
}

// SetLogger attaches a logger for verbose per-packet tracing. Without one,
// Run stays silent; trace lines are emitted at slog.LevelDebug so they are
// gated by the caller's configured verbosity.
func (f *Forwarder) SetLogger(log *slog.Logger) { f.log = log }

// New allocates a Forwarder whose buffer holds bufSize bytes, matching the
// payload size (psize) the TUN device and TLS session were configured
// with.
func New(bufSize int) *Forwarder {
	return &Forwarder{buf: make([]byte, bufSize)}
}

// Run blocks forwarding packets between tun and tls until one side faults,
// returning the fault that ended it. It never returns nil.
func (f *Forwarder) Run(tun TunSide, tls TLSSide) error {
	tunFd := tun.Fd()
	for {
		tlsFd, err := tls.Fd()
		if err != nil {
			return &ForwardError{Kind: KindTLSFd, Err: err}
		}

		var rset unix.FdSet
		fdZero(&rset)
		fdSet(&rset, tunFd)
		fdSet(&rset, tlsFd)
		nfds := tunFd
		if tlsFd > nfds {
			nfds = tlsFd
		}

		// Any select(2) failure, including EINTR, is fatal: spec.md §4.3
		// step 2 draws no exception for it, and
		// original_source/src/inetTunTap.cpp treats select() == -1
		// uniformly as a fatal condition.
		if _, err := unix.Select(nfds+1, &rset, nil, nil, nil); err != nil {
			return &ForwardError{Kind: KindSelect, Err: err}
		}

		if fdIsSet(&rset, tunFd) {
			n, err := tun.Read(f.buf)
			if err != nil {
				return &ForwardError{Kind: KindTunRead, Err: err}
			}
			if n == 0 {
				return &ForwardError{Kind: KindTunClosed, Err: fmt.Errorf("tun device closed")}
			}
			if f.log != nil {
				f.log.Debug("tun read", "tag", "Forwarder", "bytes", n)
			}
			if err := f.flushToTLS(tls, f.buf[:n]); err != nil {
				return err
			}
			if f.OnTunToTLS != nil {
				f.OnTunToTLS(n)
			}
		}

		if fdIsSet(&rset, tlsFd) {
			n, retry, err := tls.Read(f.buf)
			if err != nil {
				return &ForwardError{Kind: KindTLSRead, Err: err}
			}
			if retry {
				continue
			}
			if n > 0 {
				if f.log != nil {
					f.log.Debug("tls read", "tag", "Forwarder", "bytes", n)
				}
				if err := f.flushToTun(tun, f.buf[:n]); err != nil {
					return err
				}
				if f.OnTLSToTun != nil {
					f.OnTLSToTun(n)
				}
			}
		}
	}
}

// flushToTLS fully writes p to tls, retrying on non-fatal codes without
// advancing the write offset.
func (f *Forwarder) flushToTLS(tls TLSSide, p []byte) error {
	w := 0
	for w < len(p) {
		n, retry, err := tls.Write(p[w:])
		if err != nil {
			return &ForwardError{Kind: KindTLSWrite, Err: err}
		}
		if retry {
			continue
		}
		w += n
	}
	return nil
}

// flushToTun fully writes p to tun, retrying on EINTR/EAGAIN without
// advancing the write offset.
func (f *Forwarder) flushToTun(tun TunSide, p []byte) error {
	w := 0
	for w < len(p) {
		n, err := tun.Write(p[w:])
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return &ForwardError{Kind: KindTunWrite, Err: err}
		}
		w += n
	}
	return nil
}

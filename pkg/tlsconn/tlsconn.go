// Package tlsconn implements TlsEndpoint: dialing or listening for a single
// mutually-authenticated TLS session, and byte-oriented reads/writes over
// it with the non-fatal/fatal classification the forwarder's partial I/O
// loops rely on.
package tlsconn

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Kind identifies which TlsEndpoint operation produced an error.
type Kind int

const (
	KindConnect Kind = iota
	KindListen
	KindAccept
	KindHandshake
	KindBadCredentials
	KindPeerClosed
	KindRead
	KindWrite
	KindShutdown
	KindNoFd
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindListen:
		return "listen"
	case KindAccept:
		return "accept"
	case KindHandshake:
		return "handshake"
	case KindBadCredentials:
		return "bad_credentials"
	case KindPeerClosed:
		return "peer_closed"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindShutdown:
		return "shutdown"
	case KindNoFd:
		return "no_fd"
	default:
		return "unknown"
	}
}

// Error wraps a failure at a particular TlsEndpoint operation.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("tls: %s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// DefaultAcceptTimeout bounds how long a server's accept+handshake may take
// before it is aborted, mirroring SO_RCVTIMEO/SO_SNDTIMEO applied to the
// accepted socket in the original implementation. The deadline is cleared
// once the handshake completes; forwarding itself is not time-bounded.
const DefaultAcceptTimeout = 3 * time.Second

// Endpoint is an established, mutually-authenticated TLS session: either
// the client side of a Dial or one session accepted by a Listener.
type Endpoint struct {
	raw  net.Conn
	conn *tls.Conn
}

func loadCredentials(certPath, keyPath string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, &Error{Kind: KindBadCredentials, Err: err}
	}
	return cert, nil
}

// Dial connects to host:port and performs a TLS client handshake,
// presenting the certificate at certPath/keyPath. The spec's config has no
// separate CA key, so the server's certificate is not chain-verified
// (neither does the original InetClientSSL, which loads only its own
// cert/key and never calls SSL_CTX_set_verify).
func Dial(host string, port int, certPath, keyPath string) (*Endpoint, error) {
	cert, err := loadCredentials(certPath, keyPath)
	if err != nil {
		return nil, err
	}

	raw, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, &Error{Kind: KindConnect, Err: err}
	}

	cfg := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
	}
	conn := tls.Client(raw, cfg)
	if err := conn.Handshake(); err != nil {
		raw.Close()
		return nil, &Error{Kind: KindHandshake, Err: err}
	}
	return &Endpoint{raw: raw, conn: conn}, nil
}

// Listener binds a TCP socket and accepts TLS sessions one at a time,
// presenting the certificate at certPath/keyPath and requiring the peer to
// present one of its own.
type Listener struct {
	ln            net.Listener
	cert          tls.Certificate
	acceptTimeout time.Duration
}

// Listen binds bindHost:port with the requested listen backlog. acceptTimeout
// of zero selects DefaultAcceptTimeout; a negative value disables the
// timeout entirely. backlog of zero or less selects a backlog of 1.
func Listen(bindHost string, port int, certPath, keyPath string, acceptTimeout time.Duration, backlog int) (*Listener, error) {
	cert, err := loadCredentials(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	ln, err := listenTCP(bindHost, port, backlog)
	if err != nil {
		return nil, &Error{Kind: KindListen, Err: err}
	}
	if acceptTimeout == 0 {
		acceptTimeout = DefaultAcceptTimeout
	}
	return &Listener{ln: ln, cert: cert, acceptTimeout: acceptTimeout}, nil
}

// listenTCP performs the resolve/socket/SO_REUSEADDR/bind/listen sequence
// directly over golang.org/x/sys/unix so the requested backlog reaches the
// listen(2) call, matching original_source/src/inetserver.cpp's
// InetServer::init/InetServer::listen. net.Listen has no way to pass a
// custom backlog: the stdlib always listens with a size derived from
// /proc/sys/net/core/somaxconn.
func listenTCP(bindHost string, port, backlog int) (net.Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(bindHost, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", bindHost, err)
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa4 := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa6.Addr[:], addr.IP.To16())
		sa = sa6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind: %w", err)
	}
	if backlog <= 0 {
		backlog = 1
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen: %w", err)
	}

	f := os.NewFile(uintptr(fd), "nnvpn-listener")
	ln, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("file listener: %w", err)
	}
	return ln, nil
}

// Addr returns the bound listener address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close tears down the listening socket. It does not affect any session
// already accepted.
func (l *Listener) Close() error { return l.ln.Close() }

// Accept blocks for the next client, applying the accept timeout to the
// raw socket for the handshake's duration, then performs the TLS server
// handshake requiring the peer to present a certificate.
func (l *Listener) Accept() (*Endpoint, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, &Error{Kind: KindAccept, Err: err}
	}
	if l.acceptTimeout > 0 {
		raw.SetDeadline(time.Now().Add(l.acceptTimeout))
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{l.cert},
		ClientAuth:   tls.RequireAnyClientCert,
	}
	conn := tls.Server(raw, cfg)
	if err := conn.Handshake(); err != nil {
		raw.Close()
		if errors.Is(err, io.EOF) {
			return nil, &Error{Kind: KindPeerClosed, Err: err}
		}
		return nil, &Error{Kind: KindHandshake, Err: err}
	}
	raw.SetDeadline(time.Time{})

	return &Endpoint{raw: raw, conn: conn}, nil
}

// Write writes p to the session. The returned retry flag is always false
// for this backend: crypto/tls.Conn performs blocking I/O and has no
// WANT_WRITE/WANT_ASYNC_JOB analogue, so every Write either completes or
// fails fatally. The flag exists so the forwarder's partial-write loop is
// written the same way regardless of what TLS backend is behind it.
func (e *Endpoint) Write(p []byte) (int, bool, error) {
	n, err := e.conn.Write(p)
	if err == nil || n > 0 {
		return n, false, nil
	}
	return 0, false, &Error{Kind: KindWrite, Err: err}
}

// Read reads into p. See Write for why retry is always false here.
func (e *Endpoint) Read(p []byte) (int, bool, error) {
	n, err := e.conn.Read(p)
	if err == nil || n > 0 {
		return n, false, nil
	}
	return 0, false, &Error{Kind: KindRead, Err: err}
}

// Fd returns the raw file descriptor backing the session, for use in the
// forwarder's select(2) readiness set.
func (e *Endpoint) Fd() (int, error) {
	sc, ok := e.raw.(syscall.Conn)
	if !ok {
		return -1, &Error{Kind: KindNoFd, Err: fmt.Errorf("connection exposes no raw descriptor")}
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, &Error{Kind: KindNoFd, Err: err}
	}
	var fd int
	ctrlErr := rc.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return -1, &Error{Kind: KindNoFd, Err: ctrlErr}
	}
	return fd, nil
}

// Shutdown sends a close_notify and closes the underlying socket. It is
// safe to call on a nil Endpoint (mirroring a session that never completed
// its handshake).
func (e *Endpoint) Shutdown() error {
	if e == nil || e.conn == nil {
		return nil
	}
	if err := e.conn.Close(); err != nil {
		return &Error{Kind: KindShutdown, Err: err}
	}
	return nil
}

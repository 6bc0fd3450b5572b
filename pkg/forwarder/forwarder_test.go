//go:build linux

package forwarder

import (
	"bytes"
	"io"
	"testing"

	"golang.org/x/sys/unix"
)

// fakeTun backs TunSide with one half of a connected socket pair, so a
// real kernel fd exists for unix.Select to watch.
type fakeTun struct {
	fd int
}

func (f *fakeTun) Fd() int                      { return f.fd }
func (f *fakeTun) Read(p []byte) (int, error)   { return unix.Read(f.fd, p) }
func (f *fakeTun) Write(p []byte) (int, error)  { return unix.Write(f.fd, p) }

// fakeTLS backs TLSSide the same way, with knobs to force a retry on the
// next Read and to cap how many bytes a single Write call consumes, so
// the forwarder's partial-write and retry-without-progress loops are
// exercised deterministically.
type fakeTLS struct {
	fd        int
	retryRead bool
	maxChunk  int
}

func (f *fakeTLS) Fd() (int, error) { return f.fd, nil }

func (f *fakeTLS) Read(p []byte) (int, bool, error) {
	if f.retryRead {
		f.retryRead = false
		return 0, true, nil
	}
	n, err := unix.Read(f.fd, p)
	if err != nil {
		return 0, false, err
	}
	if n == 0 {
		// A raw socket read of 0 means the peer closed; net.Conn (and so
		// the real TLSSide backend) would surface this as io.EOF instead
		// of a bare zero, so this fake does the same translation.
		return 0, false, io.EOF
	}
	return n, false, nil
}

func (f *fakeTLS) Write(p []byte) (int, bool, error) {
	limit := len(p)
	if f.maxChunk > 0 && f.maxChunk < limit {
		limit = f.maxChunk
	}
	n, err := unix.Write(f.fd, p[:limit])
	if err != nil {
		return 0, false, err
	}
	return n, false, nil
}

func mustSocketpair(t *testing.T) (local, remote int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func readFull(t *testing.T, fd int, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	got := 0
	for got < n {
		r, err := unix.Read(fd, buf[got:])
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if r == 0 {
			t.Fatalf("unexpected EOF after %d/%d bytes", got, n)
		}
		got += r
	}
	return buf
}

func TestRunForwardsTunToTLS(t *testing.T) {
	tunLocal, tunRemote := mustSocketpair(t)
	tlsLocal, tlsRemote := mustSocketpair(t)

	tun := &fakeTun{fd: tunLocal}
	tls := &fakeTLS{fd: tlsLocal}
	f := New(1500)

	done := make(chan error, 1)
	go func() { done <- f.Run(tun, tls) }()

	payload := bytes.Repeat([]byte("A"), 900)
	if _, err := unix.Write(tunRemote, payload); err != nil {
		t.Fatalf("write tun remote: %v", err)
	}

	got := readFull(t, tlsRemote, len(payload))
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}

	unix.Close(tunRemote)
	err := <-done
	fe, ok := err.(*ForwardError)
	if !ok {
		t.Fatalf("expected *ForwardError, got %T: %v", err, err)
	}
	if fe.Kind != KindTunClosed {
		t.Fatalf("expected KindTunClosed, got %v", fe.Kind)
	}
}

func TestRunForwardsTLSToTun(t *testing.T) {
	tunLocal, tunRemote := mustSocketpair(t)
	tlsLocal, tlsRemote := mustSocketpair(t)

	tun := &fakeTun{fd: tunLocal}
	tls := &fakeTLS{fd: tlsLocal}
	f := New(1500)

	done := make(chan error, 1)
	go func() { done <- f.Run(tun, tls) }()

	payload := bytes.Repeat([]byte("B"), 1200)
	if _, err := unix.Write(tlsRemote, payload); err != nil {
		t.Fatalf("write tls remote: %v", err)
	}

	got := readFull(t, tunRemote, len(payload))
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}

	unix.Close(tlsRemote)
	err := <-done
	fe, ok := err.(*ForwardError)
	if !ok {
		t.Fatalf("expected *ForwardError, got %T: %v", err, err)
	}
	if fe.Kind != KindTLSRead {
		t.Fatalf("expected KindTLSRead on peer close, got %v", fe.Kind)
	}
}

func TestPartialWriteIsFullyFlushed(t *testing.T) {
	tunLocal, tunRemote := mustSocketpair(t)
	tlsLocal, tlsRemote := mustSocketpair(t)

	tun := &fakeTun{fd: tunLocal}
	tls := &fakeTLS{fd: tlsLocal, maxChunk: 64}
	f := New(1500)

	done := make(chan error, 1)
	go func() { done <- f.Run(tun, tls) }()

	payload := bytes.Repeat([]byte("C"), 500)
	if _, err := unix.Write(tunRemote, payload); err != nil {
		t.Fatalf("write tun remote: %v", err)
	}

	got := readFull(t, tlsRemote, len(payload))
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch despite chunked writes")
	}

	unix.Close(tunRemote)
	<-done
}

func TestRetryReadDoesNotTouchTun(t *testing.T) {
	tunLocal, tunRemote := mustSocketpair(t)
	tlsLocal, tlsRemote := mustSocketpair(t)

	tun := &fakeTun{fd: tunLocal}
	tls := &fakeTLS{fd: tlsLocal, retryRead: true}
	f := New(1500)

	done := make(chan error, 1)
	go func() { done <- f.Run(tun, tls) }()

	payload := []byte("still here")
	if _, err := unix.Write(tlsRemote, payload); err != nil {
		t.Fatalf("write tls remote: %v", err)
	}

	// The forced retry must not consume the pending bytes: they should
	// still arrive at the tun side once the retry flag is spent.
	got := readFull(t, tunRemote, len(payload))
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch after retry: %q", got)
	}

	unix.Close(tlsRemote)
	<-done
}

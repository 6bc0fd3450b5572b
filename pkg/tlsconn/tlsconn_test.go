package tlsconn

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func writeSelfSigned(t *testing.T, dir, prefix string) (certPath, keyPath string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: prefix},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	certPath = filepath.Join(dir, prefix+"-cert.pem")
	keyPath = filepath.Join(dir, prefix+"-key.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certPath, keyPath
}

func TestDialAcceptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	serverCert, serverKey := writeSelfSigned(t, dir, "server")
	clientCert, clientKey := writeSelfSigned(t, dir, "client")

	ln, err := Listen("127.0.0.1", 0, serverCert, serverKey, -1, 1)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi: %v", err)
	}

	type acceptResult struct {
		ep  *Endpoint
		err error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		ep, err := ln.Accept()
		accepted <- acceptResult{ep, err}
	}()

	client, err := Dial("127.0.0.1", port, clientCert, clientKey)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Shutdown()

	res := <-accepted
	if res.err != nil {
		t.Fatalf("accept: %v", res.err)
	}
	server := res.ep
	defer server.Shutdown()

	payload := []byte("hello tunnel")
	n, retry, err := client.Write(payload)
	if err != nil || retry {
		t.Fatalf("client write: n=%d retry=%v err=%v", n, retry, err)
	}
	if n != len(payload) {
		t.Fatalf("short write: %d", n)
	}

	buf := make([]byte, len(payload))
	got := 0
	for got < len(buf) {
		n, retry, err := server.Read(buf[got:])
		if err != nil {
			t.Fatalf("server read: %v", err)
		}
		if retry {
			continue
		}
		got += n
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("payload mismatch: got %q", buf)
	}
}

func TestListenBadCredentials(t *testing.T) {
	if _, err := Listen("127.0.0.1", 0, "/nonexistent/cert.pem", "/nonexistent/key.pem", -1, 1); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}

func TestFdReturnsNonNegativeDescriptor(t *testing.T) {
	dir := t.TempDir()
	serverCert, serverKey := writeSelfSigned(t, dir, "server2")
	clientCert, clientKey := writeSelfSigned(t, dir, "client2")

	ln, err := Listen("127.0.0.1", 0, serverCert, serverKey, -1, 1)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	accepted := make(chan *Endpoint, 1)
	go func() {
		ep, err := ln.Accept()
		if err != nil {
			t.Errorf("accept: %v", err)
		}
		accepted <- ep
	}()

	client, err := Dial("127.0.0.1", port, clientCert, clientKey)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Shutdown()
	server := <-accepted
	defer server.Shutdown()

	fd, err := client.Fd()
	if err != nil {
		t.Fatalf("fd: %v", err)
	}
	if fd < 0 {
		t.Fatalf("expected non-negative fd, got %d", fd)
	}
}

//go:build linux

package tun

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const cloneDevicePath = "/dev/net/tun"

// TUN-specific IFF_* flags from linux/if_tun.h. x/sys/unix does not export
// IFF_VNET_HDR for all architectures, so these are defined locally.
const (
	iffTUN     = 0x0001
	iffNoPI    = 0x1000
	iffVnetHdr = 0x4000
)

// Device represents a bound TUN interface: an open file descriptor plus
// the kernel-confirmed interface name.
type Device struct {
	fd   int
	name string
}

// Open creates (or attaches to) a TUN interface named requestedName,
// assigns it address/netmask and brings it up, following the sequence
// open clone device -> TUNSETIFF -> SIOCSIFADDR -> SIOCGIFFLAGS ->
// SIOCSIFNETMASK -> SIOCSIFFLAGS(|UP|RUNNING).
//
// requestedName may be empty, letting the kernel pick a name (e.g. "tun0").
// address and netmask must be dotted-quad IPv4 literals.
func Open(requestedName, address, netmask string) (*Device, error) {
	ignoreSIGPIPE()

	addr, err := parseIPv4(address)
	if err != nil {
		return nil, &Error{Stage: StageOpen, Err: err}
	}
	mask, err := parseIPv4(netmask)
	if err != nil {
		return nil, &Error{Stage: StageOpen, Err: err}
	}

	fd, err := unix.Open(cloneDevicePath, unix.O_RDWR, 0)
	if err != nil {
		return nil, &Error{Stage: StageOpen, Err: fmt.Errorf("open %s: %w", cloneDevicePath, err)}
	}

	var ifr ifreq
	ifr.setName(truncateName(requestedName, unix.IFNAMSIZ))
	ifr.setUint16(uint16(iffTUN | iffNoPI | iffVnetHdr))
	if err := ioctl(fd, unix.TUNSETIFF, &ifr); err != nil {
		unix.Close(fd)
		return nil, &Error{Stage: StageOpen, Err: fmt.Errorf("TUNSETIFF: %w", err)}
	}

	name := ifr.getName()

	if err := configureAddress(name, addr, mask); err != nil {
		unix.Close(fd)
		return nil, &Error{Stage: StageConfigure, Err: err}
	}

	return &Device{fd: fd, name: name}, nil
}

// configureAddress runs the SIOCSIFADDR / SIOCGIFFLAGS / SIOCSIFNETMASK /
// SIOCSIFFLAGS(|UP|RUNNING) sequence over a throwaway AF_INET/SOCK_DGRAM
// socket, as the original inetTunTap.cpp does.
func configureAddress(name string, addr, mask []byte) error {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	defer unix.Close(sock)

	var ifr ifreq
	ifr.setName(name)
	ifr.setSockaddrIn(addr)
	if err := ioctl(sock, unix.SIOCSIFADDR, &ifr); err != nil {
		return fmt.Errorf("SIOCSIFADDR: %w", err)
	}

	ifr = ifreq{}
	ifr.setName(name)
	if err := ioctl(sock, unix.SIOCGIFFLAGS, &ifr); err != nil {
		return fmt.Errorf("SIOCGIFFLAGS: %w", err)
	}
	flags := ifr.getUint16()

	ifr = ifreq{}
	ifr.setName(name)
	ifr.setSockaddrIn(mask)
	if err := ioctl(sock, unix.SIOCSIFNETMASK, &ifr); err != nil {
		return fmt.Errorf("SIOCSIFNETMASK: %w", err)
	}

	ifr = ifreq{}
	ifr.setName(name)
	ifr.setUint16(flags | unix.IFF_UP | unix.IFF_RUNNING)
	if err := ioctl(sock, unix.SIOCSIFFLAGS, &ifr); err != nil {
		return fmt.Errorf("SIOCSIFFLAGS: %w", err)
	}

	return nil
}

// Fd returns the raw TUN file descriptor, used by the forwarder's
// select(2) readiness set.
func (d *Device) Fd() int { return d.fd }

// EffectiveName returns the kernel-confirmed interface name, which may
// differ from the requested name (e.g. a "%d" template was expanded).
func (d *Device) EffectiveName() string { return d.name }

func (d *Device) Read(buf []byte) (int, error) {
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		return 0, &Error{Stage: StageIO, Err: err}
	}
	return n, nil
}

func (d *Device) Write(buf []byte) (int, error) {
	n, err := unix.Write(d.fd, buf)
	if err != nil {
		return 0, &Error{Stage: StageIO, Err: err}
	}
	return n, nil
}

func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return &Error{Stage: StageTeardown, Err: err}
	}
	return nil
}

// ifreq mirrors struct ifreq from <net/if.h> on linux/amd64: a 16-byte
// name field followed by a union whose members (sockaddr, short flags)
// this code needs are read/written directly by offset.
type ifreq struct {
	raw [40]byte
}

func (r *ifreq) setName(name string) {
	copy(r.raw[:unix.IFNAMSIZ], name)
}

func (r *ifreq) getName() string {
	n := 0
	for n < unix.IFNAMSIZ && r.raw[n] != 0 {
		n++
	}
	return string(r.raw[:n])
}

func (r *ifreq) setUint16(v uint16) {
	*(*uint16)(unsafe.Pointer(&r.raw[unix.IFNAMSIZ])) = v
}

func (r *ifreq) getUint16() uint16 {
	return *(*uint16)(unsafe.Pointer(&r.raw[unix.IFNAMSIZ]))
}

// setSockaddrIn packs a struct sockaddr_in (AF_INET, port 0, the given
// IPv4 address) into the ifreq's union, as SIOCSIFADDR/SIOCSIFNETMASK
// expect.
func (r *ifreq) setSockaddrIn(ip []byte) {
	*(*uint16)(unsafe.Pointer(&r.raw[unix.IFNAMSIZ])) = unix.AF_INET
	copy(r.raw[unix.IFNAMSIZ+4:unix.IFNAMSIZ+8], ip)
}

func ioctl(fd int, req uintptr, ifr *ifreq) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(&ifr.raw[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

//go:build !linux

package tun

import "fmt"

var errUnsupported = fmt.Errorf("tun: unsupported platform")

// Device is a stand-in on platforms other than Linux. The open/configure
// sequence in tun_linux.go is Linux ioctl-specific; this module does not
// carry a per-platform equivalent.
type Device struct{}

func Open(requestedName, address, netmask string) (*Device, error) {
	return nil, &Error{Stage: StageOpen, Err: errUnsupported}
}

func (d *Device) Fd() int               { return -1 }
func (d *Device) EffectiveName() string { return "" }
func (d *Device) Read(buf []byte) (int, error)  { return 0, &Error{Stage: StageIO, Err: errUnsupported} }
func (d *Device) Write(buf []byte) (int, error) { return 0, &Error{Stage: StageIO, Err: errUnsupported} }
func (d *Device) Close() error                  { return nil }

//go:build linux

package forwarder

import "golang.org/x/sys/unix"

// unix.FdSet on linux is a fixed array of NFDBITS-wide (64-bit) words; the
// standard library does not expose FD_ZERO/FD_SET/FD_ISSET helpers, so
// they are reimplemented here by direct bit manipulation, as is common
// practice when driving unix.Select directly.
const fdSetWordBits = 64

func fdZero(set *unix.FdSet) {
	for i := range set.Bits {
		set.Bits[i] = 0
	}
}

func fdSet(set *unix.FdSet, fd int) {
	idx := fd / fdSetWordBits
	bit := uint(fd % fdSetWordBits)
	set.Bits[idx] |= 1 << bit
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	idx := fd / fdSetWordBits
	bit := uint(fd % fdSetWordBits)
	return set.Bits[idx]&(1<<bit) != 0
}

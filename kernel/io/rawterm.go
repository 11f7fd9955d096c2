package io

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// termiosGetAttr/termiosSetAttr are the ioctl request numbers for reading
// and writing termios state. Like the teacher's plib/linux.go, this targets
// Linux only and does not attempt portability to other kernels.
const (
	termiosGetAttr = unix.TCGETS
	termiosSetAttr = unix.TCSETS
)

// RawTTY backs a Terminal with an actual TTY device, put into raw mode so
// bytes reach Terminal's CRLF state machine unmolested by the kernel's own
// line discipline. This is the one piece of the I/O stack with no
// analog in the original target: on bare RISC-V the UART is already
// byte-at-a-time, but a demo running under a host OS needs to disable
// the host tty driver's own cooking to see the same thing.
type RawTTY struct {
	*Header
	f       *os.File
	fd      int
	saved   *unix.Termios
	restore bool
}

var rawTTYOps = &Ops{
	Close: rawTTYClose,
	Read:  rawTTYRead,
	Write: rawTTYWrite,
	Ctl:   rawTTYCtl,
}

// OpenRawTTY opens path (typically "/dev/tty") and switches it to raw mode:
// no echo, no canonical line buffering, no signal-generating control
// characters. Restoring the saved termios is the caller's responsibility,
// done automatically on Close.
func OpenRawTTY(path string) (*RawTTY, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("rawterm: opening %s: %w", path, err)
	}

	fd := int(f.Fd())
	saved, err := unix.IoctlGetTermios(fd, termiosGetAttr)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("rawterm: reading termios for %s: %w", path, err)
	}

	raw := *saved
	raw.Iflag &^= unix.IXON | unix.ICRNL | unix.BRKINT | unix.INPCK | unix.ISTRIP
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ICANON | unix.IEXTEN | unix.ISIG
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, termiosSetAttr, &raw); err != nil {
		f.Close()
		return nil, fmt.Errorf("rawterm: setting raw mode on %s: %w", path, err)
	}

	return &RawTTY{
		Header:  NewHeader(rawTTYOps),
		f:       f,
		fd:      fd,
		saved:   saved,
		restore: true,
	}, nil
}

func rawTTYClose(h Handle) error {
	t := h.(*RawTTY)
	if t.restore {
		unix.IoctlSetTermios(t.fd, termiosSetAttr, t.saved)
		t.restore = false
	}
	return t.f.Close()
}

func rawTTYRead(h Handle, buf []byte) (int, error) {
	t := h.(*RawTTY)
	n, err := t.f.Read(buf)
	if err != nil {
		return n, fmt.Errorf("rawterm: read: %w", err)
	}
	return n, nil
}

func rawTTYWrite(h Handle, buf []byte) (int, error) {
	t := h.(*RawTTY)
	n, err := t.f.Write(buf)
	if err != nil {
		return n, fmt.Errorf("rawterm: write: %w", err)
	}
	return n, nil
}

// rawTTYCtl only understands CtlGetRefCount (via Header) and reports
// everything else unsupported -- a real tty has no notion of length,
// position, or block size.
func rawTTYCtl(h Handle, cmd int, arg any) (int, error) {
	t := h.(*RawTTY)
	if cmd == CtlGetRefCount {
		return t.RefCount(), nil
	}
	return 0, ErrUnsupported
}

// Package io implements the polymorphic I/O abstraction: a virtual
// operation table with pluggable backends, accessed exclusively through
// the helpers in this file. Concrete backends (literal, terminal) embed
// *Header and are referenced through the Handle interface -- a tagged
// polymorphic dispatch, per the distilled spec's design note in §9,
// rather than the original's pointer-subtraction-from-interface-header
// trick.
package io

import (
	"errors"

	"github.com/arctir/kernelcore/kernel/format"
)

// Control commands recognized system-wide. Backends are free to accept
// further, opaque command codes (the distilled spec's §4.9); CtlGetRefCount
// is one such domain-specific extension, added in this expansion to make
// the ref-counted-descriptor-across-fork scenario (distilled spec §8,
// Scenario 6) mechanically checkable -- see SPEC_FULL.md §6.
const (
	CtlGetLen = iota
	CtlGetPos
	CtlSetPos
	CtlGetBlkSz
	CtlGetRefCount
)

// ErrUnsupported is returned when an operation is absent from a backend's
// vtable, or is rejected by policy (e.g. SETPOS on the terminal backend).
var ErrUnsupported = errors.New("io: operation unsupported")

// ErrInvalid is returned for argument or position errors, such as reading
// or writing at the end of a literal buffer.
var ErrInvalid = errors.New("io: invalid argument")

// Ops is the virtual operation table a backend supplies. Read and Write
// mirror the signatures of io.Reader/io.Writer but are intentionally not
// named that: several backends here (the literal backend, by design --
// see SPEC_FULL.md §11) return a byte count that does not obey the
// io.Reader/io.Writer contract, and giving the type a different name
// keeps that from being silently papered over by Go's structural typing.
type Ops struct {
	Close func(h Handle) error
	Read  func(h Handle, buf []byte) (int, error)
	Write func(h Handle, buf []byte) (int, error)
	Ctl   func(h Handle, cmd int, arg any) (int, error)
}

// Handle is the polymorphic reference every I/O helper operates on. A
// concrete backend (Literal, Terminal) satisfies it by embedding *Header
// and exposing it via Header().
type Handle interface {
	Header() *Header
}

// Header is the interface object every backend embeds: an operation table
// plus a reference count. Refcounts are incremented/decremented by the
// caller (typically the process layer when sharing a descriptor across
// fork, or duplicating an fd) -- the helpers in this file never touch it
// except to read it for CtlGetRefCount.
type Header struct {
	ops    *Ops
	refcnt int
}

// NewHeader returns a Header wired to ops with an initial refcount of 1.
func NewHeader(ops *Ops) *Header {
	return &Header{ops: ops, refcnt: 1}
}

// Header satisfies Handle trivially, so embedding *Header promotes a
// working Header() method to any backend that has nothing further to add.
func (h *Header) Header() *Header { return h }

// Ref increments the reference count and returns the new value.
func (h *Header) Ref() int {
	h.refcnt++
	return h.refcnt
}

// Unref decrements the reference count and returns the new value. It does
// not close the backend at zero; callers that want close-on-last-unref
// semantics do that explicitly, matching the original contract where
// close is a distinct, caller-invoked operation.
func (h *Header) Unref() int {
	h.refcnt--
	return h.refcnt
}

// RefCount returns the current reference count.
func (h *Header) RefCount() int { return h.refcnt }

// Close invokes the backend's close operation, if any.
func Close(h Handle) error {
	ops := h.Header().ops
	if ops.Close == nil {
		return nil
	}
	return ops.Close(h)
}

// Read invokes the backend's read operation directly, with no retry
// loop. Most callers that want "fill this buffer or tell me why not"
// should use ReadFull; Read is exposed because several backends
// (the literal backend, deliberately) have read semantics ReadFull cannot
// usefully compose with -- see SPEC_FULL.md §11.
func Read(h Handle, buf []byte) (int, error) {
	ops := h.Header().ops
	if ops.Read == nil {
		return 0, ErrUnsupported
	}
	return ops.Read(h, buf)
}

// Write is the single-call analog of Read.
func Write(h Handle, buf []byte) (int, error) {
	ops := h.Header().ops
	if ops.Write == nil {
		return 0, ErrUnsupported
	}
	return ops.Write(h, buf)
}

// Ctl issues a control command to the backend.
func Ctl(h Handle, cmd int, arg any) (int, error) {
	ops := h.Header().ops
	if ops.Ctl == nil {
		return 0, ErrUnsupported
	}
	return ops.Ctl(h, cmd, arg)
}

// ReadFull repeatedly invokes the backend's Read until len(buf) bytes have
// been delivered, a zero-length, error-free read signals EOF and returns
// the partial count, or an error propagates along with the count so far. It
// fails with ErrUnsupported if the backend has no Read operation.
func ReadFull(h Handle, buf []byte) (int, error) {
	ops := h.Header().ops
	if ops.Read == nil {
		return 0, ErrUnsupported
	}
	acc := 0
	for acc < len(buf) {
		n, err := ops.Read(h, buf[acc:])
		if err != nil {
			return acc, err
		}
		if n == 0 {
			return acc, nil
		}
		acc += n
	}
	return acc, nil
}

// WriteAll is the write-direction mirror of ReadFull.
func WriteAll(h Handle, buf []byte) (int, error) {
	ops := h.Header().ops
	if ops.Write == nil {
		return 0, ErrUnsupported
	}
	acc := 0
	for acc < len(buf) {
		n, err := ops.Write(h, buf[acc:])
		if err != nil {
			return acc, err
		}
		if n == 0 {
			return acc, nil
		}
		acc += n
	}
	return acc, nil
}

// Putc writes a single byte.
func Putc(h Handle, c byte) error {
	_, err := Write(h, []byte{c})
	return err
}

// Getc reads a single byte. It returns ErrInvalid if the backend reports
// end-of-stream (a zero-length, error-free read).
func Getc(h Handle) (byte, error) {
	var buf [1]byte
	n, err := Read(h, buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrInvalid
	}
	return buf[0], nil
}

// Printf formats args per fmtStr and writes the result through Putc,
// latching the first negative/error Putc result and returning it in
// preference to the character count -- the distilled spec's §7
// propagation policy for the formatter.
func Printf(h Handle, fmtStr string, args ...any) (int, error) {
	return format.Vprintf(func(c byte) error {
		return Putc(h, c)
	}, fmtStr, args...)
}

// VPrintf is Printf with its arguments already collected into a slice,
// the vprintf analog.
func VPrintf(h Handle, fmtStr string, args []any) (int, error) {
	return Printf(h, fmtStr, args...)
}

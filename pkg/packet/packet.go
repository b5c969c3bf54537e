// Package packet implements the Packet buffer and the bounded,
// dual-admission Queue that sits between the daemon's ISO-TP engine and
// its application-facing recv/send surface (spec.md §4.1).
//
// Ground: the teacher models owned, mutex-guarded resources handed off by
// value rather than by pointer throughout pkg/lss (WaitForResponse) and
// pkg/node/controller.go; Packet follows the same "uniquely owned value,
// moved not shared" discipline spec.md §9 calls for explicitly.
package packet

import (
	"fmt"

	cantp "github.com/samsamfire/cantp"
)

// Packet is a uniquely-owned, fixed-capacity byte buffer. The zero value
// is not usable; construct with Alloc. A Packet should be moved (passed
// by value or handed off and not reused by the sender) rather than
// shared — there is no internal locking.
type Packet struct {
	buf  []byte
	size int
}

// Alloc allocates a Packet with the given capacity and size 0.
func Alloc(capacity int) (Packet, error) {
	if capacity <= 0 {
		return Packet{}, fmt.Errorf("packet: %w: non-positive capacity %d", cantp.ErrInvalidSize, capacity)
	}
	return Packet{buf: make([]byte, capacity)}, nil
}

// Append copies b onto the tail iff size+len(b) <= capacity. On failure
// the packet is left unmodified and false is returned (spec.md §8
// "append bound" invariant).
func (p *Packet) Append(b []byte) bool {
	if p.size+len(b) > cap(p.buf) {
		return false
	}
	n := copy(p.buf[p.size:p.size+len(b)], b)
	p.size += n
	return true
}

// Data returns the populated prefix of the packet's buffer. The returned
// slice aliases the packet's storage and must not be retained past the
// packet's lifetime.
func (p *Packet) Data() []byte { return p.buf[:p.size] }

// Size returns the number of populated bytes.
func (p *Packet) Size() int { return p.size }

// Capacity returns the packet's fixed allocation size.
func (p *Packet) Capacity() int { return cap(p.buf) }

// Free releases the packet's buffer. Safe to call on a zero-valued or
// already-freed Packet.
func (p *Packet) Free() {
	p.buf = nil
	p.size = 0
}

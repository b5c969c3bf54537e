// Package canid encodes and decodes the 29-bit extended arbitration IDs
// used on the wire by this transport (spec.md §3):
//
//	bits 28..21 (8) random seed   — filled fresh per frame, ignored on RX
//	bits 20..19 (2) reserved      — zero
//	bits 18..16 (3) msg type      — MsgISOTP / MsgAddressRequest / MsgAddressResponse
//	bits 15..8  (8) src address
//	bits 7..0   (8) dst address
package canid

import (
	"golang.org/x/sys/unix"
)

// MsgType identifies the payload carried by a frame's arbitration ID.
type MsgType uint8

const (
	MsgISOTP            MsgType = 0
	MsgAddressRequest   MsgType = 5
	MsgAddressResponse  MsgType = 6
)

const (
	// Master is the reserved node address of the address-assignment authority.
	Master uint8 = 0x00
	// Broadcast is the reserved node address meaning "every node".
	Broadcast uint8 = 0xFF
	// NodeMin and NodeMax bound valid, assigned node addresses.
	NodeMin uint8 = 0x01
	NodeMax uint8 = 0xFE
)

const (
	msgTypeShift = 16
	msgTypeMask  = 0x7
	srcShift     = 8
	srcMask      = 0xFF
	dstMask      = 0xFF
	seedShift    = 21
	seedMask     = 0xFF

	// EFFMask masks off everything but the 29 meaningful bits, mirroring
	// the teacher's CAN_EFF_FLAG/CAN_SFF_MASK-style bit constants
	// (bus.go, pkg/can/socketcanv2) built on golang.org/x/sys/unix.
	EFFMask = unix.CAN_EFF_MASK

	// IdentMask covers every arbitration-ID bit except the random seed,
	// for use with BusManager.Subscribe when matching on (msg_type, src,
	// dst) while ignoring the per-frame seed in bits 28..21.
	IdentMask = uint32(1)<<seedShift - 1
)

// Make builds the 29-bit arbitration ID for (msgType, src, dst). The random
// seed bits are left at zero; callers that need fresh randomness per frame
// (every outbound frame, per spec.md §3) OR it in separately via WithSeed.
func Make(msgType MsgType, src, dst uint8) uint32 {
	return (uint32(msgType)&msgTypeMask)<<msgTypeShift | uint32(src)<<srcShift | uint32(dst)
}

// WithSeed ORs a fresh 8-bit random value into the reserved upper bits of
// an arbitration ID built by Make. The seed is ignored on receive.
func WithSeed(id uint32, seed uint8) uint32 {
	return id | uint32(seed)<<seedShift
}

// Parse decodes an arbitration ID's (msgType, src, dst) triple. The random
// seed and reserved bits are discarded, which is what makes Make/Parse a
// round trip regardless of the seed (spec.md §8 testable property).
func Parse(id uint32) (msgType MsgType, src, dst uint8) {
	id &= EFFMask
	msgType = MsgType((id >> msgTypeShift) & msgTypeMask)
	src = uint8((id >> srcShift) & srcMask)
	dst = uint8(id & dstMask)
	return
}

// IsValidNode reports whether addr is an assignable node address, i.e.
// neither Master nor Broadcast and within [NodeMin, NodeMax].
func IsValidNode(addr uint8) bool {
	return addr >= NodeMin && addr <= NodeMax
}

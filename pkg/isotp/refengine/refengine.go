// Package refengine is a minimal in-process ISO-TP (ISO 15765-2) engine:
// single-frame and multi-frame (first/consecutive) segmentation without
// flow-control pacing. It exists so pkg/daemon has something other than
// hardware to drive in tests (spec.md §1 treats a real ISO-TP stack as an
// external collaborator); it is not a general-purpose ISO-TP library.
//
// Ground: framing constants follow ISO 15765-2 as implied by the
// original's ISOTP_BUFSIZE / isotp_send / isotp_receive status enums
// (h42_isotp.c, h42_can_daemon.c); the Poll/HandleFrame/Send shape
// mirrors pkg/node/controller.go's background()/main() split.
package refengine

import (
	"sync"

	"github.com/samsamfire/cantp/pkg/isotp"
)

const (
	pciSingleFrame      = 0x0
	pciFirstFrame       = 0x1
	pciConsecutiveFrame = 0x2
	pciFlowControl      = 0x3

	maxSingleFramePayload = 7
	firstFrameDataLen     = 6
	consecutiveDataLen    = 7
)

// Engine is a minimal reference implementation of isotp.Engine.
type Engine struct {
	sender isotp.FrameSender
	mu     sync.Mutex

	arbID uint32

	sendBuf    []byte
	sendOffset int
	sendSeq    uint8
	status     isotp.SendStatus

	recvBuf      []byte
	recvExpected int
	recvComplete []byte
}

var _ isotp.Engine = (*Engine)(nil)

// New returns a reference engine transmitting through sender under the
// given initial arbitration ID.
func New(sender isotp.FrameSender, arbID uint32) *Engine {
	return &Engine{sender: sender, arbID: arbID}
}

func (e *Engine) SetArbitrationID(id uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.arbID = id
}

func (e *Engine) SendStatus() isotp.SendStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Send starts transmitting payload. Payloads of up to 7 bytes complete
// synchronously as a single frame (spec.md §8 scenario 7); longer
// payloads are segmented across subsequent Poll calls.
func (e *Engine) Send(payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == isotp.SendInProgress {
		return isotp.ErrSendRejected
	}

	if len(payload) <= maxSingleFramePayload {
		frame := make([]byte, 1+len(payload))
		frame[0] = byte(pciSingleFrame<<4) | byte(len(payload))
		copy(frame[1:], payload)
		if err := e.sender.SendFrame(e.arbID, frame); err != nil {
			e.status = isotp.SendError
			return err
		}
		e.status = isotp.SendIdle
		return nil
	}

	ff := make([]byte, 8)
	ff[0] = byte(pciFirstFrame<<4) | byte((len(payload)>>8)&0xF)
	ff[1] = byte(len(payload) & 0xFF)
	n := copy(ff[2:8], payload)
	if err := e.sender.SendFrame(e.arbID, ff); err != nil {
		e.status = isotp.SendError
		return err
	}
	e.sendBuf = payload
	e.sendOffset = n
	e.sendSeq = 1
	e.status = isotp.SendInProgress
	return nil
}

// Poll emits the next consecutive frame of an in-progress send, if any.
func (e *Engine) Poll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != isotp.SendInProgress {
		return
	}

	remaining := e.sendBuf[e.sendOffset:]
	n := consecutiveDataLen
	if n > len(remaining) {
		n = len(remaining)
	}
	cf := make([]byte, 1+n)
	cf[0] = byte(pciConsecutiveFrame<<4) | (e.sendSeq & 0xF)
	copy(cf[1:], remaining[:n])

	if err := e.sender.SendFrame(e.arbID, cf); err != nil {
		e.status = isotp.SendError
		e.sendBuf = nil
		return
	}

	e.sendOffset += n
	e.sendSeq++
	if e.sendOffset >= len(e.sendBuf) {
		e.status = isotp.SendIdle
		e.sendBuf = nil
	}
}

// HandleFrame decodes one received ISO-TP frame.
func (e *Engine) HandleFrame(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(data) == 0 {
		return
	}
	switch data[0] >> 4 {
	case pciSingleFrame:
		length := int(data[0] & 0xF)
		if length > len(data)-1 {
			return
		}
		e.recvComplete = append([]byte(nil), data[1:1+length]...)
	case pciFirstFrame:
		if len(data) < 2 {
			return
		}
		length := (int(data[0]&0xF) << 8) | int(data[1])
		e.recvExpected = length
		e.recvBuf = make([]byte, 0, length)
		e.recvBuf = append(e.recvBuf, data[2:min(len(data), 2+firstFrameDataLen)]...)
	case pciConsecutiveFrame:
		if e.recvBuf == nil {
			return
		}
		e.recvBuf = append(e.recvBuf, data[1:]...)
		if len(e.recvBuf) >= e.recvExpected {
			e.recvComplete = e.recvBuf[:e.recvExpected]
			e.recvBuf = nil
			e.recvExpected = 0
		}
	case pciFlowControl:
		// This reference engine sends without pacing, so flow-control
		// frames from a peer are accepted but not acted on.
	default:
		// Unknown PCI nibble: not a frame this engine understands, drop it.
	}
}

// Receive returns and clears a completed inbound message, if any.
func (e *Engine) Receive() ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.recvComplete == nil {
		return nil, false
	}
	out := e.recvComplete
	e.recvComplete = nil
	return out, true
}

// Reset abandons any in-flight send or receive.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendBuf = nil
	e.sendOffset = 0
	e.status = isotp.SendIdle
	e.recvBuf = nil
	e.recvExpected = 0
	e.recvComplete = nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

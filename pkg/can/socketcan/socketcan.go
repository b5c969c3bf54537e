// Package socketcan talks directly to a SocketCAN raw socket through
// golang.org/x/sys/unix, bypassing brutella/can. Useful on constrained
// gateway boards where pulling in brutella/can's netlink machinery isn't
// wanted. Ground: teacher's pkg/can/socketcanv2/socketcanv2.go.
package socketcan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"unsafe"

	cantp "github.com/samsamfire/cantp"
	"github.com/samsamfire/cantp/pkg/can"
	"golang.org/x/sys/unix"
)

const SocketCANFrameSize = 16

// CAN_EFF_FLAG marks a raw SocketCAN frame's arbitration ID as 29-bit
// extended; this transport only ever emits extended IDs (spec.md §3).
const canEFFFlag = 0x80000000

func init() {
	can.RegisterInterface("socketcan", NewBus)
}

type canFrame struct {
	id   uint32
	dlc  uint8
	pad  uint8
	res0 uint8
	res1 uint8
	data [8]uint8
}

type Bus struct {
	f          *os.File
	fd         int
	rxCallback cantp.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// NewBus opens a raw SocketCAN socket on channel (e.g. "can0"). The
// interface is expected to already be up.
func NewBus(channel string) (cantp.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan: failed to create CAN socket: %w", err)
	}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &DefaultTimeVal); err != nil {
		return nil, fmt.Errorf("socketcan: failed to set read timeout: %w", err)
	}
	addr := &unix.SockaddrCAN{Ifindex: iface.Index}
	if err := unix.Bind(fd, addr); err != nil {
		return nil, err
	}
	return &Bus{fd: fd, logger: slog.Default().With("service", "[SOCKETCAN]", "channel", channel)}, nil
}

// Connect implementation of cantp.Bus.
func (b *Bus) Connect(...any) error {
	var ctx context.Context
	ctx, b.cancel = context.WithCancel(context.Background())
	b.f = os.NewFile(uintptr(b.fd), fmt.Sprintf("fd %d", b.fd))
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processIncoming(ctx)
	}()
	return nil
}

// Disconnect implementation of cantp.Bus.
func (b *Bus) Disconnect() error {
	if b.cancel == nil {
		return nil
	}
	b.cancel()
	b.wg.Wait()
	return b.f.Close()
}

// Send implementation of cantp.Bus.
func (b *Bus) Send(frame cantp.Frame) error {
	id := frame.ID
	if frame.Ext {
		id |= canEFFFlag
	}
	raw := &canFrame{id: id, dlc: frame.DLC, data: frame.Data}
	rawBytes := (*(*[SocketCANFrameSize]byte)(unsafe.Pointer(raw)))[:]
	n, err := b.f.Write(rawBytes)
	if n != SocketCANFrameSize || err != nil {
		return fmt.Errorf("socketcan: short write (%d/%d): %w", n, SocketCANFrameSize, err)
	}
	return nil
}

// processIncoming runs in its own goroutine until ctx is cancelled.
func (b *Bus) processIncoming(ctx context.Context) {
	rxBytes := make([]byte, SocketCANFrameSize)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("exiting CAN bus reception, closed")
			return
		default:
			n, err := b.f.Read(rxBytes)
			if errors.Is(err, syscall.EAGAIN) {
				continue
			}
			if n != SocketCANFrameSize || err != nil {
				b.logger.Info("exiting CAN bus reception", "error", err)
				return
			}
			raw := (*canFrame)(unsafe.Pointer(&rxBytes[0]))
			frame := cantp.Frame{
				ID:   raw.id &^ canEFFFlag,
				DLC:  raw.dlc,
				Data: raw.data,
				Ext:  raw.id&canEFFFlag != 0,
			}
			if b.rxCallback != nil {
				b.rxCallback.Handle(frame)
			}
		}
	}
}

// Subscribe implementation of cantp.Bus.
func (b *Bus) Subscribe(rxCallback cantp.FrameListener) error {
	b.rxCallback = rxCallback
	return nil
}

// SetReceiveOwn enables CAN_RAW_RECV_OWN_MSGS, useful for single-process
// loopback testing against a vcan interface.
func (b *Bus) SetReceiveOwn(enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	b.logger.Info("setting option 'CAN_RAW_RECV_OWN_MSGS'", "fd", b.fd, "enabled", enabled)
	return unix.SetsockoptInt(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, enabledInt)
}

// SetFilters installs kernel-side arbitration ID filters.
func (b *Bus) SetFilters(filters []unix.CanFilter) error {
	b.logger.Info("setting option 'CAN_RAW_FILTER'", "fd", b.fd, "filters", filters)
	return unix.SetsockoptCanRawFilter(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters)
}

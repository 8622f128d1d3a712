//go:build linux

package canfd

import (
	"context"
	"errors"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// pollTimeoutMs bounds each poll(2) so context cancellation is observed.
const pollTimeoutMs = 10

// socketCAN implements Bus over a Linux SocketCAN raw socket with CAN FD
// frames enabled.
type socketCAN struct {
	fd     int
	file   *os.File
	closed chan struct{}
}

// DialSocketCAN opens a raw CAN socket bound to the given interface name
// (e.g., "can0") and enables CAN FD frames on it. The interface must have an
// FD capable MTU for FD frames to be sent.
func DialSocketCAN(iface string) (Bus, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, err
	}
	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	// Non-blocking so Send and Receive can observe their context.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	f := os.NewFile(uintptr(fd), "socketcan")
	return &socketCAN{fd: fd, file: f, closed: make(chan struct{})}, nil
}

func (s *socketCAN) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	// Closing file also closes the fd
	return s.file.Close()
}

// wait blocks until the socket is ready for events, the context ends or the
// socket is closed.
func (s *socketCAN) wait(ctx context.Context, events int16) error {
	for {
		select {
		case <-s.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
		n, err := unix.Poll(fds, pollTimeoutMs)
		if err != nil && !errors.Is(err, unix.EINTR) {
			return err
		}
		if n > 0 {
			return nil
		}
	}
}

// Send writes one frame using the can_frame or canfd_frame layout.
func (s *socketCAN) Send(ctx context.Context, frame Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	for {
		n, werr := unix.Write(s.fd, buf)
		if werr == nil {
			if n != len(buf) {
				return errors.New("canfd: short write")
			}
			return nil
		}
		if !errors.Is(werr, unix.EAGAIN) {
			return werr
		}
		if err := s.wait(ctx, unix.POLLOUT); err != nil {
			return err
		}
	}
}

// Receive reads one frame, classic or FD.
func (s *socketCAN) Receive(ctx context.Context) (Frame, error) {
	buf := make([]byte, canfdMTU)
	for {
		n, rerr := unix.Read(s.fd, buf)
		if rerr == nil {
			var f Frame
			if err := f.UnmarshalBinary(buf[:n]); err != nil {
				return Frame{}, err
			}
			return f, nil
		}
		if !errors.Is(rerr, unix.EAGAIN) {
			return Frame{}, rerr
		}
		if err := s.wait(ctx, unix.POLLIN); err != nil {
			return Frame{}, err
		}
	}
}

//go:build linux

package canfd

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"
)

// Interface helpers for SocketCAN network devices. Changing flags or
// link parameters requires CAP_NET_ADMIN.

func interfaceFlags(name string) (uint16, error) {
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return 0, fmt.Errorf("canfd: invalid interface name %q: %w", name, err)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	defer unix.Close(fd)
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return 0, err
	}
	return ifr.Uint16(), nil
}

func setInterfaceFlags(name string, flags uint16) error {
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return fmt.Errorf("canfd: invalid interface name %q: %w", name, err)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	ifr.SetUint16(flags)
	return unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr)
}

// IsInterfaceUp reports whether the interface has IFF_UP set.
func IsInterfaceUp(name string) (bool, error) {
	flags, err := interfaceFlags(name)
	if err != nil {
		return false, err
	}
	return flags&unix.IFF_UP != 0, nil
}

// SetInterfaceUp sets IFF_UP on the interface.
func SetInterfaceUp(name string) error {
	flags, err := interfaceFlags(name)
	if err != nil {
		return err
	}
	if flags&unix.IFF_UP != 0 {
		return nil
	}
	return RequireCapNetAdmin(setInterfaceFlags(name, flags|unix.IFF_UP))
}

// SetInterfaceDown clears IFF_UP on the interface.
func SetInterfaceDown(name string) error {
	flags, err := interfaceFlags(name)
	if err != nil {
		return err
	}
	if flags&unix.IFF_UP == 0 {
		return nil
	}
	return RequireCapNetAdmin(setInterfaceFlags(name, flags&^unix.IFF_UP))
}

// RequireCapNetAdmin wraps EPERM with a hint about the missing capability.
func RequireCapNetAdmin(err error) error {
	if errors.Is(err, unix.EPERM) {
		return fmt.Errorf("operation requires CAP_NET_ADMIN (or root): %w", err)
	}
	return err
}

// LinkOptions are the CAN FD link parameters applied through iproute2.
// Zero fields are left unchanged. The link must be down.
type LinkOptions struct {
	Bitrate     uint32 // arbitration phase, bit/s
	DataBitrate uint32 // data phase, bit/s; also turns FD on
	RestartMs   *uint32
	TxQueueLen  int
}

func (o LinkOptions) args(name string) []string {
	args := []string{"link", "set", "dev", name, "type", "can"}
	if o.Bitrate != 0 {
		args = append(args, "bitrate", strconv.FormatUint(uint64(o.Bitrate), 10))
	}
	if o.DataBitrate != 0 {
		args = append(args, "dbitrate", strconv.FormatUint(uint64(o.DataBitrate), 10), "fd", "on")
	}
	if o.RestartMs != nil {
		args = append(args, "restart-ms", strconv.FormatUint(uint64(*o.RestartMs), 10))
	}
	return args
}

// ConfigureLink applies opts to a SocketCAN interface using the ip command.
func ConfigureLink(name string, opts LinkOptions) error {
	if _, err := unix.NewIfreq(name); err != nil {
		return fmt.Errorf("canfd: invalid interface name %q: %w", name, err)
	}
	if opts.TxQueueLen != 0 {
		out, err := exec.Command("ip", "link", "set", "dev", name, "txqueuelen", strconv.Itoa(opts.TxQueueLen)).CombinedOutput()
		if err != nil {
			return RequireCapNetAdmin(fmt.Errorf("ip link set txqueuelen: %w; output: %s", err, out))
		}
	}
	args := opts.args(name)
	if len(args) == 6 {
		return nil
	}
	if out, err := exec.Command("ip", args...).CombinedOutput(); err != nil {
		return RequireCapNetAdmin(fmt.Errorf("ip link set type can: %w; output: %s", err, out))
	}
	return nil
}

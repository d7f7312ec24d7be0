// Package netutil builds and tunes raw sockets the way the rest of this
// toolkit expects: non-blocking, Nagle disabled, optionally kernel
// timestamped. Grounded on original_source/src/socket_utils.cpp, ported to
// golang.org/x/sys/unix so every setsockopt/fcntl call is the same syscall
// the original issued — net.Dial's abstractions would hide the knobs the
// rest of the toolkit (tcpsock, tcpserver) needs direct access to.
package netutil

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/momentics/llcore/logging"
)

// MaxTCPServerBacklog mirrors the original's listen() backlog constant.
const MaxTCPServerBacklog = 1024

// SocketConfig describes the socket CreateSocket is asked to build.
type SocketConfig struct {
	IP               string // numeric host, or "" to resolve Iface's address
	Iface            string
	Port             int
	UDP              bool
	Blocking         bool
	Listening        bool
	TTL              int
	NeedsSOTimestamp bool
}

// IfaceIP returns the first IPv4 address bound to iface, or "" if none is
// found. The original walks getifaddrs itself; no pack library wraps that
// syscall, and net.InterfaceAddrs is the stdlib's direct equivalent, so this
// one call is implemented on the standard library rather than bouncing
// through unix.Getifaddrs's far more verbose link-layer decoding.
func IfaceIP(iface string) string {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return ""
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// SetNonBlocking puts fd into O_NONBLOCK mode.
func SetNonBlocking(fd int) error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	if flags&unix.O_NONBLOCK != 0 {
		return nil
	}
	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK)
	return err
}

// SetNoDelay disables Nagle's algorithm on a TCP socket.
func SetNoDelay(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

// WouldBlock reports whether err is the non-blocking "try again" family of
// errors a caller should treat as transient, not a real failure.
func WouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINPROGRESS
}

// SetTTL sets a unicast socket's IP TTL.
func SetTTL(fd, ttl int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, ttl)
}

// SetMcastTTL sets a multicast socket's IP_MULTICAST_TTL.
func SetMcastTTL(fd, ttl int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, ttl)
}

// SetSOTimestamp requests SO_TIMESTAMP ancillary data on received
// datagrams/segments, giving tcpsock a kernel-stamped receive time.
func SetSOTimestamp(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1)
}

func isMulticastHost(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsMulticast()
}

// CreateSocket builds, tunes, and (for a listener) binds/listens a socket
// per cfg, logging the requested configuration and any failed step through
// l as the original logged through its Logger. It returns the new fd, or an error describing the
// first failed step.
func CreateSocket(l *logging.Logger, cfg SocketConfig) (int, error) {
	ip := cfg.IP
	if ip == "" {
		ip = IfaceIP(cfg.Iface)
	}
	l.Log("netutil.CreateSocket ip:% iface:% port:% is_udp:% is_blocking:% is_listening:% ttl:%\n",
		ip, cfg.Iface, int32(cfg.Port), boolElement(cfg.UDP), boolElement(cfg.Blocking), boolElement(cfg.Listening), int32(cfg.TTL))

	domain := unix.AF_INET
	socktype := unix.SOCK_STREAM
	proto := unix.IPPROTO_TCP
	if cfg.UDP {
		socktype = unix.SOCK_DGRAM
		proto = unix.IPPROTO_UDP
	}

	fd, err := unix.Socket(domain, socktype, proto)
	if err != nil {
		l.Log("socket() failed. err:%\n", err.Error())
		return -1, fmt.Errorf("netutil: socket: %w", err)
	}

	if !cfg.Blocking {
		if err := SetNonBlocking(fd); err != nil {
			unix.Close(fd)
			l.Log("setNonBlocking() failed. err:%\n", err.Error())
			return -1, fmt.Errorf("netutil: set non-blocking: %w", err)
		}
		if !cfg.UDP {
			if err := SetNoDelay(fd); err != nil {
				unix.Close(fd)
				l.Log("setNoDelay() failed. err:%\n", err.Error())
				return -1, fmt.Errorf("netutil: set no-delay: %w", err)
			}
		}
	}

	if cfg.NeedsSOTimestamp {
		if err := SetSOTimestamp(fd); err != nil {
			unix.Close(fd)
			l.Log("setSOTimestamp() failed. err:%\n", err.Error())
			return -1, fmt.Errorf("netutil: set SO_TIMESTAMP: %w", err)
		}
	}

	addr := &unix.SockaddrInet4{Port: cfg.Port}
	if ip != "" {
		parsed := net.ParseIP(ip).To4()
		if parsed == nil {
			unix.Close(fd)
			return -1, fmt.Errorf("netutil: invalid IPv4 address %q", ip)
		}
		copy(addr.Addr[:], parsed)
	}

	if cfg.Listening {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			l.Log("setsockopt() SO_REUSEADDR failed. err:%\n", err.Error())
			return -1, fmt.Errorf("netutil: SO_REUSEADDR: %w", err)
		}
		if err := unix.Bind(fd, addr); err != nil {
			unix.Close(fd)
			l.Log("bind() failed. err:%\n", err.Error())
			return -1, fmt.Errorf("netutil: bind: %w", err)
		}
		if !cfg.UDP {
			if err := unix.Listen(fd, MaxTCPServerBacklog); err != nil {
				unix.Close(fd)
				l.Log("listen() failed. err:%\n", err.Error())
				return -1, fmt.Errorf("netutil: listen: %w", err)
			}
		}
	} else {
		err := unix.Connect(fd, addr)
		if err != nil && !WouldBlock(err) {
			unix.Close(fd)
			l.Log("connect() failed. err:%\n", err.Error())
			return -1, fmt.Errorf("netutil: connect: %w", err)
		}
	}

	if cfg.UDP && cfg.TTL != 0 {
		var ttlErr error
		if isMulticastHost(ip) {
			ttlErr = SetMcastTTL(fd, cfg.TTL)
		} else {
			ttlErr = SetTTL(fd, cfg.TTL)
		}
		if ttlErr != nil {
			unix.Close(fd)
			l.Log("setTTL() failed. err:%\n", ttlErr.Error())
			return -1, fmt.Errorf("netutil: set TTL: %w", ttlErr)
		}
	}

	return fd, nil
}

func boolElement(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Package tcpserver is the toolkit's edge-triggered, non-blocking TCP
// acceptor and poller: one epoll instance fans incoming readiness events
// out to a set of tcpsock.Socket connections, feeding each into its
// SendAndRecv. Grounded on original_source/src/tcp_server.hpp.
//
// Two corrections from the spec's Open Questions are applied here: the
// EPOLLOUT readiness check uses a bitwise AND (the original used a logical
// && against EPOLLOUT, which is truthy for any nonzero event mask and so
// misfires on every event, not just writability), and disconnected-socket
// eviction is drained through a FIFO queue rather than a slice scanned with
// find+erase on every poll.
package tcpserver

import (
	"fmt"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/momentics/llcore/clock"
	"github.com/momentics/llcore/logging"
	"github.com/momentics/llcore/netutil"
	"github.com/momentics/llcore/tcpsock"
)

const maxEventsCap = 1024

// Server accepts connections on a listening socket and polls every
// accepted connection, plus the listener itself, through a single epoll
// instance.
type Server struct {
	epfd     int
	listener *tcpsock.Socket

	byFd map[int]*tcpsock.Socket // fd -> socket, looked up per epoll event (teacher's reactor keys callbacks by fd rather than stuffing a pointer into epoll_event.data)

	sockets       []*tcpsock.Socket
	receiveReady  []*tcpsock.Socket
	sendReady     []*tcpsock.Socket
	disconnectedQ *queue.Queue // of *tcpsock.Socket, drained at the top of Poll

	RecvCallback         tcpsock.RecvCallback
	RecvFinishedCallback func()

	logger *logging.Logger
	events [maxEventsCap]unix.EpollEvent
}

// ServerOption customizes a Server at construction, following the
// teacher's server/options.go functional-options shape.
type ServerOption func(*Server)

// WithRecvCallback overrides the callback installed on every accepted
// socket in place of DefaultRecvCallback.
func WithRecvCallback(cb tcpsock.RecvCallback) ServerOption {
	return func(s *Server) { s.RecvCallback = cb }
}

// WithRecvFinishedCallback overrides the per-tick callback fired once after
// any socket receives data, in place of DefaultRecvFinishedCallback.
func WithRecvFinishedCallback(fn func()) ServerOption {
	return func(s *Server) { s.RecvFinishedCallback = fn }
}

// New builds a Server that logs through l and whose sockets default to
// bufferSize-byte send/recv buffers, then applies opts.
func New(l *logging.Logger, bufferSize int, opts ...ServerOption) *Server {
	s := &Server{
		epfd:          -1,
		byFd:          make(map[int]*tcpsock.Socket),
		disconnectedQ: queue.New(),
		logger:        l,
	}
	s.listener = tcpsock.NewSocket(l, bufferSize)
	s.RecvCallback = s.DefaultRecvCallback
	s.RecvFinishedCallback = s.DefaultRecvFinishedCallback
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultRecvCallback logs each receive the way the original's
// TCPServer::defaultRecvCallback did.
func (s *Server) DefaultRecvCallback(sock *tcpsock.Socket, rxTime int64) {
	var buf []byte
	s.logger.Log("tcpserver.DefaultRecvCallback time:% socket:% rx:%\n", clock.FormatNow(&buf), int32(sock.Fd()), rxTime)
}

// DefaultRecvFinishedCallback logs once per SendAndRecv call in which at
// least one socket produced data.
func (s *Server) DefaultRecvFinishedCallback() {
	var buf []byte
	s.logger.Log("tcpserver.DefaultRecvFinishedCallback time:%\n", clock.FormatNow(&buf))
}

// Destroy closes the epoll fd and the listening socket, leaving the Server
// ready for another Listen call.
func (s *Server) Destroy() {
	if s.epfd != -1 {
		unix.Close(s.epfd)
		s.epfd = -1
	}
	s.listener.Destroy()
}

func (s *Server) epollAdd(sock *tcpsock.Socket) error {
	ev := unix.EpollEvent{Events: unix.EPOLLET | unix.EPOLLIN, Fd: int32(sock.Fd())}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, sock.Fd(), &ev); err != nil {
		return err
	}
	s.byFd[sock.Fd()] = sock
	return nil
}

func (s *Server) epollDel(sock *tcpsock.Socket) error {
	delete(s.byFd, sock.Fd())
	return unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, sock.Fd(), nil)
}

// Listen creates the epoll instance, binds and listens on iface:port, and
// registers the listener socket for read readiness.
func (s *Server) Listen(iface string, port int) error {
	s.Destroy()
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("tcpserver: epoll_create1: %w", err)
	}
	s.epfd = epfd

	if err := s.listener.Connect("", iface, port, true); err != nil {
		return fmt.Errorf("tcpserver: listener connect: %w", err)
	}
	if err := s.epollAdd(s.listener); err != nil {
		return fmt.Errorf("tcpserver: epoll_ctl add listener: %w", err)
	}
	return nil
}

// del removes sock from epoll and from every tracking slice, and closes its
// fd — the original leaks it here (no destructor reaches a heap TCPSocket
// once erased from every vector), but Go has no finalizer to rely on.
func (s *Server) del(sock *tcpsock.Socket) {
	s.epollDel(sock)
	s.sockets = removeSocket(s.sockets, sock)
	s.receiveReady = removeSocket(s.receiveReady, sock)
	s.sendReady = removeSocket(s.sendReady, sock)
	sock.Destroy()
}

func removeSocket(list []*tcpsock.Socket, target *tcpsock.Socket) []*tcpsock.Socket {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func containsSocket(list []*tcpsock.Socket, target *tcpsock.Socket) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

// Poll drains pending disconnections, waits (non-blocking) for epoll
// events, classifies each socket as receive-ready/send-ready/disconnected,
// and accepts any pending new connections on the listener.
func (s *Server) Poll() {
	for s.disconnectedQ.Length() > 0 {
		sock := s.disconnectedQ.Remove().(*tcpsock.Socket)
		s.del(sock)
	}

	maxEvents := len(s.sockets) + 1
	if maxEvents > maxEventsCap {
		maxEvents = maxEventsCap
	}
	n, err := unix.EpollWait(s.epfd, s.events[:maxEvents], 0)
	if err != nil {
		return
	}

	haveNewConnection := false
	var buf []byte

	for i := 0; i < n; i++ {
		ev := &s.events[i]
		sock, ok := s.byFd[int(ev.Fd)]
		if !ok {
			continue
		}

		if ev.Events&unix.EPOLLIN != 0 {
			if sock == s.listener {
				s.logger.Log("tcpserver.Poll time:% EPOLLIN listener_socket:%\n", clock.FormatNow(&buf), int32(sock.Fd()))
				haveNewConnection = true
			} else {
				s.logger.Log("tcpserver.Poll time:% EPOLLIN socket:%\n", clock.FormatNow(&buf), int32(sock.Fd()))
				if !containsSocket(s.receiveReady, sock) {
					s.receiveReady = append(s.receiveReady, sock)
				}
			}
		}

		if ev.Events&unix.EPOLLOUT != 0 {
			s.logger.Log("tcpserver.Poll time:% EPOLLOUT socket:%\n", clock.FormatNow(&buf), int32(sock.Fd()))
			if !containsSocket(s.sendReady, sock) {
				s.sendReady = append(s.sendReady, sock)
			}
		}

		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			s.logger.Log("tcpserver.Poll time:% EPOLLERR socket:%\n", clock.FormatNow(&buf), int32(sock.Fd()))
			s.disconnectedQ.Add(sock)
		}
	}

	for haveNewConnection {
		s.logger.Log("tcpserver.Poll time:% have_new_connection\n", clock.FormatNow(&buf))
		fd, _, err := unix.Accept(s.listener.Fd())
		if err != nil {
			break
		}
		if err := netutil.SetNonBlocking(fd); err != nil {
			unix.Close(fd)
			break
		}
		if err := netutil.SetNoDelay(fd); err != nil {
			unix.Close(fd)
			break
		}
		s.logger.Log("tcpserver.Poll time:% accepted socket:%\n", clock.FormatNow(&buf), int32(fd))

		sock := tcpsock.NewSocket(s.logger, len(s.listener.SendBuf()))
		sock.AdoptFd(fd)
		sock.RecvCallback = s.RecvCallback
		if err := s.epollAdd(sock); err != nil {
			unix.Close(fd)
			break
		}
		if !containsSocket(s.sockets, sock) {
			s.sockets = append(s.sockets, sock)
		}
		if !containsSocket(s.receiveReady, sock) {
			s.receiveReady = append(s.receiveReady, sock)
		}
	}
}

// SendAndRecv drives SendAndRecv on every receive-ready socket, then on
// every send-ready socket, firing RecvFinishedCallback once if any
// receive-ready socket produced data this round.
func (s *Server) SendAndRecv() {
	recv := false
	for _, sock := range s.receiveReady {
		if sock.SendAndRecv() {
			recv = true
		}
	}
	if recv && s.RecvFinishedCallback != nil {
		s.RecvFinishedCallback()
	}
	for _, sock := range s.sendReady {
		sock.SendAndRecv()
	}
}

package tcpsock

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/llcore/logging"
)

func newTestPair(t *testing.T) (listenFd int, client *Socket, l *logging.Logger) {
	t.Helper()
	l = logging.New(filepath.Join(t.TempDir(), "log.txt"))
	t.Cleanup(func() { l.Close() })

	lfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	t.Cleanup(func() { unix.Close(lfd) })
	if err := unix.Bind(lfd, &unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := unix.Listen(lfd, 16); err != nil {
		t.Fatalf("listen: %v", err)
	}
	sa, err := unix.Getsockname(lfd)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	port := sa.(*unix.SockaddrInet4).Port

	client = NewSocket(l, 4096)
	if err := client.Connect("127.0.0.1", "", port, false); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return lfd, client, l
}

func TestSendQueuesBytesWithinCapacity(t *testing.T) {
	l := logging.New(filepath.Join(t.TempDir(), "log.txt"))
	defer l.Close()
	s := NewSocket(l, 16)
	s.Send([]byte("hello"))
	if s.sendValidLen != 5 {
		t.Fatalf("sendValidLen = %d, want 5", s.sendValidLen)
	}
}

func TestSendOverCapacityPanics(t *testing.T) {
	l := logging.New(filepath.Join(t.TempDir(), "log.txt"))
	defer l.Close()
	s := NewSocket(l, 4)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on send buffer overrun")
		}
	}()
	s.Send([]byte("too long"))
}

func TestConnectAndExchangeBytes(t *testing.T) {
	lfd, client, _ := newTestPair(t)

	// Accept the client's connection.
	deadline := time.Now().Add(time.Second)
	var acceptedFd int
	for {
		fd, _, err := unix.Accept(lfd)
		if err == nil {
			acceptedFd = fd
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("accept timed out: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	defer unix.Close(acceptedFd)

	client.Send([]byte("ping"))
	client.SendAndRecv()

	recvBuf := make([]byte, 16)
	deadline = time.Now().Add(time.Second)
	var n int
	var err error
	for {
		n, err = unix.Read(acceptedFd, recvBuf)
		if err == nil && n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("read timed out: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if string(recvBuf[:n]) != "ping" {
		t.Fatalf("got %q, want %q", recvBuf[:n], "ping")
	}
}

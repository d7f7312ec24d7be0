package tcpserver

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/llcore/logging"
	"github.com/momentics/llcore/tcpsock"
)

func TestListenAcceptsAndReceivesClientBytes(t *testing.T) {
	l := logging.New(filepath.Join(t.TempDir(), "log.txt"))
	defer l.Close()

	srv := New(l, 4096)
	if err := srv.Listen("", 0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Destroy()

	sa, err := unix.Getsockname(srv.listener.Fd())
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	port := sa.(*unix.SockaddrInet4).Port

	received := make(chan string, 1)
	srv.RecvCallback = func(sock *tcpsock.Socket, _ int64) {
		// no-op until the connection is accepted; replaced below.
	}
	srv.RecvFinishedCallback = func() {}

	client := tcpsock.NewSocket(l, 4096)
	if err := client.Connect("127.0.0.1", "", port, false); err != nil {
		t.Fatalf("client Connect: %v", err)
	}

	client.Send([]byte("hello"))
	client.SendAndRecv()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		srv.Poll()
		if len(srv.sockets) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(srv.sockets) == 0 {
		t.Fatal("server never accepted the client connection")
	}

	var gotCallback string
	srv.RecvCallback = func(sock *tcpsock.Socket, _ int64) {
		gotCallback = "called"
	}
	for _, sock := range srv.sockets {
		sock.RecvCallback = srv.RecvCallback
	}

	for time.Now().Before(deadline) {
		srv.Poll()
		srv.SendAndRecv()
		if gotCallback != "" {
			received <- gotCallback
			break
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case <-received:
	default:
		t.Fatal("server never observed the client's bytes")
	}
}

func TestTwoClientsBothReceiveCallbacks(t *testing.T) {
	l := logging.New(filepath.Join(t.TempDir(), "log.txt"))
	defer l.Close()

	srv := New(l, 4096)
	if err := srv.Listen("", 0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Destroy()

	sa, err := unix.Getsockname(srv.listener.Fd())
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	port := sa.(*unix.SockaddrInet4).Port

	finishedCount := 0
	srv.RecvFinishedCallback = func() { finishedCount++ }

	clientA := tcpsock.NewSocket(l, 4096)
	clientB := tcpsock.NewSocket(l, 4096)
	if err := clientA.Connect("127.0.0.1", "", port, false); err != nil {
		t.Fatalf("client A Connect: %v", err)
	}
	if err := clientB.Connect("127.0.0.1", "", port, false); err != nil {
		t.Fatalf("client B Connect: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(srv.sockets) < 2 {
		srv.Poll()
		time.Sleep(time.Millisecond)
	}
	if len(srv.sockets) != 2 {
		t.Fatalf("expected 2 accepted sockets, got %d", len(srv.sockets))
	}

	seen := make(map[int32]string)
	srv.RecvCallback = func(sock *tcpsock.Socket, _ int64) {
		seen[int32(sock.Fd())] = string(sock.PeekRecv())
	}
	for _, sock := range srv.sockets {
		sock.RecvCallback = srv.RecvCallback
	}

	clientA.Send([]byte("A1"))
	clientA.SendAndRecv()
	clientB.Send([]byte("B1"))
	clientB.SendAndRecv()

	for time.Now().Before(deadline) && len(seen) < 2 {
		srv.Poll()
		srv.SendAndRecv()
		time.Sleep(time.Millisecond)
	}

	if len(seen) != 2 {
		t.Fatalf("expected both sockets to have produced a recv callback, got %d", len(seen))
	}
	found := map[string]bool{}
	for _, v := range seen {
		found[v] = true
	}
	if !found["A1"] || !found["B1"] {
		t.Fatalf("expected payloads A1 and B1, got %v", seen)
	}
	if finishedCount == 0 {
		t.Fatal("expected RecvFinishedCallback to fire at least once")
	}
}

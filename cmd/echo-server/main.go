// Command echo-server is a minimal edge-triggered TCP echo server built on
// tcpserver, demonstrating the toolkit's end-to-end path: netutil opens the
// listening socket, tcpserver polls it via epoll, tcpsock moves bytes, and
// logging records every step off the hot path.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/llcore/logging"
	"github.com/momentics/llcore/tcpserver"
	"github.com/momentics/llcore/tcpsock"
)

func main() {
	iface := flag.String("iface", "lo", "interface to listen on")
	port := flag.Int("port", 9090, "port to listen on")
	logPath := flag.String("log", "echo-server.log", "path to write the async log")
	flag.Parse()

	l := logging.New(*logPath)
	defer l.Close()

	srv := tcpserver.New(l, 1<<20)
	srv.RecvCallback = func(sock *tcpsock.Socket, rxTime int64) {
		pending := sock.PeekRecv()
		sock.Send(pending)
		sock.ConsumeRecv(len(pending))
	}

	if err := srv.Listen(*iface, *port); err != nil {
		fmt.Fprintf(os.Stderr, "echo-server: listen: %v\n", err)
		os.Exit(1)
	}
	defer srv.Destroy()

	fmt.Printf("echo-server listening on %s:%d\n", *iface, *port)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			return
		default:
			srv.Poll()
			srv.SendAndRecv()
			time.Sleep(100 * time.Microsecond)
		}
	}
}

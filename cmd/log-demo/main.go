// Command log-demo exercises the async logger directly: it pushes a mix of
// typed values through Log and plain byte streams through PushString, then
// closes the logger so every caller can see the drainer catch up.
package main

import (
	"flag"
	"fmt"

	"github.com/momentics/llcore/logging"
)

func main() {
	path := flag.String("log", "log-demo.log", "path to write the async log")
	flag.Parse()

	l := logging.New(*path)

	for i := 0; i < 10; i++ {
		l.Log("iteration=% value=%\n", int32(i), float64(i)*1.5)
	}
	l.PushString("done\n")

	if err := l.Close(); err != nil {
		fmt.Printf("log-demo: close failed: %v\n", err)
		return
	}
	fmt.Printf("log-demo: wrote to %s\n", *path)
}

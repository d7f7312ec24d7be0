package affinity

import (
	"testing"
	"time"
)

func TestSpawnThreadRunsAndJoins(t *testing.T) {
	ran := make(chan struct{})
	th := SpawnThread(-1, "test-thread", func() {
		close(ran)
	})
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("spawned thread never ran")
	}
	th.Join()
}

package realtime

import (
	"sync"
	"testing"
)

func TestEnqueue_ConcurrentWithCloseSendNeverPanics(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := testClient("race", TierFree)
		c.send = make(chan []byte, 1)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.enqueue([]byte("x"))
			}
		}()
		go func() {
			defer wg.Done()
			c.closeSend()
		}()
		wg.Wait()

		// Enqueue after close is a silent no-op.
		c.enqueue([]byte("late"))
	}
}

func TestCloseSend_Idempotent(t *testing.T) {
	c := testClient("twice", TierFree)
	c.closeSend()
	c.closeSend()

	if _, ok := <-c.send; ok {
		t.Fatalf("send channel should be closed and drained")
	}
}

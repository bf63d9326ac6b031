package logstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueOrDropFillsAvailableCapacity(t *testing.T) {
	queue := make(chan []byte, 2)

	sent, dropped := enqueueOrDrop(queue, []byte("a"))
	assert.True(t, sent)
	assert.False(t, dropped)

	sent, dropped = enqueueOrDrop(queue, []byte("b"))
	assert.True(t, sent)
	assert.False(t, dropped)

	assert.Equal(t, []byte("a"), <-queue)
	assert.Equal(t, []byte("b"), <-queue)
}

func TestEnqueueOrDropEvictsOldestWhenFull(t *testing.T) {
	queue := make(chan []byte, 1)
	queue <- []byte("stale")

	sent, dropped := enqueueOrDrop(queue, []byte("fresh"))

	assert.True(t, sent)
	assert.True(t, dropped)
	assert.Equal(t, []byte("fresh"), <-queue)
}

func TestEnqueueOrDropNeverBlocks(t *testing.T) {
	queue := make(chan []byte) // unbuffered, nobody reading

	done := make(chan struct{})
	go func() {
		enqueueOrDrop(queue, []byte("x"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueueOrDrop blocked with no reader present")
	}
}

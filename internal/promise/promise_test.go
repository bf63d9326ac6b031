package promise

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFireDeliversToWaiterRegisteredBefore(t *testing.T) {
	s := New()
	ch := s.Get()
	s.Fire(Result{Value: 42})

	select {
	case r := <-ch:
		assert.Equal(t, 42, r.Value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestGetAfterFireDeliversImmediately(t *testing.T) {
	s := New()
	s.Fire(Result{Err: errors.New("boom")})

	r := <-s.Get()
	require.Error(t, r.Err)
	assert.Equal(t, "boom", r.Err.Error())
}

func TestFireIsIdempotent(t *testing.T) {
	s := New()
	s.Fire(Result{Value: "first"})
	s.Fire(Result{Value: "second"})

	r := <-s.Get()
	assert.Equal(t, "first", r.Value)
}

func TestFiredReportsState(t *testing.T) {
	s := New()
	assert.False(t, s.Fired())
	s.Fire(Result{})
	assert.True(t, s.Fired())
}

func TestMultipleWaitersAllReceive(t *testing.T) {
	s := New()
	ch1 := s.Get()
	ch2 := s.Get()
	s.Fire(Result{Value: "broadcast"})

	assert.Equal(t, "broadcast", (<-ch1).Value)
	assert.Equal(t, "broadcast", (<-ch2).Value)
}

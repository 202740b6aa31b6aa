package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(Config{Threshold: threshold, Cooldown: cooldown})
	b.now = clock.now
	return b, clock
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, Closed, b.State())
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestBreaker_Lifecycle(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, Closed, b.State())
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())

	clock.advance(time.Minute)
	assert.True(t, b.Allow(), "probe allowed after cooldown")
	assert.Equal(t, HalfOpen, b.State())
	assert.False(t, b.Allow(), "only one probe in flight")

	b.RecordFailure()
	assert.Equal(t, Open, b.State())

	clock.advance(time.Minute)
	require.True(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestBreaker_Do(t *testing.T) {
	errBoom := errors.New("boom")
	errClient := errors.New("client error")

	b, _ := newTestBreaker(1, time.Hour)
	countable := func(err error) bool { return !errors.Is(err, errClient) }

	err := b.Do(func() error { return errClient }, countable)
	assert.ErrorIs(t, err, errClient)
	assert.Equal(t, Closed, b.State())

	err = b.Do(func() error { return errBoom }, countable)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, Open, b.State())

	called := false
	err = b.Do(func() error { called = true; return nil }, countable)
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Config{Threshold: 1, Cooldown: time.Hour})

	a := r.Get("p1")
	assert.Same(t, a, r.Get("p1"))
	a.RecordFailure()
	r.Get("p2")

	stats := r.Stats()
	assert.Equal(t, Stats{Total: 2, Open: 1, Closed: 1}, stats)

	r.Remove("p1")
	assert.Equal(t, Closed, r.Get("p1").State())
}

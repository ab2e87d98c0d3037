package failure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterExceededAtThreshold(t *testing.T) {
	for _, max := range []int{1, 3, 6} {
		c := NewCounter(CategoryBearer, max)
		for k := 1; k < max; k++ {
			c.Increment()
			assert.False(t, c.Exceeded(), "max=%d after %d increments", max, k)
		}
		c.Increment()
		assert.True(t, c.Exceeded(), "max=%d after %d increments", max, max)

		// Further increments keep it exceeded.
		c.Increment()
		assert.True(t, c.Exceeded())
	}
}

func TestCounterSaturates(t *testing.T) {
	c := NewCounter(CategoryFix, 3)
	for i := 0; i < 10; i++ {
		c.Increment()
	}
	assert.Equal(t, 3, c.Count())
	assert.Equal(t, 3, c.Increment())
}

func TestCounterResetInterleaved(t *testing.T) {
	c := NewCounter(CategoryCycle, 2)
	c.Increment()
	c.Increment()
	require.True(t, c.Exceeded())

	c.Reset()
	assert.Equal(t, 0, c.Count())
	assert.False(t, c.Exceeded())

	c.Increment()
	assert.False(t, c.Exceeded())
	c.Increment()
	assert.True(t, c.Exceeded())
}

func TestCounterIncrementReturnsCount(t *testing.T) {
	c := NewCounter(CategoryFix, 5)
	var got []int
	for i := 0; i < 4; i++ {
		got = append(got, c.Increment())
	}
	c.Reset()
	got = append(got, c.Count())
	assert.Equal(t, []int{1, 2, 3, 4, 0}, got)
}

func TestCounterMinimumThreshold(t *testing.T) {
	c := NewCounter(CategoryHandshake, 0)
	assert.Equal(t, 1, c.Max())
	assert.False(t, c.Exceeded())
	c.Increment()
	assert.True(t, c.Exceeded())
}

func TestCounterString(t *testing.T) {
	c := NewCounter(CategoryBearer, 6)
	c.Increment()
	assert.Equal(t, "cellular-bearer 1/6", c.String())
}

func TestDeviceStateIndependentCategories(t *testing.T) {
	s := NewDeviceState(Thresholds{Bearer: 6, Handshake: 5, Fix: 10, Delivery: 3, Cycle: 4}, []string{"local", "mqtt"})

	s.Bearer.Increment()
	s.Bearer.Increment()
	s.Fix.Increment()
	s.Delivery["mqtt"].Increment()

	s.Fix.Reset()

	assert.Equal(t, 2, s.Bearer.Count())
	assert.Equal(t, 0, s.Fix.Count())
	assert.Equal(t, 1, s.Delivery["mqtt"].Count())
	assert.Equal(t, 0, s.Delivery["local"].Count())
	assert.Equal(t, 0, s.Cycle.Count())
}

func TestDeviceStateSnapshot(t *testing.T) {
	s := NewDeviceState(Thresholds{Bearer: 6, Handshake: 5, Fix: 10, Delivery: 3, Cycle: 4}, []string{"local", "http"})
	s.Handshake.Increment()
	s.Delivery["http"].Increment()

	want := map[string]int{
		"cellular-bearer": 0,
		"link-handshake":  1,
		"fix-acquisition": 0,
		"cycle":           0,
		"delivery/local":  0,
		"delivery/http":   1,
	}
	assert.Equal(t, want, s.Snapshot())
}

func TestDeviceStateDeliveryCounterLazy(t *testing.T) {
	s := NewDeviceState(Thresholds{Bearer: 1, Handshake: 1, Fix: 1, Delivery: 3, Cycle: 1}, nil)
	c := s.DeliveryCounter("extra", 2)
	require.NotNil(t, c)
	assert.Same(t, c, s.DeliveryCounter("extra", 9))
	assert.Equal(t, 2, c.Max())
	assert.Contains(t, s.Snapshot(), "delivery/extra")
}

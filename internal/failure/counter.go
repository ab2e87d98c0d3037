// Package failure holds the escalation counters of the tracker.
// This package has NO external dependencies (no modem, MQTT, OS, or time.Sleep).
package failure

import "fmt"

// Category names the stage a failure is charged to.
type Category string

const (
	CategoryBearer    Category = "cellular-bearer"
	CategoryHandshake Category = "link-handshake"
	CategoryFix       Category = "fix-acquisition"
	CategoryDelivery  Category = "delivery"
	CategoryCycle     Category = "cycle"
)

// Counter is a saturating failure counter with a fixed threshold.
// Not safe for concurrent use; the control loop is its only writer.
type Counter struct {
	category Category
	count    int
	max      int
}

// NewCounter creates a counter that is exceeded once it reaches max.
// A max below 1 is treated as 1.
func NewCounter(category Category, max int) *Counter {
	if max < 1 {
		max = 1
	}
	return &Counter{category: category, max: max}
}

// Increment records one failure and returns the new count.
// The count saturates at max.
func (c *Counter) Increment() int {
	if c.count < c.max {
		c.count++
	}
	return c.count
}

// Reset brings the count back to zero.
func (c *Counter) Reset() {
	c.count = 0
}

// Exceeded reports whether the count has reached the threshold.
func (c *Counter) Exceeded() bool {
	return c.count >= c.max
}

// Count returns the current count.
func (c *Counter) Count() int {
	return c.count
}

// Max returns the threshold.
func (c *Counter) Max() int {
	return c.max
}

// Category returns the category the counter belongs to.
func (c *Counter) Category() Category {
	return c.category
}

func (c *Counter) String() string {
	return fmt.Sprintf("%s %d/%d", c.category, c.count, c.max)
}

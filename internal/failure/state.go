package failure

// Thresholds holds the configured maximum for each category.
type Thresholds struct {
	Bearer    int
	Handshake int
	Fix       int
	Delivery  int
	Cycle     int
}

// DeviceState aggregates every counter of one device generation.
// It is rebuilt from zero on every restart and never shared between generations.
type DeviceState struct {
	Bearer    *Counter
	Handshake *Counter
	Fix       *Counter
	Cycle     *Counter

	// Delivery holds one counter per sink, keyed by sink name.
	Delivery map[string]*Counter

	sinks []string
}

// NewDeviceState creates all counters at zero.
func NewDeviceState(t Thresholds, sinks []string) *DeviceState {
	s := &DeviceState{
		Bearer:    NewCounter(CategoryBearer, t.Bearer),
		Handshake: NewCounter(CategoryHandshake, t.Handshake),
		Fix:       NewCounter(CategoryFix, t.Fix),
		Cycle:     NewCounter(CategoryCycle, t.Cycle),
		Delivery:  make(map[string]*Counter, len(sinks)),
		sinks:     append([]string(nil), sinks...),
	}
	for _, name := range sinks {
		s.Delivery[name] = NewCounter(CategoryDelivery, t.Delivery)
	}
	return s
}

// DeliveryCounter returns the counter for the named sink, creating it with
// the given threshold if the sink was not known at construction time.
func (s *DeviceState) DeliveryCounter(sink string, max int) *Counter {
	if c, ok := s.Delivery[sink]; ok {
		return c
	}
	c := NewCounter(CategoryDelivery, max)
	s.Delivery[sink] = c
	s.sinks = append(s.sinks, sink)
	return c
}

// Snapshot returns the current counts keyed by category, with delivery
// counters keyed as "delivery/<sink>".
func (s *DeviceState) Snapshot() map[string]int {
	m := map[string]int{
		string(CategoryBearer):    s.Bearer.Count(),
		string(CategoryHandshake): s.Handshake.Count(),
		string(CategoryFix):       s.Fix.Count(),
		string(CategoryCycle):     s.Cycle.Count(),
	}
	for _, name := range s.sinks {
		m[string(CategoryDelivery)+"/"+name] = s.Delivery[name].Count()
	}
	return m
}

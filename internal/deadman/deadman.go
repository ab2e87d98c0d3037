// Package deadman provides the software deadman timer that guards every
// blocking stage of the tracker.
//
// The supervisor must be kicked within its armed window. If it is not, the
// expiry handler runs exactly once; in production that handler exits the
// process so the service manager restarts it from scratch.
package deadman

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Default windows.
const (
	DefaultWindow = 8 * time.Second
	ConnectWindow = 21 * time.Second
)

// Notifier mirrors supervisor activity to an external watchdog.
type Notifier interface {
	Armed(window time.Duration)
	Kicked()
	Disarmed()
}

// ExpireFunc is called from the timer goroutine when the window elapses.
type ExpireFunc func(window time.Duration)

// Supervisor is a re-armable deadman timer. Safe for concurrent use.
type Supervisor struct {
	mu       sync.Mutex
	window   time.Duration
	armed    bool
	fired    bool
	gen      uint64
	timer    *time.Timer
	onExpire ExpireFunc
	notifier Notifier
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithNotifier forwards arm/kick/disarm to n.
func WithNotifier(n Notifier) Option {
	return func(s *Supervisor) { s.notifier = n }
}

// New creates a disarmed supervisor.
func New(onExpire ExpireFunc, opts ...Option) *Supervisor {
	s := &Supervisor{onExpire: onExpire}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Arm starts (or restarts) the countdown with the given window.
func (s *Supervisor) Arm(window time.Duration) {
	s.mu.Lock()
	s.window = window
	s.armed = true
	s.restartLocked()
	n := s.notifier
	s.mu.Unlock()

	if n != nil {
		n.Armed(window)
	}
}

// Kick restarts the countdown with the current window.
// Kicking a disarmed supervisor only forwards the kick to the notifier.
func (s *Supervisor) Kick() {
	s.mu.Lock()
	if s.armed {
		s.restartLocked()
	}
	n := s.notifier
	s.mu.Unlock()

	if n != nil {
		n.Kicked()
	}
}

// Disarm stops the countdown.
func (s *Supervisor) Disarm() {
	s.mu.Lock()
	s.armed = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	n := s.notifier
	s.mu.Unlock()

	if n != nil {
		n.Disarmed()
	}
}

// Armed reports whether the countdown is running.
func (s *Supervisor) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Window returns the last armed window.
func (s *Supervisor) Window() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// Fired reports whether the expiry handler has run.
func (s *Supervisor) Fired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

func (s *Supervisor) restartLocked() {
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	window := s.window
	s.timer = time.AfterFunc(window, func() { s.expire(gen, window) })
}

func (s *Supervisor) expire(gen uint64, window time.Duration) {
	s.mu.Lock()
	if gen != s.gen || !s.armed || s.fired {
		s.mu.Unlock()
		return
	}
	s.fired = true
	s.armed = false
	fn := s.onExpire
	s.mu.Unlock()

	log.WithField("window", window).Error("deadman expired, forcing restart")
	if fn != nil {
		fn(window)
	}
}

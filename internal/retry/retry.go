// Package retry implements the fixed-interval retry loop shared by every
// stage of the tracking cycle.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/gps-tracker/internal/failure"
)

// Action is what the caller must do once a retry budget is spent.
type Action int

const (
	// ActionSkip abandons the remaining stages of the current cycle.
	ActionSkip Action = iota
	// ActionRestart forces a full device restart.
	ActionRestart
)

func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionRestart:
		return "restart"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Policy describes one stage's retry behaviour.
type Policy struct {
	// Interval is the fixed delay between attempts.
	Interval time.Duration
	// Unbounded retries forever; the counter (if any) still records failures
	// but exhaustion is never reported.
	Unbounded bool
	// OnExhausted is reported in the ExhaustedError.
	OnExhausted Action
	// BackOff overrides the interval source. Nil means a constant Interval.
	BackOff backoff.BackOff
}

func (p Policy) backOff() backoff.BackOff {
	if p.BackOff != nil {
		return p.BackOff
	}
	return backoff.NewConstantBackOff(p.Interval)
}

// ExhaustedError reports that a category's retry budget is spent.
type ExhaustedError struct {
	Category failure.Category
	Action   Action
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("%s exhausted after %d attempts (%s)", e.Category, e.Attempts, e.Action)
	}
	return fmt.Sprintf("%s exhausted after %d attempts (%s): %v", e.Category, e.Attempts, e.Action, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// AsExhausted returns the ExhaustedError in err's chain, if any.
func AsExhausted(err error) (*ExhaustedError, bool) {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}

// IsRestart reports whether err demands a full device restart.
func IsRestart(err error) bool {
	ex, ok := AsExhausted(err)
	return ok && ex.Action == ActionRestart
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the production Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrier runs operations under a Policy.
type Retrier struct {
	// Sleep waits between attempts. Nil means Sleep.
	Sleep Sleeper
	// Kick, if set, is called immediately before and after every attempt.
	Kick func()
}

// Do calls op until it succeeds or the policy gives up.
//
// Every failed attempt increments counter; a success resets it. When the
// counter is exceeded on a bounded policy, Do returns an *ExhaustedError.
// The counter stays saturated until the category's next success, so a
// later call that fails again exhausts after a single attempt.
// counter may be nil only for unbounded policies.
func (r Retrier) Do(ctx context.Context, p Policy, counter *failure.Counter, op func(context.Context) error) error {
	if counter == nil && !p.Unbounded {
		return errors.New("retry: bounded policy needs a counter")
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	bo := p.backOff()
	bo.Reset()

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.kick()
		err := op(ctx)
		r.kick()
		attempts++

		if err == nil {
			if counter != nil {
				counter.Reset()
			}
			return nil
		}

		if counter != nil {
			n := counter.Increment()
			log.WithFields(log.Fields{
				"category": counter.Category(),
				"count":    n,
				"max":      counter.Max(),
			}).Printf("attempt failed: %v", err)

			if !p.Unbounded && counter.Exceeded() {
				return &ExhaustedError{
					Category: counter.Category(),
					Action:   p.OnExhausted,
					Attempts: attempts,
					Last:     err,
				}
			}
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			if counter == nil {
				return fmt.Errorf("retry: backoff stopped: %w", err)
			}
			return &ExhaustedError{
				Category: counter.Category(),
				Action:   p.OnExhausted,
				Attempts: attempts,
				Last:     err,
			}
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r Retrier) kick() {
	if r.Kick != nil {
		r.Kick()
	}
}

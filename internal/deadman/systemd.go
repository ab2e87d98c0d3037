package deadman

import (
	"fmt"
	"time"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
)

// SystemdNotifier forwards supervisor activity to the systemd watchdog.
// Outside a watchdog-enabled unit every call is a no-op.
type SystemdNotifier struct {
	// Hold is the watchdog timeout announced while disarmed, so that a long
	// inter-cycle sleep is not mistaken for a hang by systemd.
	Hold time.Duration

	notify func(state string) (bool, error)
}

// NewSystemdNotifier creates a notifier using sd_notify.
func NewSystemdNotifier(hold time.Duration) *SystemdNotifier {
	return &SystemdNotifier{
		Hold: hold,
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
}

// Ready tells systemd the service finished starting.
func (n *SystemdNotifier) Ready() {
	n.send(daemon.SdNotifyReady)
}

// Armed announces the new window and pings.
func (n *SystemdNotifier) Armed(window time.Duration) {
	n.send(watchdogUsec(window))
	n.send(daemon.SdNotifyWatchdog)
}

// Kicked pings the watchdog.
func (n *SystemdNotifier) Kicked() {
	n.send(daemon.SdNotifyWatchdog)
}

// Disarmed widens the watchdog timeout to Hold.
func (n *SystemdNotifier) Disarmed() {
	if n.Hold <= 0 {
		return
	}
	n.send(watchdogUsec(n.Hold))
	n.send(daemon.SdNotifyWatchdog)
}

func (n *SystemdNotifier) send(state string) {
	if _, err := n.notify(state); err != nil {
		log.Printf("sdnotify %q: %v", state, err)
	}
}

func watchdogUsec(d time.Duration) string {
	return fmt.Sprintf("WATCHDOG_USEC=%d", d.Microseconds())
}
